package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vrpnav/internal/coarsen"
	"vrpnav/internal/graph"
	"vrpnav/internal/metrics"
	"vrpnav/internal/model"
	"vrpnav/internal/solver"
	"vrpnav/internal/webhooks"
)

// buildGraph materializes a stored instance as a complete Euclidean graph.
func buildGraph(inst model.Instance) *graph.Graph {
	g := graph.New()
	for _, n := range inst.Nodes {
		g.AddNode(graph.NewNode(n.ID, n.X, n.Y, n.Service, n.Ready, n.Due, n.Demand))
	}
	for i := 0; i < len(inst.Nodes); i++ {
		for j := i + 1; j < len(inst.Nodes); j++ {
			a, b := g.Nodes[inst.Nodes[i].ID], g.Nodes[inst.Nodes[j].ID]
			_ = g.AddEdge(a.ID, b.ID, graph.Tau(a, b))
		}
	}
	return g
}

// applyDefaults fills omitted request parameters from the service config and
// any tenant-level solver config saved by an admin.
func (s *Server) applyDefaults(ctx context.Context, req *model.SolveRequest) {
	d := s.Cfg.Solver
	if cfg, err := s.Store.GetSolverConfig(ctx, req.TenantID); err == nil && cfg != nil {
		if v, ok := cfg["algorithm"].(string); ok && v != "" {
			d.Algorithm = v
		}
		if v, ok := cfg["alpha"].(float64); ok {
			d.Alpha = v
		}
		if v, ok := cfg["beta"].(float64); ok {
			d.Beta = v
		}
		if v, ok := cfg["targetFraction"].(float64); ok {
			d.TargetFraction = v
		}
		if v, ok := cfg["radiusCoeff"].(float64); ok {
			d.RadiusCoeff = v
		}
		if v, ok := cfg["twoOptIterations"].(float64); ok {
			d.TwoOptIterations = int(v)
		}
	}
	if req.Algorithm == "" {
		req.Algorithm = d.Algorithm
	}
	if req.TwoOptIterations == 0 {
		req.TwoOptIterations = d.TwoOptIterations
	}
	if c := req.Coarsen; c != nil {
		if c.Alpha == 0 && c.Beta == 0 {
			c.Alpha, c.Beta = d.Alpha, d.Beta
		}
		if c.TargetFraction == 0 {
			c.TargetFraction = d.TargetFraction
		}
		if c.RadiusCoeff == 0 {
			c.RadiusCoeff = d.RadiusCoeff
		}
	}
}

// runSolve executes the coarsen -> solve -> inflate -> improve -> evaluate
// pipeline for one request. Progress events go to the broker under the run id.
func (s *Server) runSolve(ctx context.Context, req model.SolveRequest, inst model.Instance) (model.Run, error) {
	runID := "run_" + uuid.NewString()
	started := time.Now()
	run := model.Run{
		ID:         runID,
		TenantID:   req.TenantID,
		InstanceID: inst.ID,
		Algorithm:  req.Algorithm,
		Coarsen:    req.Coarsen,
		Status:     "completed",
		CreatedAt:  started.UTC().Format(time.RFC3339),
	}

	original := buildGraph(inst)
	work := original
	var c *coarsen.Coarsener

	s.Broker.Publish(runID, Event{Type: "solve.started", Data: map[string]any{
		"runId": runID, "instanceId": inst.ID, "algorithm": req.Algorithm,
	}})

	if req.Coarsen != nil {
		cc, err := coarsen.New(original, coarsen.Config{
			Alpha:          req.Coarsen.Alpha,
			Beta:           req.Coarsen.Beta,
			TargetFraction: req.Coarsen.TargetFraction,
			RadiusCoeff:    req.Coarsen.RadiusCoeff,
			DepotID:        inst.DepotID,
		})
		if err != nil {
			return run, err
		}
		cc.OnLevel = func(level, merges, nodes int) {
			metrics.CoarsenMerges.Add(float64(merges))
			s.Broker.Publish(runID, Event{Type: "coarsen.level", Data: map[string]any{
				"runId": runID, "level": level, "merges": merges, "nodes": nodes,
			}})
		}
		coarse, _ := cc.Coarsen()
		work = coarse
		c = cc
		st := cc.Stats()
		metrics.CoarsenLevels.Observe(float64(st.Levels))
		run.CoarsenStats = &model.CoarsenStats{
			Levels:        st.Levels,
			Merges:        st.Merges,
			OriginalNodes: st.OriginalNodes,
			CoarseNodes:   st.CoarseNodes,
		}
		for _, rec := range cc.History() {
			run.MergeHistory = append(run.MergeHistory, model.MergeRecordOut{
				SuperID: rec.SuperID,
				Left:    rec.Left,
				Right:   rec.Right,
				Order:   rec.Order.String(),
			})
		}
	}

	var routes [][]string
	switch req.Algorithm {
	case "savings":
		sv := &solver.Savings{Graph: work, DepotID: inst.DepotID, Capacity: inst.Capacity}
		routes = sv.Solve()
	default:
		gr := &solver.Greedy{Graph: work, DepotID: inst.DepotID, Capacity: inst.Capacity}
		routes = gr.Solve()
	}

	if c != nil {
		inflated, err := c.InflateRoutes(routes)
		if err != nil {
			return run, fmt.Errorf("inflate: %w", err)
		}
		routes = inflated
	}
	if req.TwoOptIterations > 0 {
		routes = solver.Improve2Opt(original, routes, inst.DepotID, inst.Capacity, req.TwoOptIterations)
	}

	m := solver.Evaluate(original, routes, inst.DepotID, inst.Capacity)
	run.Routes = routes
	run.Metrics = model.RunMetrics{
		TotalDistance:        m.TotalDistance,
		TotalServiceTime:     m.TotalServiceTime,
		TotalWaitingTime:     m.TotalWaitingTime,
		TotalRouteDuration:   m.TotalRouteDuration,
		TimeWindowViolations: m.TimeWindowViolations,
		CapacityViolations:   m.CapacityViolations,
		Feasible:             m.Feasible,
		Vehicles:             m.Vehicles,
		TotalDemandServed:    m.TotalDemandServed,
	}
	run.ElapsedMs = time.Since(started).Milliseconds()

	if err := s.Store.SaveRun(ctx, run); err != nil {
		return run, err
	}
	metrics.SolveDuration.WithLabelValues(req.Algorithm).Observe(time.Since(started).Seconds())
	s.Broker.Publish(runID, Event{Type: "solve.completed", Data: map[string]any{
		"runId": runID, "vehicles": m.Vehicles, "totalDistance": m.TotalDistance, "feasible": m.Feasible,
	}})
	s.Pub.Emit(ctx, req.TenantID, webhooks.EventRunCompleted, map[string]any{
		"runId":      runID,
		"instanceId": inst.ID,
		"algorithm":  req.Algorithm,
		"metrics":    run.Metrics,
		"elapsedMs":  run.ElapsedMs,
	})
	return run, nil
}
