// Package coarsen shrinks a CVRPTW customer graph into fewer super-nodes
// while preserving capacity and time-window feasibility, and losslessly
// expands routes over the coarse graph back to the original customers.
package coarsen

import (
	"fmt"
	"math"
	"sort"

	"vrpnav/internal/graph"
)

// Order is the visiting order recorded for a merged pair.
type Order int

const (
	// LeftThenRight serves the record's Left node before Right.
	LeftThenRight Order = iota
	// RightThenLeft serves Right before Left.
	RightThenLeft
)

func (o Order) String() string {
	if o == RightThenLeft {
		return "right-then-left"
	}
	return "left-then-right"
}

// MergeRecord captures one merge. Records are append-only and replayed in
// reverse chronological order during inflation so a super-node built from
// other super-nodes expands recursively.
type MergeRecord struct {
	SuperID string `json:"superId"`
	Left    string `json:"left"`
	Right   string `json:"right"`
	Order   Order  `json:"order"`
}

// Config holds the coarsening parameters. All fields are required.
type Config struct {
	Alpha          float64 // spatial weight, >= 0
	Beta           float64 // temporal weight, >= 0
	TargetFraction float64 // stop when nodes <= fraction * original count, in (0,1]
	RadiusCoeff    float64 // per-level eligibility breadth, >= 0
	DepotID        string
}

func (c Config) validate(g *graph.Graph) error {
	if c.Alpha < 0 {
		return fmt.Errorf("coarsen: alpha must be >= 0, got %v", c.Alpha)
	}
	if c.Beta < 0 {
		return fmt.Errorf("coarsen: beta must be >= 0, got %v", c.Beta)
	}
	if c.TargetFraction <= 0 || c.TargetFraction > 1 {
		return fmt.Errorf("coarsen: target fraction must be in (0,1], got %v", c.TargetFraction)
	}
	if c.RadiusCoeff < 0 {
		return fmt.Errorf("coarsen: radius coefficient must be >= 0, got %v", c.RadiusCoeff)
	}
	if _, ok := g.Nodes[c.DepotID]; !ok {
		return fmt.Errorf("coarsen: depot %q not in graph", c.DepotID)
	}
	return nil
}

// Stats summarizes a finished run.
type Stats struct {
	Levels        int `json:"levels"`
	Merges        int `json:"merges"`
	OriginalNodes int `json:"originalNodes"`
	CoarseNodes   int `json:"coarseNodes"`
}

// Coarsener owns a private deep copy of the input graph and mutates only
// that copy. One instance performs one run; its merge history then drives
// InflateRoutes.
type Coarsener struct {
	cfg     Config
	work    *graph.Graph
	base    map[string]struct{} // node ids of the input graph
	history []MergeRecord
	stats   Stats
	ran     bool

	// OnLevel, when set, is invoked after each completed level with the
	// level number, the merges performed and the remaining node count.
	OnLevel func(level, merges, nodes int)
}

// New validates the configuration and snapshots the caller's graph. The
// caller's graph is never mutated.
func New(g *graph.Graph, cfg Config) (*Coarsener, error) {
	if err := cfg.validate(g); err != nil {
		return nil, err
	}
	base := make(map[string]struct{}, len(g.Nodes))
	for id := range g.Nodes {
		base[id] = struct{}{}
	}
	return &Coarsener{cfg: cfg, work: g.Clone(), base: base}, nil
}

// History returns the merge records accumulated so far, oldest first.
func (c *Coarsener) History() []MergeRecord { return c.history }

// Stats returns the run summary. Valid after Coarsen returns.
func (c *Coarsener) Stats() Stats { return c.stats }

type pendingMerge struct {
	left, right string
	order       Order
	ready, due  float64
	demand      float64
}

// Coarsen runs score -> threshold -> match -> merge levels until the node
// count reaches TargetFraction of the original, or a level yields no merges.
// The result is the engine-private coarse graph and the full merge history.
// Deterministic for identical input graph and parameters.
func (c *Coarsener) Coarsen() (*graph.Graph, []MergeRecord) {
	if c.ran {
		return c.work, c.history
	}
	c.ran = true
	n0 := c.work.NodeCount()
	c.stats.OriginalNodes = n0
	target := c.cfg.TargetFraction * float64(n0)

	level := 0
	for float64(c.work.NodeCount()) > target {
		level++
		pending := c.selectLevel()
		if len(pending) == 0 {
			// No progress possible; a clean exit, not an error.
			break
		}
		c.commitLevel(pending)
		c.stats.Levels = level
		c.stats.Merges += len(pending)
		if c.OnLevel != nil {
			c.OnLevel(level, len(pending), c.work.NodeCount())
		}
	}
	c.stats.CoarseNodes = c.work.NodeCount()
	return c.work, c.history
}

// selectLevel scores every edge, derives the eligibility threshold and picks
// a maximal conflict-free matching of mergeable pairs, greedily by ascending
// score. The depot never participates.
func (c *Coarsener) selectLevel() []pendingMerge {
	g := c.work
	if g.EdgeCount() == 0 {
		return nil
	}
	for _, e := range g.Edges {
		e.Score = edgeScore(c.cfg.Alpha, c.cfg.Beta, g.Nodes[e.U], g.Nodes[e.V], e.Tau)
	}
	sorted := append([]*graph.Edge(nil), g.Edges...)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Score != sorted[b].Score {
			return sorted[a].Score < sorted[b].Score
		}
		if sorted[a].U != sorted[b].U {
			return sorted[a].U < sorted[b].U
		}
		return sorted[a].V < sorted[b].V
	})

	rank := int(math.Floor(0.1 * float64(len(sorted)) * c.cfg.RadiusCoeff))
	if rank > len(sorted)-1 {
		rank = len(sorted) - 1
	}
	rho := sorted[rank].Score

	used := map[string]struct{}{c.cfg.DepotID: {}}
	var pending []pendingMerge
	for _, e := range sorted {
		if e.Score > rho {
			break
		}
		if _, ok := used[e.U]; ok {
			continue
		}
		if _, ok := used[e.V]; ok {
			continue
		}
		ni, nj := g.Nodes[e.U], g.Nodes[e.V]
		ij, ji := feasibleOrders(ni, nj, e.Tau)
		if !ij && !ji {
			// Routinely infeasible pair; both endpoints stay available.
			continue
		}
		order, _ := chooseOrder(ni, nj, e.Tau, ij, ji)
		first, second := ni, nj
		if order == RightThenLeft {
			first, second = nj, ni
		}
		ready, due := tightenWindow(first, second, e.Tau)
		if ready > due {
			// Tightening produced an empty window; treat as infeasible.
			continue
		}
		pending = append(pending, pendingMerge{
			left:   e.U,
			right:  e.V,
			order:  order,
			ready:  ready,
			due:    due,
			demand: ni.Demand + nj.Demand,
		})
		used[e.U] = struct{}{}
		used[e.V] = struct{}{}
	}
	return pending
}

// commitLevel materializes the level's merges: each pair becomes a super-node
// at the coordinate midpoint carrying summed demand and service time and the
// tightened window, reconnected to the union of its constituents' neighbors.
// A neighbor consumed by an earlier merge in the same level is forwarded to
// its replacement super-node so connectivity survives within the level.
func (c *Coarsener) commitLevel(pending []pendingMerge) {
	g := c.work
	replaced := map[string]string{}
	for _, pm := range pending {
		left, right := g.Nodes[pm.left], g.Nodes[pm.right]
		first, second := left, right
		if pm.order == RightThenLeft {
			first, second = right, left
		}
		members := make([]string, 0, len(first.Members)+len(second.Members))
		members = append(members, first.Members...)
		members = append(members, second.Members...)

		super := graph.NewSuperNode(
			fmt.Sprintf("SN_%s_%s", pm.left, pm.right),
			(left.X+right.X)/2, (left.Y+right.Y)/2,
			left.Service+right.Service,
			pm.ready, pm.due,
			pm.demand,
			members,
		)
		g.AddNode(super)

		c.reconnect(super, left, right, replaced)
		c.history = append(c.history, MergeRecord{
			SuperID: super.ID,
			Left:    pm.left,
			Right:   pm.right,
			Order:   pm.order,
		})
		g.RemoveNode(pm.left)
		g.RemoveNode(pm.right)
		replaced[pm.left] = super.ID
		replaced[pm.right] = super.ID
	}
}

// reconnect links the super-node to the surviving neighbors of both
// constituents with fresh Euclidean edges. The constituents themselves and
// the depot are excluded; a neighbor already merged this level is resolved
// through the replacement map.
func (c *Coarsener) reconnect(super, left, right *graph.Node, replaced map[string]string) {
	g := c.work
	seen := map[string]struct{}{}
	for _, nb := range append(g.Neighbors(left.ID), g.Neighbors(right.ID)...) {
		if nb == left.ID || nb == right.ID || nb == super.ID || nb == c.cfg.DepotID {
			continue
		}
		for {
			rep, ok := replaced[nb]
			if !ok {
				break
			}
			nb = rep
		}
		if nb == super.ID {
			continue
		}
		if _, dup := seen[nb]; dup {
			continue
		}
		seen[nb] = struct{}{}
		target, ok := g.Nodes[nb]
		if !ok {
			continue
		}
		_ = g.AddEdge(super.ID, nb, graph.Tau(super, target))
	}
}

// InflateRoutes expands routes over the coarse graph back into routes over
// original node ids, preserving the recorded visiting order. It is a pure
// structural expansion; no feasibility is re-checked. A node id that is
// neither an original node nor resolvable through the merge history is an
// error: routes from an inconsistent coarsening run must not be silently
// truncated.
func (c *Coarsener) InflateRoutes(routes [][]string) ([][]string, error) {
	out := make([][]string, len(routes))
	for i, r := range routes {
		out[i] = append([]string(nil), r...)
	}
	for i := len(c.history) - 1; i >= 0; i-- {
		rec := c.history[i]
		pair := [2]string{rec.Left, rec.Right}
		if rec.Order == RightThenLeft {
			pair = [2]string{rec.Right, rec.Left}
		}
		for ri, route := range out {
			expanded := false
			for _, id := range route {
				if id == rec.SuperID {
					expanded = true
					break
				}
			}
			if !expanded {
				continue
			}
			next := make([]string, 0, len(route)+1)
			for _, id := range route {
				if id == rec.SuperID {
					next = append(next, pair[0], pair[1])
				} else {
					next = append(next, id)
				}
			}
			out[ri] = next
		}
	}
	for _, route := range out {
		for _, id := range route {
			if _, ok := c.base[id]; !ok {
				return nil, fmt.Errorf("coarsen: route node %q is not an original node and has no merge record", id)
			}
		}
	}
	return out, nil
}
