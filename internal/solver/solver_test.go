package solver

import (
	"math"
	"testing"

	"vrpnav/internal/graph"
)

// depot at the origin plus two customers in a line; a single vehicle can
// serve both within their windows.
func lineGraph() *graph.Graph {
	g := graph.New()
	g.AddNode(graph.NewNode("D", 0, 0, 0, 0, 100, 0))
	g.AddNode(graph.NewNode("A", 5, 0, 1, 0, 10, 10))
	g.AddNode(graph.NewNode("B", 10, 0, 2, 3, 15, 10))
	ids := []string{"D", "A", "B"}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			_ = g.AddEdge(ids[i], ids[j], graph.Tau(g.Nodes[ids[i]], g.Nodes[ids[j]]))
		}
	}
	return g
}

func assertRoute(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("route: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("route: got %v want %v", got, want)
		}
	}
}

func TestGreedySingleVehicle(t *testing.T) {
	s := &Greedy{Graph: lineGraph(), DepotID: "D", Capacity: 100}
	routes := s.Solve()
	if len(routes) != 1 {
		t.Fatalf("routes: got %d want 1", len(routes))
	}
	assertRoute(t, routes[0], []string{"D", "A", "B", "D"})
}

func TestGreedySplitsOnCapacity(t *testing.T) {
	s := &Greedy{Graph: lineGraph(), DepotID: "D", Capacity: 10}
	routes := s.Solve()
	if len(routes) != 2 {
		t.Fatalf("routes: got %d want 2: %v", len(routes), routes)
	}
	served := map[string]bool{}
	for _, r := range routes {
		if r[0] != "D" || r[len(r)-1] != "D" {
			t.Fatalf("route must start and end at depot: %v", r)
		}
		for _, id := range r[1 : len(r)-1] {
			served[id] = true
		}
	}
	if !served["A"] || !served["B"] {
		t.Fatalf("not all customers served: %v", routes)
	}
}

func TestGreedyStopsWhenUnreachable(t *testing.T) {
	g := graph.New()
	g.AddNode(graph.NewNode("D", 0, 0, 0, 0, 100, 0))
	g.AddNode(graph.NewNode("A", 50, 0, 0, 0, 10, 1)) // window closes before arrival
	_ = g.AddEdge("D", "A", 50)
	s := &Greedy{Graph: g, DepotID: "D", Capacity: 100}
	routes := s.Solve()
	// one empty dispatch, then give up
	if len(routes) != 1 || len(routes[0]) != 2 {
		t.Fatalf("routes: %v", routes)
	}
}

func TestSavingsMergesIntoOneRoute(t *testing.T) {
	s := &Savings{Graph: lineGraph(), DepotID: "D", Capacity: 100}
	routes := s.Solve()
	if len(routes) != 1 {
		t.Fatalf("routes: got %d want 1: %v", len(routes), routes)
	}
	assertRoute(t, routes[0], []string{"D", "A", "B", "D"})
}

func TestSavingsRespectsCapacity(t *testing.T) {
	s := &Savings{Graph: lineGraph(), DepotID: "D", Capacity: 10}
	routes := s.Solve()
	if len(routes) != 2 {
		t.Fatalf("routes: got %d want 2: %v", len(routes), routes)
	}
	for _, r := range routes {
		load := 0.0
		for _, id := range r[1 : len(r)-1] {
			load += s.Graph.Nodes[id].Demand
		}
		if load > 10 {
			t.Fatalf("route exceeds capacity: %v", r)
		}
	}
}

func TestEvaluateKnownRoute(t *testing.T) {
	g := lineGraph()
	m := Evaluate(g, [][]string{{"D", "A", "B", "D"}}, "D", 100)
	if math.Abs(m.TotalDistance-20) > 1e-9 {
		t.Fatalf("distance: got %v want 20", m.TotalDistance)
	}
	if m.TotalServiceTime != 3 {
		t.Fatalf("service: got %v want 3", m.TotalServiceTime)
	}
	if m.TotalWaitingTime != 0 {
		t.Fatalf("waiting: got %v want 0", m.TotalWaitingTime)
	}
	if m.TimeWindowViolations != 0 || m.CapacityViolations != 0 || !m.Feasible {
		t.Fatalf("expected feasible: %+v", m)
	}
	if m.Vehicles != 1 || m.TotalDemandServed != 20 {
		t.Fatalf("vehicles/demand: %+v", m)
	}
	// depart depot 0, arrive A 5, leave 6, arrive B 11, leave 13, arrive depot 23
	if math.Abs(m.TotalRouteDuration-23) > 1e-9 {
		t.Fatalf("duration: got %v want 23", m.TotalRouteDuration)
	}
}

func TestEvaluateCountsViolations(t *testing.T) {
	g := lineGraph()
	// reversed visiting order arrives at A after its window closes
	m := Evaluate(g, [][]string{{"D", "B", "A", "D"}}, "D", 100)
	if m.TimeWindowViolations == 0 || m.Feasible {
		t.Fatalf("expected time window violation: %+v", m)
	}
	m = Evaluate(g, [][]string{{"D", "A", "B", "D"}}, "D", 15)
	if m.CapacityViolations == 0 || m.Feasible {
		t.Fatalf("expected capacity violation: %+v", m)
	}
}

func TestEvaluateEmpty(t *testing.T) {
	g := lineGraph()
	m := Evaluate(g, nil, "D", 100)
	if m.Vehicles != 0 || m.Feasible {
		t.Fatalf("empty: %+v", m)
	}
}

func TestImprove2OptShortensRoute(t *testing.T) {
	g := graph.New()
	g.AddNode(graph.NewNode("D", 0, 0, 0, 0, 1000, 0))
	g.AddNode(graph.NewNode("A", 1, 0, 0, 0, 1000, 1))
	g.AddNode(graph.NewNode("B", 2, 0, 0, 0, 1000, 1))
	g.AddNode(graph.NewNode("C", 3, 0, 0, 0, 1000, 1))
	before := [][]string{{"D", "B", "A", "C", "D"}}
	after := Improve2Opt(g, before, "D", 100, 50)
	if routeDistance(g, after[0]) > routeDistance(g, before[0]) {
		t.Fatalf("2-opt made the route longer: %v -> %v", before[0], after[0])
	}
	m := Evaluate(g, after, "D", 100)
	if !m.Feasible {
		t.Fatalf("2-opt broke feasibility: %+v", m)
	}
}

func TestImprove2OptKeepsFeasibility(t *testing.T) {
	g := lineGraph()
	routes := [][]string{{"D", "A", "B", "D"}}
	improved := Improve2Opt(g, routes, "D", 100, 20)
	m := Evaluate(g, improved, "D", 100)
	if !m.Feasible {
		t.Fatalf("improved route infeasible: %v", improved)
	}
}
