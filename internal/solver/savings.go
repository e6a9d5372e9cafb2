package solver

import (
	"sort"

	"vrpnav/internal/graph"
)

// Savings implements Clarke-and-Wright route merging for VRPTW. Every
// customer starts on its own depot round trip; pairs are merged end-to-start
// in descending savings order while capacity and time windows hold.
type Savings struct {
	Graph    *graph.Graph
	DepotID  string
	Capacity float64
}

type saving struct {
	value float64
	i, j  string
}

// Solve returns routes over the graph's node ids. Metrics are the caller's
// concern; see Evaluate.
func (s *Savings) Solve() [][]string {
	depot := s.Graph.Nodes[s.DepotID]
	var customers []string
	for id := range s.Graph.Nodes {
		if id != s.DepotID {
			customers = append(customers, id)
		}
	}
	sort.Strings(customers)

	routes := map[string][]string{}
	owner := map[string]string{} // customer -> route key
	for _, id := range customers {
		routes[id] = []string{s.DepotID, id, s.DepotID}
		owner[id] = id
	}

	savings := s.computeSavings(customers, depot)
	merged := true
	for merged {
		merged = false
		for _, sv := range savings {
			ri, okI := owner[sv.i]
			rj, okJ := owner[sv.j]
			if !okI || !okJ || ri == rj {
				continue
			}
			a, b := routes[ri], routes[rj]

			// Merge is only allowed at route boundaries: i at the tail of
			// one route and j at the head of the other, or vice versa.
			if a[len(a)-2] == sv.i && b[1] == sv.j && s.mergeFeasible(a, b) {
				s.merge(routes, owner, ri, rj)
				merged = true
				break
			}
			if b[len(b)-2] == sv.j && a[1] == sv.i && s.mergeFeasible(b, a) {
				s.merge(routes, owner, rj, ri)
				merged = true
				break
			}
		}
	}

	keys := make([]string, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, routes[k])
	}
	return out
}

func (s *Savings) computeSavings(customers []string, depot *graph.Node) []saving {
	var out []saving
	for i := 0; i < len(customers); i++ {
		for j := i + 1; j < len(customers); j++ {
			ni := s.Graph.Nodes[customers[i]]
			nj := s.Graph.Nodes[customers[j]]
			v := graph.Tau(depot, ni) + graph.Tau(nj, depot) - graph.Tau(ni, nj)
			out = append(out, saving{value: v, i: customers[i], j: customers[j]})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].value > out[b].value })
	return out
}

// mergeFeasible simulates head's route followed by tail's customers and
// checks capacity, every window and the return to the depot.
func (s *Savings) mergeFeasible(head, tail []string) bool {
	candidate := append(append([]string(nil), head[:len(head)-1]...), tail[1:]...)
	depot := s.Graph.Nodes[s.DepotID]
	now := depot.Ready
	load := 0.0
	for k := 0; k < len(candidate)-1; k++ {
		from := s.Graph.Nodes[candidate[k]]
		to := s.Graph.Nodes[candidate[k+1]]
		if to.ID != s.DepotID {
			load += to.Demand
			if load > s.Capacity {
				return false
			}
		}
		start := now + graph.Tau(from, to)
		if to.Ready > start {
			start = to.Ready
		}
		if start > to.Due {
			return false
		}
		now = start + to.Service
	}
	return true
}

func (s *Savings) merge(routes map[string][]string, owner map[string]string, headKey, tailKey string) {
	head, tail := routes[headKey], routes[tailKey]
	combined := append(append([]string(nil), head[:len(head)-1]...), tail[1:]...)
	newKey := "R_" + head[len(head)-2] + "_" + tail[1]
	routes[newKey] = combined
	for _, id := range combined[1 : len(combined)-1] {
		owner[id] = newKey
	}
	delete(routes, headKey)
	delete(routes, tailKey)
}
