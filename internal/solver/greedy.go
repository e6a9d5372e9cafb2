package solver

import (
	"sort"

	"vrpnav/internal/graph"
)

// Greedy is a nearest-feasible-neighbor construction heuristic. It dispatches
// vehicles one at a time; each vehicle repeatedly visits the closest unvisited
// customer whose time window and the remaining capacity allow service, then
// returns to the depot.
type Greedy struct {
	Graph    *graph.Graph
	DepotID  string
	Capacity float64
}

// Solve returns routes over the graph's node ids, each starting and ending at
// the depot. It never computes metrics; pass the result to Evaluate.
func (s *Greedy) Solve() [][]string {
	depot := s.Graph.Nodes[s.DepotID]
	unvisited := map[string]struct{}{}
	for id := range s.Graph.Nodes {
		if id != s.DepotID {
			unvisited[id] = struct{}{}
		}
	}

	var routes [][]string
	for len(unvisited) > 0 {
		route := []string{s.DepotID}
		cur := depot
		now := depot.Ready
		load := 0.0
		progressed := false

		for {
			next := s.closestFeasible(cur, now, load, unvisited)
			if next == nil {
				break
			}
			travel := graph.Tau(cur, next)
			start := now + travel
			if next.Ready > start {
				start = next.Ready
			}
			now = start + next.Service
			load += next.Demand
			route = append(route, next.ID)
			delete(unvisited, next.ID)
			cur = next
			progressed = true
		}

		route = append(route, s.DepotID)
		routes = append(routes, route)
		if !progressed {
			// A vehicle that cannot serve anyone means the remaining
			// customers are unreachable; stop dispatching.
			break
		}
	}
	return routes
}

func (s *Greedy) closestFeasible(cur *graph.Node, now, load float64, unvisited map[string]struct{}) *graph.Node {
	ids := make([]string, 0, len(unvisited))
	for id := range unvisited {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic scan order

	var best *graph.Node
	bestTravel := 0.0
	for _, id := range ids {
		cand := s.Graph.Nodes[id]
		if load+cand.Demand > s.Capacity {
			continue
		}
		travel := graph.Tau(cur, cand)
		start := now + travel
		if cand.Ready > start {
			start = cand.Ready
		}
		if start > cand.Due {
			continue
		}
		if best == nil || travel < bestTravel {
			best = cand
			bestTravel = travel
		}
	}
	return best
}
