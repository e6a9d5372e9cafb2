package solver

import "vrpnav/internal/graph"

// Improve2Opt applies intra-route 2-opt segment reversals to each route,
// accepting a reversal only when it shortens the route and every time window
// still holds. The depot endpoints are fixed.
func Improve2Opt(g *graph.Graph, routes [][]string, depotID string, capacity float64, iterations int) [][]string {
	if iterations <= 0 {
		iterations = 1
	}
	out := make([][]string, len(routes))
	for ri, route := range routes {
		best := append([]string(nil), route...)
		bestDist := routeDistance(g, best)
		n := len(best)
		for it := 0; it < iterations; it++ {
			improved := false
			for i := 1; i < n-2; i++ {
				for k := i + 1; k < n-1; k++ {
					cand := twoOptSwap(best, i, k)
					if !routeFeasible(g, cand, depotID, capacity) {
						continue
					}
					if d := routeDistance(g, cand); d+1e-9 < bestDist {
						best = cand
						bestDist = d
						improved = true
					}
				}
			}
			if !improved {
				break
			}
		}
		out[ri] = best
	}
	return out
}

func twoOptSwap(route []string, i, k int) []string {
	out := make([]string, len(route))
	copy(out, route[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = route[j]
		pos++
	}
	copy(out[pos:], route[k+1:])
	return out
}

func routeDistance(g *graph.Graph, route []string) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += graph.Tau(g.Nodes[route[i]], g.Nodes[route[i+1]])
	}
	return total
}

func routeFeasible(g *graph.Graph, route []string, depotID string, capacity float64) bool {
	if len(route) < 2 {
		return true
	}
	depot := g.Nodes[depotID]
	now := depot.Ready
	load := 0.0
	for i := 0; i < len(route)-1; i++ {
		from := g.Nodes[route[i]]
		to := g.Nodes[route[i+1]]
		if to.ID != depotID {
			load += to.Demand
			if load > capacity {
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
