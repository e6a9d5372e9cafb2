// Package solver builds and evaluates vehicle tours on a VRPTW graph. The
// construction heuristics return routes only; Evaluate is the single place
// feasibility and cost metrics are computed.
package solver

import "vrpnav/internal/graph"

// Metrics aggregates feasibility and cost over a set of routes.
type Metrics struct {
	TotalDistance        float64 `json:"totalDistance"`
	TotalServiceTime     float64 `json:"totalServiceTime"`
	TotalWaitingTime     float64 `json:"totalWaitingTime"`
	TotalRouteDuration   float64 `json:"totalRouteDuration"`
	TimeWindowViolations int     `json:"timeWindowViolations"`
	CapacityViolations   int     `json:"capacityViolations"`
	Feasible             bool    `json:"feasible"`
	Vehicles             int     `json:"vehicles"`
	TotalDemandServed    float64 `json:"totalDemandServed"`
}

// Evaluate simulates each route from the depot's window open, accumulating
// distance, waiting and service time and counting capacity and time-window
// violations. Routes shorter than two stops are skipped.
func Evaluate(g *graph.Graph, routes [][]string, depotID string, capacity float64) Metrics {
	m := Metrics{Vehicles: len(routes)}
	if len(routes) == 0 {
		return m
	}
	m.Feasible = true
	depot := g.Nodes[depotID]
	for _, route := range routes {
		if len(route) < 2 {
			continue
		}
		now := depot.Ready
		load := 0.0
		for i := 0; i < len(route)-1; i++ {
			from := g.Nodes[route[i]]
			to := g.Nodes[route[i+1]]

			if to.ID != depotID {
				load += to.Demand
				if load > capacity {
					m.CapacityViolations++
					m.Feasible = false
				}
			}

			travel := graph.Tau(from, to)
			m.TotalDistance += travel
			arrival := now + travel
			start := arrival
			if to.Ready > start {
				start = to.Ready
			}
			if start > to.Due {
				m.TimeWindowViolations++
				m.Feasible = false
			}
			m.TotalWaitingTime += start - arrival
			now = start + to.Service
			if to.ID != depotID {
				m.TotalServiceTime += to.Service
				m.TotalDemandServed += to.Demand
			}
		}
		m.TotalRouteDuration += now
	}
	return m
}
