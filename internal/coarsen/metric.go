package coarsen

import "vrpnav/internal/graph"

// edgeScore is the spatio-temporal distance for an edge, directional per the
// stored endpoints (i = e.U, j = e.V):
//
//	D = alpha*tau + beta*max(0, e_j - (t_i + s_i + tau))
//
// The temporal term penalizes merges where serving i at its central time
// would arrive at j before j's window even opens. It is a scoring bias only;
// hard feasibility is decided by feasibleOrders.
func edgeScore(alpha, beta float64, i, j *graph.Node, tau float64) float64 {
	slack := j.Ready - (i.Central + i.Service + tau)
	if slack < 0 {
		slack = 0
	}
	return alpha*tau + beta*slack
}

// feasibleOrders reports whether serving the pair back-to-back respects the
// successor's window close in each direction: earliest completion at the
// predecessor plus travel must not exceed the successor's due time.
func feasibleOrders(i, j *graph.Node, tau float64) (ij, ji bool) {
	ij = i.Ready+i.Service+tau <= j.Due
	ji = j.Ready+j.Service+tau <= i.Due
	return
}

// directionSlack is the spare time for serving pred then succ: the latest
// allowable start at the successor minus the earliest completion-plus-travel
// at the predecessor.
func directionSlack(pred, succ *graph.Node, tau float64) float64 {
	return (succ.Due - succ.Service - tau) - (pred.Ready + pred.Service)
}

// chooseOrder picks the visiting order for a pair known to be feasible in at
// least one direction. When both directions work, the larger slack wins; ties
// keep i before j so the selection is deterministic.
func chooseOrder(i, j *graph.Node, tau float64, ij, ji bool) (Order, float64) {
	switch {
	case ij && !ji:
		return LeftThenRight, directionSlack(i, j, tau)
	case ji && !ij:
		return RightThenLeft, directionSlack(j, i, tau)
	}
	sij := directionSlack(i, j, tau)
	sji := directionSlack(j, i, tau)
	if sij >= sji {
		return LeftThenRight, sij
	}
	return RightThenLeft, sji
}

// tightenWindow derives the super-node's start window for the given visiting
// order. For first -> second the permissible start is the intersection of the
// first node's own window with "can still reach the second in time":
//
//	e' = max(e_first, e_second - (s_first + tau))
//	l' = min(l_first, l_second - s_first - tau)
//
// The result may be empty (e' > l'); the caller must treat that as an
// infeasible merge.
func tightenWindow(first, second *graph.Node, tau float64) (ready, due float64) {
	ready = first.Ready
	if v := second.Ready - (first.Service + tau); v > ready {
		ready = v
	}
	due = first.Due
	if v := second.Due - first.Service - tau; v < due {
		due = v
	}
	return ready, due
}
