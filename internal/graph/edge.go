package graph

// Edge is an unordered relation between two nodes. Tau is the Euclidean
// travel time, fixed at creation. Score is the spatio-temporal distance,
// recomputed before every coarsening level.
type Edge struct {
	U, V  string
	Tau   float64
	Score float64
}

// Touches reports whether the edge is incident to the given node.
func (e *Edge) Touches(id string) bool { return e.U == id || e.V == id }

// Other returns the opposite endpoint, or "" if id is not an endpoint.
func (e *Edge) Other(id string) string {
	switch id {
	case e.U:
		return e.V
	case e.V:
		return e.U
	}
	return ""
}
