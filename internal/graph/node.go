package graph

import "math"

// Node is a customer or depot in a VRPTW instance, or a super-node produced
// by merging two nodes during coarsening.
type Node struct {
	ID      string
	X, Y    float64
	Service float64 // service duration at the node
	Ready   float64 // earliest service start (window open)
	Due     float64 // latest service start (window close)
	Central float64 // heuristic midpoint of the feasible start interval
	Demand  float64
	Super   bool
	Members []string // original node ids this node represents; for a leaf, just itself
}

// NewNode builds a leaf node and derives its central time.
func NewNode(id string, x, y, service, ready, due, demand float64) *Node {
	return &Node{
		ID:      id,
		X:       x,
		Y:       y,
		Service: service,
		Ready:   ready,
		Due:     due,
		Central: centralTime(ready, due, service),
		Demand:  demand,
		Members: []string{id},
	}
}

// centralTime is (e + (l - s)) / 2 when the window can absorb the service
// duration, else the window open. Used only to bias merge scoring.
func centralTime(ready, due, service float64) float64 {
	if due-service >= 0 {
		return (ready + (due - service)) / 2
	}
	return ready
}

// NewSuperNode builds a merged node. Members must list the original node ids
// the super-node represents, in visiting order.
func NewSuperNode(id string, x, y, service, ready, due, demand float64, members []string) *Node {
	return &Node{
		ID:      id,
		X:       x,
		Y:       y,
		Service: service,
		Ready:   ready,
		Due:     due,
		Central: centralTime(ready, due, service),
		Demand:  demand,
		Super:   true,
		Members: members,
	}
}

// Tau is the symmetric Euclidean travel time between two nodes.
func Tau(a, b *Node) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func (n *Node) clone() *Node {
	c := *n
	c.Members = append([]string(nil), n.Members...)
	return &c
}
