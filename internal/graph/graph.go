package graph

import (
	"fmt"
	"sort"
)

// Graph owns nodes, edges and an adjacency index, kept consistent by every
// mutation. Edges are undirected; at most one edge exists per node pair.
type Graph struct {
	Nodes map[string]*Node
	Edges []*Edge
	Adj   map[string]map[string]struct{}
}

func New() *Graph {
	return &Graph{
		Nodes: map[string]*Node{},
		Adj:   map[string]map[string]struct{}{},
	}
}

// AddNode inserts or replaces a node. A fresh node starts with no neighbors.
func (g *Graph) AddNode(n *Node) {
	g.Nodes[n.ID] = n
	if g.Adj[n.ID] == nil {
		g.Adj[n.ID] = map[string]struct{}{}
	}
}

// AddEdge connects two existing nodes. Inserting an edge whose endpoints are
// not in the graph is a structural error; duplicate pairs are ignored.
func (g *Graph) AddEdge(u, v string, tau float64) error {
	if _, ok := g.Nodes[u]; !ok {
		return fmt.Errorf("graph: edge endpoint %q not in graph", u)
	}
	if _, ok := g.Nodes[v]; !ok {
		return fmt.Errorf("graph: edge endpoint %q not in graph", v)
	}
	if g.HasEdge(u, v) {
		return nil
	}
	g.Edges = append(g.Edges, &Edge{U: u, V: v, Tau: tau})
	g.Adj[u][v] = struct{}{}
	g.Adj[v][u] = struct{}{}
	return nil
}

// HasEdge reports whether the unordered pair is connected.
func (g *Graph) HasEdge(u, v string) bool {
	_, ok := g.Adj[u][v]
	return ok
}

// EdgeBetween returns the edge for an unordered pair, or nil.
func (g *Graph) EdgeBetween(u, v string) *Edge {
	if !g.HasEdge(u, v) {
		return nil
	}
	for _, e := range g.Edges {
		if (e.U == u && e.V == v) || (e.U == v && e.V == u) {
			return e
		}
	}
	return nil
}

// RemoveNode deletes a node, its incident edges and its adjacency entries.
// Removing an unknown node is a no-op.
func (g *Graph) RemoveNode(id string) {
	if _, ok := g.Nodes[id]; !ok {
		return
	}
	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if !e.Touches(id) {
			kept = append(kept, e)
		}
	}
	g.Edges = kept
	for nb := range g.Adj[id] {
		delete(g.Adj[nb], id)
	}
	delete(g.Adj, id)
	delete(g.Nodes, id)
}

// Neighbors returns the adjacent node ids sorted for deterministic iteration.
func (g *Graph) Neighbors(id string) []string {
	out := make([]string, 0, len(g.Adj[id]))
	for nb := range g.Adj[id] {
		out = append(out, nb)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) NodeCount() int { return len(g.Nodes) }
func (g *Graph) EdgeCount() int { return len(g.Edges) }

// Clone deep-copies the graph so a caller's instance is never mutated by
// destructive operations on the copy.
func (g *Graph) Clone() *Graph {
	c := New()
	for id, n := range g.Nodes {
		c.Nodes[id] = n.clone()
		c.Adj[id] = make(map[string]struct{}, len(g.Adj[id]))
		for nb := range g.Adj[id] {
			c.Adj[id][nb] = struct{}{}
		}
	}
	c.Edges = make([]*Edge, len(g.Edges))
	for i, e := range g.Edges {
		ce := *e
		c.Edges[i] = &ce
	}
	return c
}
