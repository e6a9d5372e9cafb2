// Package solomon loads VRPTW benchmark instances in the Solomon CSV layout:
// the vehicle capacity on line 4 and customer rows from line 10, the first
// row being the depot.
package solomon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"vrpnav/internal/graph"
)

// Instance is a parsed benchmark: the complete Euclidean graph, the depot id
// and the per-vehicle capacity.
type Instance struct {
	Graph    *graph.Graph
	DepotID  string
	Capacity float64
}

var floatRe = regexp.MustCompile(`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?`)

// parseFloat tolerates stray characters around the numeric value, which some
// benchmark exports carry.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if m := floatRe.FindString(s); m != "" {
		return strconv.ParseFloat(m, 64)
	}
	return 0, fmt.Errorf("solomon: cannot parse number from %q", s)
}

// LoadFile reads an instance from disk.
func LoadFile(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load parses an instance from a reader and connects every node pair with a
// Euclidean edge.
func Load(r io.Reader) (*Instance, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) < 10 {
		return nil, fmt.Errorf("solomon: file too short: %d lines", len(lines))
	}

	capacity, err := parseCapacity(lines[3])
	if err != nil {
		return nil, err
	}

	g := graph.New()
	depotID := ""
	for i, line := range lines[9:] {
		fields := splitRow(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 7 {
			return nil, fmt.Errorf("solomon: row %d has %d fields, want 7", i+10, len(fields))
		}
		id := fields[0]
		vals := make([]float64, 6)
		for k := 1; k < 7; k++ {
			v, err := parseFloat(fields[k])
			if err != nil {
				return nil, fmt.Errorf("solomon: row %d: %w", i+10, err)
			}
			vals[k-1] = v
		}
		x, y, demand, ready, due, service := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
		g.AddNode(graph.NewNode(id, x, y, service, ready, due, demand))
		if depotID == "" {
			depotID = id
		}
	}
	if depotID == "" {
		return nil, fmt.Errorf("solomon: no customer rows found")
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			tau := graph.Tau(g.Nodes[ids[i]], g.Nodes[ids[j]])
			if err := g.AddEdge(ids[i], ids[j], tau); err != nil {
				return nil, err
			}
		}
	}
	return &Instance{Graph: g, DepotID: depotID, Capacity: capacity}, nil
}

// parseCapacity extracts the vehicle capacity from the fourth line, which is
// either "count,capacity" or whitespace separated.
func parseCapacity(line string) (float64, error) {
	if parts := strings.Split(line, ","); len(parts) >= 2 {
		if v, err := parseFloat(parts[1]); err == nil {
			return v, nil
		}
	}
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		if v, err := parseFloat(fields[1]); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("solomon: cannot parse vehicle capacity from %q", line)
}

func splitRow(line string) []string {
	var fields []string
	for _, f := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' }) {
		f = strings.TrimSpace(f)
		if f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) <= 1 {
		// Classic Solomon files are whitespace separated.
		fields = strings.Fields(line)
	}
	return fields
}
