package api

import (
	"fmt"

	"vrpnav/internal/model"
)

func validateSolveRequest(req *model.SolveRequest) error {
	if req.InstanceID == "" {
		return fmt.Errorf("instanceId is required")
	}
	if req.Algorithm != "" && req.Algorithm != "greedy" && req.Algorithm != "savings" {
		return fmt.Errorf("invalid algorithm: %s (allowed: greedy, savings)", req.Algorithm)
	}
	if req.TwoOptIterations < 0 {
		return fmt.Errorf("twoOptIterations must be >= 0")
	}
	if c := req.Coarsen; c != nil {
		if c.Alpha < 0 {
			return fmt.Errorf("coarsen.alpha must be >= 0")
		}
		if c.Beta < 0 {
			return fmt.Errorf("coarsen.beta must be >= 0")
		}
		if c.TargetFraction <= 0 || c.TargetFraction > 1 {
			return fmt.Errorf("coarsen.targetFraction must be in (0,1]")
		}
		if c.RadiusCoeff < 0 {
			return fmt.Errorf("coarsen.radiusCoeff must be >= 0")
		}
	}
	return nil
}

func validateInstanceIn(in *model.InstanceIn) error {
	if len(in.Nodes) < 2 {
		return fmt.Errorf("instance needs a depot and at least one customer")
	}
	if in.Capacity <= 0 {
		return fmt.Errorf("capacity must be > 0")
	}
	seen := map[string]struct{}{}
	depotFound := false
	for i, n := range in.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d has empty id", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Ready > n.Due {
			return fmt.Errorf("node %q window open %v exceeds close %v", n.ID, n.Ready, n.Due)
		}
		if n.Demand < 0 {
			return fmt.Errorf("node %q demand must be >= 0", n.ID)
		}
		if n.Service < 0 {
			return fmt.Errorf("node %q service must be >= 0", n.ID)
		}
		if n.ID == in.DepotID {
			depotFound = true
		}
	}
	if in.DepotID == "" {
		in.DepotID = in.Nodes[0].ID
		depotFound = true
	}
	if !depotFound {
		return fmt.Errorf("depot %q not among nodes", in.DepotID)
	}
	return nil
}
