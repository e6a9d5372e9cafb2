package model

// Core domain types exchanged over the API and the store.

// NodeIn is one customer or depot row of an instance.
type NodeIn struct {
	ID      string  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Demand  float64 `json:"demand"`
	Ready   float64 `json:"ready"`
	Due     float64 `json:"due"`
	Service float64 `json:"service"`
}

// InstanceIn creates a benchmark instance from JSON.
type InstanceIn struct {
	Name     string   `json:"name"`
	Capacity float64  `json:"capacity"`
	DepotID  string   `json:"depotId"`
	Nodes    []NodeIn `json:"nodes"`
}

// Instance is a stored benchmark instance.
type Instance struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenantId"`
	Name      string   `json:"name"`
	Capacity  float64  `json:"capacity"`
	DepotID   string   `json:"depotId"`
	Nodes     []NodeIn `json:"nodes,omitempty"`
	NodeCount int      `json:"nodeCount"`
	CreatedAt string   `json:"createdAt,omitempty"`
}

// CoarsenParams configures the coarsening stage of a solve.
type CoarsenParams struct {
	Alpha          float64 `json:"alpha"`
	Beta           float64 `json:"beta"`
	TargetFraction float64 `json:"targetFraction"`
	RadiusCoeff    float64 `json:"radiusCoeff"`
}

// SolveRequest runs the coarsen -> solve -> inflate -> evaluate pipeline.
// A nil Coarsen solves directly on the original graph.
type SolveRequest struct {
	TenantID         string         `json:"tenantId"`
	InstanceID       string         `json:"instanceId"`
	Algorithm        string         `json:"algorithm,omitempty"` // greedy | savings
	Coarsen          *CoarsenParams `json:"coarsen,omitempty"`
	TwoOptIterations int            `json:"twoOptIterations,omitempty"`
}

// MergeRecordOut is one merge history entry in API responses.
type MergeRecordOut struct {
	SuperID string `json:"superId"`
	Left    string `json:"left"`
	Right   string `json:"right"`
	Order   string `json:"order"`
}

// RunMetrics mirrors the evaluator output.
type RunMetrics struct {
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

// CoarsenStats summarizes the coarsening stage of a run.
type CoarsenStats struct {
	Levels        int `json:"levels"`
	Merges        int `json:"merges"`
	OriginalNodes int `json:"originalNodes"`
	CoarseNodes   int `json:"coarseNodes"`
}

// Run is a stored solve execution: the routes over original node ids plus
// the metrics and coarsening history that produced them.
type Run struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenantId"`
	InstanceID   string           `json:"instanceId"`
	Algorithm    string           `json:"algorithm"`
	Status       string           `json:"status"`
	Coarsen      *CoarsenParams   `json:"coarsen,omitempty"`
	CoarsenStats *CoarsenStats    `json:"coarsenStats,omitempty"`
	MergeHistory []MergeRecordOut `json:"mergeHistory,omitempty"`
	Routes       [][]string       `json:"routes"`
	Metrics      RunMetrics       `json:"metrics"`
	ElapsedMs    int64            `json:"elapsedMs"`
	CreatedAt    string           `json:"createdAt,omitempty"`
}

// SubscriptionRequest registers a webhook endpoint for run events.
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

// Subscription is a stored webhook subscription.
type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
