package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vrpnav/internal/config"
	"vrpnav/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(config.Default())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

const instanceJSON = `{
	"name": "line",
	"capacity": 100,
	"depotId": "D",
	"nodes": [
		{"id":"D","x":0,"y":0,"demand":0,"ready":0,"due":100,"service":0},
		{"id":"A","x":5,"y":0,"demand":10,"ready":0,"due":10,"service":1},
		{"id":"B","x":10,"y":0,"demand":10,"ready":3,"due":15,"service":2}
	]
}`

func createInstance(t *testing.T, s *Server) model.Instance {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/instances", bytes.NewReader([]byte(instanceJSON)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.InstancesHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create instance: %d %s", rr.Code, rr.Body.String())
	}
	var inst model.Instance
	if err := json.Unmarshal(rr.Body.Bytes(), &inst); err != nil {
		t.Fatalf("decode instance: %v", err)
	}
	return inst
}

func solve(t *testing.T, s *Server, body string) model.Run {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("solve: %d %s", rr.Code, rr.Body.String())
	}
	var run model.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return run
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestInstancesCreateListGet(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)
	if inst.NodeCount != 3 || inst.DepotID != "D" {
		t.Fatalf("instance: %+v", inst)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/instances?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.InstancesHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list: %d", rr.Code)
	}
	var list struct {
		Items []model.Instance `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 1 {
		t.Fatalf("items: %+v", list.Items)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/instances/"+inst.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.InstanceByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get: %d %s", rr.Code, rr.Body.String())
	}
}

func TestInstanceSolomonUpload(t *testing.T) {
	s := newTestServer(t)
	body := `C101

VEHICLE
  25         200

CUSTOMER
CUST NO.  XCOORD.   YCOORD.    DEMAND   READY TIME  DUE DATE   SERVICE TIME


    0      40         50          0          0       1236          0
    1      45         68         10        912        967         90
`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/instances?name=c101", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.InstancesHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("solomon upload: %d %s", rr.Code, rr.Body.String())
	}
	var inst model.Instance
	_ = json.Unmarshal(rr.Body.Bytes(), &inst)
	if inst.Name != "c101" || inst.Capacity != 200 || inst.NodeCount != 2 {
		t.Fatalf("instance: %+v", inst)
	}
}

func TestInstanceValidation(t *testing.T) {
	s := newTestServer(t)
	bad := `{"name":"x","capacity":0,"depotId":"D","nodes":[{"id":"D"},{"id":"A"}]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/instances", bytes.NewReader([]byte(bad)))
	req.Header.Set("Content-Type", "application/json")
	s.InstancesHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSolveGreedyWithCoarsening(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)

	run := solve(t, s, `{
		"instanceId": "`+inst.ID+`",
		"algorithm": "greedy",
		"coarsen": {"alpha":1, "beta":1, "targetFraction":0.9, "radiusCoeff":10}
	}`)

	if run.Status != "completed" || run.Algorithm != "greedy" {
		t.Fatalf("run: %+v", run)
	}
	if len(run.MergeHistory) != 1 {
		t.Fatalf("merge history: %+v", run.MergeHistory)
	}
	rec := run.MergeHistory[0]
	if rec.SuperID != "SN_A_B" || rec.Order != "left-then-right" {
		t.Fatalf("merge record: %+v", rec)
	}
	if run.CoarsenStats == nil || run.CoarsenStats.CoarseNodes != 2 {
		t.Fatalf("stats: %+v", run.CoarsenStats)
	}
	if len(run.Routes) != 1 {
		t.Fatalf("routes: %v", run.Routes)
	}
	want := []string{"D", "A", "B", "D"}
	for i, id := range want {
		if run.Routes[0][i] != id {
			t.Fatalf("route: got %v want %v", run.Routes[0], want)
		}
	}
	if !run.Metrics.Feasible || run.Metrics.Vehicles != 1 {
		t.Fatalf("metrics: %+v", run.Metrics)
	}
}

func TestSolveSavingsWithoutCoarsening(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)
	run := solve(t, s, `{"instanceId": "`+inst.ID+`", "algorithm": "savings"}`)
	if run.Algorithm != "savings" || len(run.MergeHistory) != 0 {
		t.Fatalf("run: %+v", run)
	}
	if !run.Metrics.Feasible {
		t.Fatalf("metrics: %+v", run.Metrics)
	}
}

func TestSolveUnknownInstance(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader([]byte(`{"instanceId":"inst_missing"}`)))
	req.Header.Set("Content-Type", "application/json")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSolveRejectsBadAlgorithm(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve",
		bytes.NewReader([]byte(`{"instanceId":"`+inst.ID+`","algorithm":"annealing"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSolveRateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	inst := createInstance(t, s)

	body := `{"instanceId":"` + inst.ID + `"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SolveHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("first solve: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SolveHandler(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestRunsListAndGet(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)
	run := solve(t, s, `{"instanceId": "`+inst.ID+`"}`)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?instanceId="+inst.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.RunsIndexHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list runs: %d", rr.Code)
	}
	var list struct {
		Items []model.Run `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 1 || list.Items[0].ID != run.ID {
		t.Fatalf("items: %+v", list.Items)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.RunByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get run: %d %s", rr.Code, rr.Body.String())
	}
	var got model.Run
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if len(got.Routes) == 0 {
		t.Fatalf("run detail should include routes: %+v", got)
	}
}

func TestSolveEnqueuesCompletionWebhook(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)

	subBody := `{"tenantId":"t_test","url":"https://example.invalid/hook","events":["run.completed"],"secret":"shh"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(subBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d", rr.Code)
	}

	solve(t, s, `{"instanceId": "`+inst.ID+`"}`)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.WebhookDeliveriesHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("deliveries: %d", rr.Code)
	}
	var dres struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil {
		t.Fatalf("decode deliveries: %v", err)
	}
	if len(dres.Items) == 0 {
		t.Fatal("expected at least one delivery")
	}
	if et, _ := dres.Items[0]["eventType"].(string); et != "run.completed" {
		t.Fatalf("eventType: %+v", dres.Items[0])
	}
}

func TestAdminSolverConfigAppliesDefaults(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)

	cfgBody := `{"config":{"algorithm":"savings"}}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/solver/config", bytes.NewReader([]byte(cfgBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.AdminSolverConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("put config: %d %s", rr.Code, rr.Body.String())
	}

	run := solve(t, s, `{"instanceId": "`+inst.ID+`"}`)
	if run.Algorithm != "savings" {
		t.Fatalf("tenant default not applied: %+v", run)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/solver/config", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.AdminSolverConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get config: %d", rr.Code)
	}
}

func TestSubscriptionDelete(t *testing.T) {
	s := newTestServer(t)
	subBody := `{"tenantId":"t_test","url":"https://example.invalid/hook","events":["*"]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(subBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d", rr.Code)
	}
	var sub model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "admin")
	s.SubscriptionByIDHandler(rr, req)
	if rr.Code != 204 {
		t.Fatalf("delete sub: %d", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestRunEventsSSE(t *testing.T) {
	s := newTestServer(t)
	inst := createInstance(t, s)
	run := solve(t, s, `{"instanceId": "`+inst.ID+`"}`)

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID+"/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)
	sseReq.Header.Set("X-Tenant-Id", "t_test")

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.RunByIDHandler(rec, sseReq)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(run.ID, Event{Type: "coarsen.level", Data: map[string]any{"runId": run.ID, "level": 1}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.buf.Bytes(), []byte("event: coarsen.level")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.buf.Bytes(), []byte("event: coarsen.level")) {
		t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestBrokerFanout(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("run_1")
	b.Publish("run_1", Event{Type: "solve.started", Data: map[string]any{"runId": "run_1"}})
	select {
	case evt := <-ch:
		if evt.Type != "solve.started" {
			t.Fatalf("event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	b.Unsubscribe("run_1", ch)
	// publishing after unsubscribe must not panic
	b.Publish("run_1", Event{Type: "solve.completed"})
}
