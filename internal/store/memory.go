package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"vrpnav/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	instances map[string]model.Instance     // id -> instance
	instTen   map[string][]string           // tenant -> instance ids
	runs      map[string]model.Run          // id -> run
	runsTen   map[string][]string           // tenant -> run ids
	subs      map[string][]model.Subscription

	deliveries map[string]*memDelivery
	deliveriesByTenant map[string][]string
	solverCfg  map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		instances:          map[string]model.Instance{},
		instTen:            map[string][]string{},
		runs:               map[string]model.Run{},
		runsTen:            map[string][]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		solverCfg:          map[string]map[string]any{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) CreateInstance(ctx context.Context, tenantID string, in model.InstanceIn) (model.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := model.Instance{
		ID:        "inst_" + uuid.NewString(),
		TenantID:  tenantID,
		Name:      in.Name,
		Capacity:  in.Capacity,
		DepotID:   in.DepotID,
		Nodes:     in.Nodes,
		NodeCount: len(in.Nodes),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	m.instances[inst.ID] = inst
	m.instTen[tenantID] = append(m.instTen[tenantID], inst.ID)
	return inst, nil
}

func (m *Memory) GetInstance(ctx context.Context, tenantID, id string) (model.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.TenantID != tenantID {
		return model.Instance{}, ErrNotFound
	}
	return inst, nil
}

func (m *Memory) ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.Instance, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.instTen[tenantID]
	start := cursorIndex(ids, cursor)
	items := []model.Instance{}
	next := ""
	for i := start; i < len(ids); i++ {
		if limit > 0 && len(items) >= limit {
			next = ids[i]
			break
		}
		inst := m.instances[ids[i]]
		inst.Nodes = nil // listings stay light
		items = append(items, inst)
	}
	return items, next, nil
}

func (m *Memory) SaveRun(ctx context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; !exists {
		m.runsTen[run.TenantID] = append(m.runsTen[run.TenantID], run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.TenantID != tenantID {
		return model.Run{}, ErrNotFound
	}
	return run, nil
}

func (m *Memory) ListRuns(ctx context.Context, tenantID, instanceID, cursor string, limit int) ([]model.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runsTen[tenantID]
	start := cursorIndex(ids, cursor)
	items := []model.Run{}
	next := ""
	for i := start; i < len(ids); i++ {
		run := m.runs[ids[i]]
		if instanceID != "" && run.InstanceID != instanceID {
			continue
		}
		if limit > 0 && len(items) >= limit {
			next = ids[i]
			break
		}
		run.Routes = nil
		run.MergeHistory = nil
		items = append(items, run)
	}
	return items, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{
		ID:       "sub_" + uuid.NewString(),
		TenantID: req.TenantID,
		URL:      req.URL,
		Events:   req.Events,
		Secret:   req.Secret,
	}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[tenantID]
	items := []model.Subscription{}
	for _, s := range subs {
		s.Secret = ""
		items = append(items, s)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, "", nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[tenantID]
	for i, s := range subs {
		if s.ID == id {
			m.subs[tenantID] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "whd_" + uuid.NewString()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			TenantID:       tenantID,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []WebhookDelivery
	ids := make([]string, 0, len(m.deliveries))
	for id := range m.deliveries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	d.LastError = lastError
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Attempts++
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		items = append(items, map[string]any{
			"id":           d.ID,
			"eventType":    d.EventType,
			"url":          d.URL,
			"status":       d.Status,
			"attempts":     d.Attempts,
			"lastError":    d.LastError,
			"responseCode": d.ResponseCode,
			"latencyMs":    d.LatencyMs,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, "", nil
}

func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solverCfg[tenantID], nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solverCfg[tenantID] = cfg
	return nil
}

func cursorIndex(ids []string, cursor string) int {
	if cursor == "" {
		return 0
	}
	for i, id := range ids {
		if id == cursor {
			return i
		}
	}
	return 0
}
