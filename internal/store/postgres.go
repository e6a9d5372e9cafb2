package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vrpnav/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping reports database connectivity, used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Migrate creates the schema when it does not exist yet (dev helper).
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT,
			capacity DOUBLE PRECISION NOT NULL,
			depot_id TEXT NOT NULL,
			nodes JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS instances_tenant_idx ON instances (tenant_id, id)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			status TEXT NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS runs_tenant_idx ON runs (tenant_id, id)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			url TEXT NOT NULL,
			events JSONB NOT NULL,
			secret TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			subscription_id TEXT,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT,
			response_code INT,
			latency_ms INT,
			delivered_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS solver_config (
			tenant_id TEXT PRIMARY KEY,
			cfg JSONB NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateInstance(ctx context.Context, tenantID string, in model.InstanceIn) (model.Instance, error) {
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
	nodes, err := json.Marshal(in.Nodes)
	if err != nil {
		return model.Instance{}, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO instances (id, tenant_id, name, capacity, depot_id, nodes) VALUES ($1,$2,$3,$4,$5,$6)`,
		inst.ID, tenantID, inst.Name, inst.Capacity, inst.DepotID, nodes)
	if err != nil {
		return model.Instance{}, err
	}
	return inst, nil
}

func (p *Postgres) GetInstance(ctx context.Context, tenantID, id string) (model.Instance, error) {
	var inst model.Instance
	var nodes []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, COALESCE(name,''), capacity, depot_id, nodes, created_at FROM instances WHERE tenant_id=$1 AND id=$2`,
		tenantID, id).Scan(&inst.ID, &inst.TenantID, &inst.Name, &inst.Capacity, &inst.DepotID, &nodes, &scanTime{&inst.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instance{}, ErrNotFound
	}
	if err != nil {
		return model.Instance{}, err
	}
	if err := json.Unmarshal(nodes, &inst.Nodes); err != nil {
		return model.Instance{}, err
	}
	inst.NodeCount = len(inst.Nodes)
	return inst, nil
}

func (p *Postgres) ListInstances(ctx context.Context, tenantID, cursor string, limit int) ([]model.Instance, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, COALESCE(name,''), capacity, depot_id, jsonb_array_length(nodes), created_at
		 FROM instances WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`,
		tenantID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Instance{}
	for rows.Next() {
		var inst model.Instance
		if err := rows.Scan(&inst.ID, &inst.TenantID, &inst.Name, &inst.Capacity, &inst.DepotID, &inst.NodeCount, &scanTime{&inst.CreatedAt}); err != nil {
			return nil, "", err
		}
		out = append(out, inst)
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) SaveRun(ctx context.Context, run model.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO runs (id, tenant_id, instance_id, algorithm, status, body) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, body=EXCLUDED.body`,
		run.ID, run.TenantID, run.InstanceID, run.Algorithm, run.Status, body)
	return err
}

func (p *Postgres) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT body FROM runs WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, err
	}
	var run model.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func (p *Postgres) ListRuns(ctx context.Context, tenantID, instanceID, cursor string, limit int) ([]model.Run, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if instanceID != "" {
		rows, err = p.db.QueryContext(ctx,
			`SELECT body FROM runs WHERE tenant_id=$1 AND instance_id=$2 AND id > $3 ORDER BY id LIMIT $4`,
			tenantID, instanceID, cursor, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT body FROM runs WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`,
			tenantID, cursor, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, "", err
		}
		var run model.Run
		if err := json.Unmarshal(body, &run); err != nil {
			return nil, "", err
		}
		run.Routes = nil
		run.MergeHistory = nil
		out = append(out, run)
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{
		ID:       "sub_" + uuid.NewString(),
		TenantID: req.TenantID,
		URL:      req.URL,
		Events:   req.Events,
		Secret:   req.Secret,
	}
	events, err := json.Marshal(req.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		sub.ID, sub.TenantID, sub.URL, events, sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, events, secret FROM subscriptions WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, url, events FROM subscriptions WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`,
		tenantID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events); err != nil {
			return nil, "", err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, "", err
		}
		out = append(out, s)
	}
	return out, "", rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := "whd_" + uuid.NewString()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, tenantID, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		 FROM webhook_deliveries WHERE status='pending' AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx,
			`UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
			id, lastError, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET attempts=attempts+1, next_attempt_at=COALESCE($2, next_attempt_at), last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nextAttemptAt, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status='failed', last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = p.db.QueryContext(ctx,
			`SELECT id, event_type, url, status, attempts, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)
			 FROM webhook_deliveries WHERE tenant_id=$1 AND status=$2 AND id > $3 ORDER BY id LIMIT $4`,
			tenantID, status, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT id, event_type, url, status, attempts, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)
			 FROM webhook_deliveries WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`,
			tenantID, cursor, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	items := []map[string]any{}
	for rows.Next() {
		var id, eventType, url, st, lastErr string
		var attempts, code, latency int
		if err := rows.Scan(&id, &eventType, &url, &st, &attempts, &lastErr, &code, &latency); err != nil {
			return nil, "", err
		}
		items = append(items, map[string]any{
			"id": id, "eventType": eventType, "url": url, "status": st,
			"attempts": attempts, "lastError": lastErr, "responseCode": code, "latencyMs": latency,
		})
	}
	return items, "", rows.Err()
}

func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT cfg FROM solver_config WHERE tenant_id=$1`, tenantID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO solver_config (tenant_id, cfg) VALUES ($1,$2) ON CONFLICT (tenant_id) DO UPDATE SET cfg=EXCLUDED.cfg`,
		tenantID, body)
	return err
}

// scanTime formats a TIMESTAMPTZ column into an RFC3339 string field.
type scanTime struct{ dst *string }

func (s *scanTime) Scan(v any) error {
	switch t := v.(type) {
	case time.Time:
		*s.dst = t.UTC().Format(time.RFC3339)
	case nil:
		*s.dst = ""
	}
	return nil
}
