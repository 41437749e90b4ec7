package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dispo/internal/model"
)

// Postgres persists snapshots and plan history in PostgreSQL. Plans are
// a row per run; assignments live in their own table so locks can be
// toggled without rewriting the plan document.
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

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS and friends).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sqlText, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlText)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) ReplaceFleet(ctx context.Context, vehicles []model.Vehicle) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := lockedAssignmentsTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	keep := map[string]bool{}
	for _, v := range vehicles {
		keep[v.ID] = true
	}
	for _, a := range locked {
		if !keep[a.VehicleID] {
			return 0, ErrFleetLocked
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicles`); err != nil {
		return 0, err
	}
	for _, v := range vehicles {
		_, err := tx.ExecContext(ctx, `INSERT INTO vehicles
			(id, name, capacity_kg, lat, lng, available_from_h, available_until_h, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			v.ID, v.Name, v.CapacityKg, v.Location.Lat, v.Location.Lng,
			v.AvailableFromH, v.AvailableUntilH, statusOr(string(v.Status), string(model.VehicleIdle)))
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(vehicles), nil
}

func (p *Postgres) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, capacity_kg, lat, lng,
		available_from_h, available_until_h, status FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Vehicle{}
	for rows.Next() {
		var v model.Vehicle
		var status string
		if err := rows.Scan(&v.ID, &v.Name, &v.CapacityKg, &v.Location.Lat, &v.Location.Lng,
			&v.AvailableFromH, &v.AvailableUntilH, &status); err != nil {
			return nil, err
		}
		v.Status = model.VehicleStatus(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) ReplaceOrders(ctx context.Context, orders []model.Order) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := lockedAssignmentsTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	keep := map[string]bool{}
	for _, o := range orders {
		keep[o.ID] = true
	}
	for _, a := range locked {
		if !keep[a.OrderID] {
			return 0, ErrFleetLocked
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return 0, err
	}
	for _, o := range orders {
		_, err := tx.ExecContext(ctx, `INSERT INTO orders
			(id, priority, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
			 weight_kg, load_early_h, load_late_h, loading_h, unloading_h, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			o.ID, o.Priority, o.Pickup.Lat, o.Pickup.Lng, o.Delivery.Lat, o.Delivery.Lng,
			o.WeightKg, o.LoadEarlyH, o.LoadLateH, o.LoadingH, o.UnloadingH,
			statusOr(string(o.Status), string(model.OrderPending)))
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(orders), nil
}

func (p *Postgres) ListOrders(ctx context.Context, status string) ([]model.Order, error) {
	q := `SELECT id, priority, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
		weight_kg, load_early_h, load_late_h, loading_h, unloading_h, status
		FROM orders`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		var o model.Order
		var st string
		if err := rows.Scan(&o.ID, &o.Priority, &o.Pickup.Lat, &o.Pickup.Lng,
			&o.Delivery.Lat, &o.Delivery.Lng, &o.WeightKg,
			&o.LoadEarlyH, &o.LoadLateH, &o.LoadingH, &o.UnloadingH, &st); err != nil {
			return nil, err
		}
		o.Status = model.OrderStatus(st)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePlan(ctx context.Context, plan model.PlanRecord) (model.PlanRecord, error) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PlanRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO plans (id, created_at, params, unassigned, metrics)
		VALUES ($1,$2,$3,$4,$5)`,
		plan.ID, plan.CreatedAt, toJSON(plan.Params), toJSON(plan.Unassigned), toJSON(plan.Metrics))
	if err != nil {
		return model.PlanRecord{}, err
	}
	for _, a := range plan.Assignments {
		_, err := tx.ExecContext(ctx, `INSERT INTO assignments
			(id, plan_id, vehicle_id, order_id, approach_km, transport_km, distance_km,
			 arrival_h, load_start_h, load_end_h, unload_end_h, score, status, locked)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			a.ID, plan.ID, a.VehicleID, a.OrderID, a.ApproachKm, a.TransportKm, a.DistanceKm,
			a.ArrivalH, a.LoadStartH, a.LoadEndH, a.UnloadEndH, a.Score, a.Status, a.Locked)
		if err != nil {
			return model.PlanRecord{}, err
		}
	}
	// Status transitions belong to the store: assigned orders flip to
	// "assigned", previously assigned ones fall back to "pending".
	_, err = tx.ExecContext(ctx, `UPDATE orders SET status='pending' WHERE status='assigned'`)
	if err != nil {
		return model.PlanRecord{}, err
	}
	for _, a := range plan.Assignments {
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status='assigned' WHERE id=$1`, a.OrderID); err != nil {
			return model.PlanRecord{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.PlanRecord{}, err
	}
	return plan, nil
}

func (p *Postgres) LatestPlan(ctx context.Context) (model.PlanRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, created_at, params, unassigned, metrics
		FROM plans ORDER BY created_at DESC, id DESC LIMIT 1`)
	plan, err := scanPlan(row)
	if err != nil {
		return model.PlanRecord{}, err
	}
	plan.Assignments, err = p.planAssignments(ctx, plan.ID)
	if err != nil {
		return model.PlanRecord{}, err
	}
	return plan, nil
}

func (p *Postgres) ListPlans(ctx context.Context, limit int) ([]model.PlanRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, created_at, params, unassigned, metrics
		FROM plans ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlanRecord{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Assignments, err = p.planAssignments(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	id, err := p.latestPlanID(ctx)
	if errors.Is(err, ErrNotFound) {
		return []model.Assignment{}, nil
	}
	if err != nil {
		return nil, err
	}
	return p.planAssignments(ctx, id)
}

func (p *Postgres) ListLockedAssignments(ctx context.Context) ([]model.Assignment, error) {
	all, err := p.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.Assignment{}
	for _, a := range all {
		if a.Locked {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p *Postgres) SetAssignmentLock(ctx context.Context, id string, locked bool) (model.Assignment, error) {
	planID, err := p.latestPlanID(ctx)
	if err != nil {
		return model.Assignment{}, err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE assignments SET locked=$1 WHERE plan_id=$2 AND id=$3`, locked, planID, id)
	if err != nil {
		return model.Assignment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Assignment{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT id, vehicle_id, order_id, approach_km, transport_km,
		distance_km, arrival_h, load_start_h, load_end_h, unload_end_h, score, status, locked
		FROM assignments WHERE plan_id=$1 AND id=$2`, planID, id)
	return scanAssignment(row)
}

func (p *Postgres) latestPlanID(ctx context.Context) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM plans ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (p *Postgres) planAssignments(ctx context.Context, planID string) ([]model.Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, vehicle_id, order_id, approach_km, transport_km,
		distance_km, arrival_h, load_start_h, load_end_h, unload_end_h, score, status, locked
		FROM assignments WHERE plan_id=$1 ORDER BY id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func lockedAssignmentsTx(ctx context.Context, tx *sql.Tx) ([]model.Assignment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT a.id, a.vehicle_id, a.order_id, a.approach_km,
		a.transport_km, a.distance_km, a.arrival_h, a.load_start_h, a.load_end_h,
		a.unload_end_h, a.score, a.status, a.locked
		FROM assignments a
		WHERE a.locked AND a.plan_id = (SELECT id FROM plans ORDER BY created_at DESC, id DESC LIMIT 1)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret)
		VALUES ($1,$2,$3,$4)`, id, req.URL, toJSON(req.Events), req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	all, err := p.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Subscription
	for _, s := range all {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries
		(id, subscription_id, event_type, url, secret, payload, status, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',now())`,
		id, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, subscription_id, event_type, url, secret,
		payload, status, attempts
		FROM webhook_deliveries
		WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret,
			&d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
			SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3,
			    delivered_at=now()
			WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
		SET status='retry', attempts=attempts+1, last_error=$2, response_code=$3,
		    latency_ms=$4, next_attempt_at=$5
		WHERE id=$1`, id, lastError, responseCode, latencyMs, next)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
		SET status='failed', last_error=$2, response_code=$3, latency_ms=$4
		WHERE id=$1`, id, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id, subscription_id, event_type, url, status, attempts,
		next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)
		FROM webhook_deliveries`
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, status)
	}
	args = append(args, limit)
	if status != "" {
		q += ` ORDER BY next_attempt_at DESC LIMIT $2`
	} else {
		q += ` ORDER BY next_attempt_at DESC LIMIT $1`
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Status,
			&d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries
		SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (model.PlanRecord, error) {
	var plan model.PlanRecord
	var params, unassigned, metrics []byte
	err := row.Scan(&plan.ID, &plan.CreatedAt, &params, &unassigned, &metrics)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return model.PlanRecord{}, err
	}
	if err := json.Unmarshal(params, &plan.Params); err != nil {
		return model.PlanRecord{}, err
	}
	if err := json.Unmarshal(unassigned, &plan.Unassigned); err != nil {
		return model.PlanRecord{}, err
	}
	if err := json.Unmarshal(metrics, &plan.Metrics); err != nil {
		return model.PlanRecord{}, err
	}
	return plan, nil
}

func scanAssignment(row rowScanner) (model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(&a.ID, &a.VehicleID, &a.OrderID, &a.ApproachKm, &a.TransportKm,
		&a.DistanceKm, &a.ArrivalH, &a.LoadStartH, &a.LoadEndH, &a.UnloadEndH,
		&a.Score, &a.Status, &a.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, ErrNotFound
	}
	return a, err
}

func toJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func statusOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
