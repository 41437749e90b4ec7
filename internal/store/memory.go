package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispo/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. It
// mirrors Postgres semantics closely enough for tests and local runs.
type Memory struct {
	mu          sync.Mutex
	vehicles    []model.Vehicle
	orders      []model.Order
	plans       []model.PlanRecord
	subs        []model.Subscription
	deliveries  map[string]*WebhookDelivery
	deliverySeq []string // insertion order, for deterministic fetches
}

func NewMemory() *Memory {
	return &Memory{deliveries: map[string]*WebhookDelivery{}}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) ReplaceFleet(ctx context.Context, vehicles []model.Vehicle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := map[string]bool{}
	for _, v := range vehicles {
		ids[v.ID] = true
	}
	for _, a := range m.lockedLocked() {
		if !ids[a.VehicleID] {
			return 0, ErrFleetLocked
		}
	}
	m.vehicles = append([]model.Vehicle(nil), vehicles...)
	return len(vehicles), nil
}

func (m *Memory) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Vehicle{}, m.vehicles...), nil
}

func (m *Memory) ReplaceOrders(ctx context.Context, orders []model.Order) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := map[string]bool{}
	for _, o := range orders {
		ids[o.ID] = true
	}
	for _, a := range m.lockedLocked() {
		if !ids[a.OrderID] {
			return 0, ErrFleetLocked
		}
	}
	m.orders = append([]model.Order(nil), orders...)
	return len(orders), nil
}

func (m *Memory) ListOrders(ctx context.Context, status string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if status == "" || string(o.Status) == status {
			out = append(out, o)
		}
	}
	return out, nil
}

// SavePlan appends the plan and moves order statuses: assigned orders
// become "assigned", everything else falls back to "pending".
func (m *Memory) SavePlan(ctx context.Context, plan model.PlanRecord) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	assigned := map[string]bool{}
	for _, a := range plan.Assignments {
		assigned[a.OrderID] = true
	}
	for i := range m.orders {
		if assigned[m.orders[i].ID] {
			m.orders[i].Status = model.OrderAssigned
		} else if m.orders[i].Status == model.OrderAssigned {
			m.orders[i].Status = model.OrderPending
		}
	}
	m.plans = append(m.plans, plan)
	return plan, nil
}

func (m *Memory) LatestPlan(ctx context.Context) (model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.plans) == 0 {
		return model.PlanRecord{}, ErrNotFound
	}
	return m.plans[len(m.plans)-1], nil
}

func (m *Memory) ListPlans(ctx context.Context, limit int) ([]model.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []model.PlanRecord{}
	for i := len(m.plans) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.plans[i])
	}
	return out, nil
}

func (m *Memory) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.plans) == 0 {
		return []model.Assignment{}, nil
	}
	return append([]model.Assignment{}, m.plans[len(m.plans)-1].Assignments...), nil
}

func (m *Memory) ListLockedAssignments(ctx context.Context) ([]model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Assignment{}, m.lockedLocked()...), nil
}

// lockedLocked returns the locked assignments of the latest plan.
// Callers must hold m.mu.
func (m *Memory) lockedLocked() []model.Assignment {
	if len(m.plans) == 0 {
		return nil
	}
	var out []model.Assignment
	for _, a := range m.plans[len(m.plans)-1].Assignments {
		if a.Locked {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) SetAssignmentLock(ctx context.Context, id string, locked bool) (model.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.plans) == 0 {
		return model.Assignment{}, ErrNotFound
	}
	p := &m.plans[len(m.plans)-1]
	for i := range p.Assignments {
		if p.Assignments[i].ID == id {
			p.Assignments[i].Locked = locked
			return p.Assignments[i], nil
		}
	}
	return model.Assignment{}, ErrNotFound
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription{}, m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	found := false
	for _, s := range m.subs {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return ErrNotFound
	}
	m.subs = out
	return nil
}

func (m *Memory) SubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{
		ID:             id,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		URL:            url,
		Secret:         secret,
		Payload:        payload,
		Status:         "pending",
		NextAttemptAt:  time.Now(),
	}
	m.deliverySeq = append(m.deliverySeq, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliverySeq {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []WebhookDelivery{}
	for _, id := range m.deliverySeq {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			out = append(out, *d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = time.Now()
	return nil
}
