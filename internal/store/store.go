package store

import (
	"context"
	"errors"
	"time"

	"dispo/internal/model"
)

// Store is the persistence interface used by the API server. Fleet and
// order book are snapshot-replaced by the planning frontend; plans are
// append-only history with the newest one authoritative.
type Store interface {
	// Fleet snapshot
	ReplaceFleet(ctx context.Context, vehicles []model.Vehicle) (int, error)
	ListVehicles(ctx context.Context) ([]model.Vehicle, error)

	// Order book
	ReplaceOrders(ctx context.Context, orders []model.Order) (int, error)
	ListOrders(ctx context.Context, status string) ([]model.Order, error)

	// Plans
	SavePlan(ctx context.Context, plan model.PlanRecord) (model.PlanRecord, error)
	LatestPlan(ctx context.Context) (model.PlanRecord, error)
	ListPlans(ctx context.Context, limit int) ([]model.PlanRecord, error)

	// Assignments of the latest plan
	ListAssignments(ctx context.Context) ([]model.Assignment, error)
	ListLockedAssignments(ctx context.Context) ([]model.Assignment, error)
	SetAssignmentLock(ctx context.Context, id string, locked bool) (model.Assignment, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	SubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
	RetryWebhookDelivery(ctx context.Context, id string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// ErrFleetLocked is returned when a snapshot replace would drop a
// vehicle or order referenced by a locked assignment.
var ErrFleetLocked = errors.New("locked assignment references replaced entity")
