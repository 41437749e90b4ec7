package webhooks

import (
	"context"
	"testing"

	"dispo/internal/model"
	"dispo/internal/store"
)

func TestPublisherEmitEnqueuesPerSubscription(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	if _, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/a", Events: []string{EventPlanCompleted},
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if _, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/b", Events: []string{EventAssignmentLocked},
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	NewPublisher(m).Emit(ctx, EventPlanCompleted, map[string]any{"planId": "p1"})

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("deliveries: %v %+v", err, due)
	}
	if due[0].URL != "https://example.com/a" || due[0].EventType != EventPlanCompleted {
		t.Fatalf("wrong delivery: %+v", due[0])
	}
}

func TestPublisherEmitWildcardSubscription(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	if _, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/all", Events: []string{"*"},
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	NewPublisher(m).Emit(ctx, EventPlanCompleted, map[string]any{"planId": "p1"})
	NewPublisher(m).Emit(ctx, EventAssignmentLocked, map[string]any{"assignmentId": "a1"})

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil || len(due) != 2 {
		t.Fatalf("wildcard subscription deliveries: %v %+v", err, due)
	}
}
