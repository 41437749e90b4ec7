package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(TopicPlan)

	evt := Event{Type: "plan.completed", Data: map[string]any{"planId": "p1"}}
	b.Publish(TopicPlan, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["planId"].(string) != "p1" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(TopicPlan, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(TopicPlan)
	for i := 0; i < 20; i++ {
		b.Publish(TopicPlan, Event{Type: "plan.completed"})
	}
	// buffered at 8; the rest must have been dropped, not blocked
	if n := len(ch); n != 8 {
		t.Fatalf("expected full buffer of 8, got %d", n)
	}
	b.Unsubscribe(TopicPlan, ch)
}

func TestBrokerPublishNoSubscribers(t *testing.T) {
	b := NewBroker()
	// must not panic or block
	b.Publish(TopicPlan, Event{Type: "plan.completed"})
}
