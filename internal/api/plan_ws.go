package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Plan events over WebSocket for dispatcher frontends that want more
// than SSE: client-initiated subscriptions with per-event-type filters.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	// Events filters the stream; empty means all plan events.
	Events []string `json:"events"`
}

// PlanWSHandler handles /v1/plan/ws. Protocol: client sends
// connection_init, server acks, then subscribe/complete per stream with
// next frames carrying events. Server pings every 20s; a missed pong
// times the read deadline out.
func (s *Server) PlanWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		ch chan Event
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// The read loop, the keepalive ticker and every fanout goroutine
	// share the connection; gorilla allows only one writer at a time.
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			wanted := map[string]bool{}
			for _, e := range pl.Events {
				wanted[e] = true
			}
			ch := s.Broker.Subscribe(TopicPlan)
			subs[msg.ID] = sub{ch: ch}
			go func(id string, c chan Event) {
				for evt := range c {
					if len(wanted) > 0 && !wanted[evt.Type] {
						continue
					}
					payload, _ := json.Marshal(map[string]any{
						"type": evt.Type,
						"data": evt.Data,
					})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(TopicPlan, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(TopicPlan, s0.ch)
		delete(subs, id)
	}
}
