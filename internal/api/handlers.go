package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dispo/internal/export"
	"dispo/internal/metrics"
	"dispo/internal/model"
	"dispo/internal/opt"
	"dispo/internal/store"
	"dispo/internal/webhooks"
)

// FleetHandler replaces or lists the fleet snapshot.
// PUT /v1/fleet, GET /v1/fleet
func (s *Server) FleetHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		p := s.getPrincipal(r)
		if !p.CanDispatch() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher role required", r.URL.Path)
			return
		}
		var vehicles []model.Vehicle
		if err := json.NewDecoder(r.Body).Decode(&vehicles); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.ReplaceFleet(ctx, vehicles)
		if err != nil {
			if errors.Is(err, store.ErrFleetLocked) {
				writeProblem(w, http.StatusConflict, "Locked assignment", err.Error(), r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"replaced": n})
	case http.MethodGet:
		vehicles, err := s.Store.ListVehicles(ctx)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// OrdersHandler replaces or lists the order book.
// PUT /v1/orders, GET /v1/orders?status=
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		p := s.getPrincipal(r)
		if !p.CanDispatch() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher role required", r.URL.Path)
			return
		}
		var orders []model.Order
		if err := json.NewDecoder(r.Body).Decode(&orders); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		n, err := s.Store.ReplaceOrders(ctx, orders)
		if err != nil {
			if errors.Is(err, store.ErrFleetLocked) {
				writeProblem(w, http.StatusConflict, "Locked assignment", err.Error(), r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"replaced": n})
	case http.MethodGet:
		orders, err := s.Store.ListOrders(ctx, r.URL.Query().Get("status"))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// OrdersImportHandler ingests a CSV order book.
// POST /v1/orders/import
func (s *Server) OrdersImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher role required", r.URL.Path)
		return
	}
	orders, err := export.OrdersFromCSV(r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	n, err := s.Store.ReplaceOrders(r.Context(), orders)
	if err != nil {
		if errors.Is(err, store.ErrFleetLocked) {
			writeProblem(w, http.StatusConflict, "Locked assignment", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n})
}

type optimizeResponse struct {
	model.PlanRecord
	Solve opt.SolveMetrics `json:"solve"`
}

// OptimizeHandler runs one planning cycle over the stored snapshot and
// persists the resulting plan.
// POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher role required", r.URL.Path)
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow() {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "optimize rate exceeded", r.URL.Path)
		return
	}
	ctx := r.Context()

	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}

	vehicles, err := s.Store.ListVehicles(ctx)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	orders, err := s.plannableOrders(ctx)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	locked, err := s.Store.ListLockedAssignments(ctx)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}

	budget := msToDuration(s.Cfg.Solver.TimeBudgetMs)
	if req.TimeBudgetMs > 0 {
		budget = msToDuration(req.TimeBudgetMs)
	}
	plan, err := opt.Optimize(ctx, opt.Input{
		Vehicles: vehicles,
		Orders:   orders,
		Locked:   locked,
		Params:   req.Parameters,
		Options: opt.Options{
			Algorithm:       req.Algorithm,
			TimeBudget:      budget,
			SpeedKph:        s.Cfg.Solver.SpeedKph,
			NoAssignPenalty: s.Cfg.Solver.NoAssignPenalty,
			MaxExactPairs:   s.Cfg.Solver.MaxExactPairs,
		},
	})
	if err != nil {
		var ve *opt.ValidationError
		if errors.As(err, &ve) {
			metrics.Solves.WithLabelValues("unknown", "validation_error").Inc()
			writeProblem(w, http.StatusBadRequest, "Invalid snapshot", ve.Error(), r.URL.Path)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.Solves.WithLabelValues("unknown", "error").Inc()
		writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
		return
	}

	saved, err := s.Store.SavePlan(ctx, model.PlanRecord{
		Params:      req.Parameters,
		Assignments: plan.Assignments,
		Unassigned:  plan.Unassigned,
		Metrics:     plan.Metrics,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}

	metrics.Solves.WithLabelValues(plan.Metrics.Algorithm, "ok").Inc()
	metrics.SolveDuration.WithLabelValues(plan.Metrics.Algorithm).
		Observe(float64(plan.Metrics.SolveMs) / 1000)
	metrics.UnassignedOrders.Set(float64(plan.Metrics.UnassignedOrders))
	metrics.FleetUtilization.Set(plan.Metrics.FleetUtilizationPct)

	s.Broker.Publish(TopicPlan, Event{Type: webhooks.EventPlanCompleted, Data: map[string]any{
		"planId":           saved.ID,
		"assignedOrders":   plan.Metrics.AssignedOrders,
		"unassignedOrders": plan.Metrics.UnassignedOrders,
		"algorithm":        plan.Metrics.Algorithm,
	}})
	s.Pub.Emit(ctx, webhooks.EventPlanCompleted, saved)

	s.Log.Info().
		Str("planId", saved.ID).
		Str("algorithm", plan.Metrics.Algorithm).
		Int("assigned", plan.Metrics.AssignedOrders).
		Int("unassigned", plan.Metrics.UnassignedOrders).
		Int64("solveMs", plan.Metrics.SolveMs).
		Msg("plan completed")

	writeJSON(w, http.StatusOK, optimizeResponse{PlanRecord: saved, Solve: plan.Solve})
}

// plannableOrders returns the orders a run may touch: pending plus
// assigned, so locked assignments keep their orders in the snapshot.
func (s *Server) plannableOrders(ctx context.Context) ([]model.Order, error) {
	all, err := s.Store.ListOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(all))
	for _, o := range all {
		switch o.Status {
		case "", model.OrderPending, model.OrderAssigned:
			out = append(out, o)
		}
	}
	return out, nil
}

// AssignmentsHandler lists the latest plan's assignments.
// GET /v1/assignments
func (s *Server) AssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	as, err := s.Store.ListAssignments(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": as})
}

// AssignmentByIDHandler toggles the lock on one assignment.
// POST /v1/assignments/{id}/lock, POST /v1/assignments/{id}/unlock
func (s *Server) AssignmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/assignments/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
		return
	}
	id, action := parts[0], parts[1]
	if r.Method != http.MethodPost || (action != "lock" && action != "unlock") {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher role required", r.URL.Path)
		return
	}
	ctx := r.Context()
	a, err := s.Store.SetAssignmentLock(ctx, id, action == "lock")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not found", "no such assignment in latest plan", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	eventType := webhooks.EventAssignmentLocked
	if action == "unlock" {
		eventType = webhooks.EventAssignmentUnlocked
	}
	s.Broker.Publish(TopicPlan, Event{Type: eventType, Data: map[string]any{
		"assignmentId": a.ID, "vehicleId": a.VehicleID, "orderId": a.OrderID,
	}})
	s.Pub.Emit(ctx, eventType, a)
	writeJSON(w, http.StatusOK, a)
}

// PlanHandler returns the latest plan.
// GET /v1/plan
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	plan, err := s.Store.LatestPlan(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not found", "no plan yet", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// PlanHistoryHandler lists past plans, newest first.
// GET /v1/plan/history?limit=
func (s *Server) PlanHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	plans, err := s.Store.ListPlans(r.Context(), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// PlanExportHandler streams the latest plan as CSV.
// GET /v1/plan/export?kind=assignments|unassigned|summary
func (s *Server) PlanExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = export.KindAssignments
	}
	if kind != export.KindAssignments && kind != export.KindUnassigned && kind != export.KindSummary {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "unknown export kind: "+kind, r.URL.Path)
		return
	}
	plan, err := s.Store.LatestPlan(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not found", "no plan yet", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "plan_"+kind+".csv"))
	if err := export.WritePlanCSV(w, plan, kind); err != nil {
		s.Log.Error().Err(err).Str("kind", kind).Msg("csv export failed")
	}
}

// PlanStreamHandler pushes plan events over SSE with a periodic
// heartbeat so intermediaries keep the connection open.
// GET /v1/plan/events/stream
func (s *Server) PlanStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.Broker.Subscribe(TopicPlan)
	defer s.Broker.Unsubscribe(TopicPlan, ch)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			data, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// SubscriptionsHandler manages webhook subscriptions. Admin only.
// POST /v1/subscriptions, GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required", r.URL.Path)
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscriptionRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(ctx, req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		subs, err := s.Store.ListSubscriptions(ctx)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// SubscriptionByIDHandler deletes one subscription. Admin only.
// DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not found", "no such subscription", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler lists delivery attempts. Admin only.
// GET /v1/admin/webhook-deliveries?status=&limit=
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})
}

// WebhookDeliveryRetryHandler reschedules a dead delivery. Admin only.
// POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required", r.URL.Path)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "retry" || r.Method != http.MethodPost {
		writeProblem(w, http.StatusNotFound, "Not found", "", r.URL.Path)
		return
	}
	if err := s.Store.RetryWebhookDelivery(r.Context(), parts[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not found", "no such delivery", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
}

// HealthHandler is a liveness probe.
// GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ReadyHandler is a readiness probe: the backing store must answer
// within 500ms.
// GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
