// Package export renders plans as CSV for dispatcher tooling and parses
// CSV order books coming the other way.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dispo/internal/model"
)

// Export kinds accepted by WritePlanCSV.
const (
	KindAssignments = "assignments"
	KindUnassigned  = "unassigned"
	KindSummary     = "summary"
)

// WritePlanCSV renders one view of the plan. Unknown kinds are an error
// so a typo in a query parameter cannot silently return the wrong file.
func WritePlanCSV(w io.Writer, plan model.PlanRecord, kind string) error {
	cw := csv.NewWriter(w)
	switch kind {
	case "", KindAssignments:
		if err := cw.Write([]string{"assignment_id", "vehicle_id", "order_id",
			"approach_km", "transport_km", "distance_km",
			"arrival_h", "load_start_h", "load_end_h", "unload_end_h",
			"score", "locked"}); err != nil {
			return err
		}
		for _, a := range plan.Assignments {
			rec := []string{a.ID, a.VehicleID, a.OrderID,
				f(a.ApproachKm), f(a.TransportKm), f(a.DistanceKm),
				f(a.ArrivalH), f(a.LoadStartH), f(a.LoadEndH), f(a.UnloadEndH),
				f(a.Score), strconv.FormatBool(a.Locked)}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	case KindUnassigned:
		if err := cw.Write([]string{"order_id", "reason"}); err != nil {
			return err
		}
		for _, u := range plan.Unassigned {
			if err := cw.Write([]string{u.OrderID, string(u.Reason)}); err != nil {
				return err
			}
		}
	case KindSummary:
		m := plan.Metrics
		rows := [][]string{
			{"metric", "value"},
			{"plan_id", plan.ID},
			{"total_vehicles", strconv.Itoa(m.TotalVehicles)},
			{"total_orders", strconv.Itoa(m.TotalOrders)},
			{"assigned_orders", strconv.Itoa(m.AssignedOrders)},
			{"unassigned_orders", strconv.Itoa(m.UnassignedOrders)},
			{"locked_assignments", strconv.Itoa(m.LockedAssignments)},
			{"total_distance_km", f(m.TotalDistanceKm)},
			{"fleet_utilization_pct", f(m.FleetUtilizationPct)},
			{"algorithm", m.Algorithm},
			{"heuristic_used", strconv.FormatBool(m.HeuristicUsed)},
		}
		for _, rec := range rows {
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown export kind %q", kind)
	}
	cw.Flush()
	return cw.Error()
}

// OrdersFromCSV parses a header-addressed order book. Required columns:
// id, priority, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
// weight_kg, load_early_h, load_late_h, loading_h, unloading_h.
func OrdersFromCSV(r io.Reader) ([]model.Order, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	required := []string{"id", "priority", "pickup_lat", "pickup_lng",
		"delivery_lat", "delivery_lng", "weight_kg",
		"load_early_h", "load_late_h", "loading_h", "unloading_h"}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	out := []model.Order{}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		get := func(name string) string { return strings.TrimSpace(rec[col[name]]) }
		num := func(name string) (float64, error) {
			v, err := strconv.ParseFloat(get(name), 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: column %q: %w", line, name, err)
			}
			return v, nil
		}
		o := model.Order{ID: get("id"), Status: model.OrderPending}
		if o.ID == "" {
			return nil, fmt.Errorf("line %d: empty id", line)
		}
		prio, err := strconv.Atoi(get("priority"))
		if err != nil {
			return nil, fmt.Errorf("line %d: column \"priority\": %w", line, err)
		}
		o.Priority = prio
		fields := []struct {
			name string
			dst  *float64
		}{
			{"pickup_lat", &o.Pickup.Lat},
			{"pickup_lng", &o.Pickup.Lng},
			{"delivery_lat", &o.Delivery.Lat},
			{"delivery_lng", &o.Delivery.Lng},
			{"weight_kg", &o.WeightKg},
			{"load_early_h", &o.LoadEarlyH},
			{"load_late_h", &o.LoadLateH},
			{"loading_h", &o.LoadingH},
			{"unloading_h", &o.UnloadingH},
		}
		for _, fl := range fields {
			v, err := num(fl.name)
			if err != nil {
				return nil, err
			}
			*fl.dst = v
		}
		out = append(out, o)
	}
	return out, nil
}

func f(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
