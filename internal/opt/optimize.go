// Package opt is the assignment engine: it matches a fleet snapshot to a
// set of transport orders, one vehicle per order and one order per
// vehicle, honoring capacity, time windows and locked assignments, and
// minimizing a weighted blend of distance, window risk and priority.
// Every run is a pure function of its inputs; nothing is shared across
// invocations.
package opt

import (
	"context"
	"fmt"
	"time"

	"dispo/internal/geo"
	"dispo/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultTimeBudget      = 2 * time.Second
	DefaultNoAssignPenalty = 1000.0
	DefaultMaxExactPairs   = 250_000
)

// Options tune a single run. The zero value picks sane defaults.
type Options struct {
	// Algorithm forces a path: "exact", "greedy", or "" for automatic
	// selection with fallback.
	Algorithm string
	// TimeBudget bounds the exact solve; expiry falls back to greedy.
	TimeBudget time.Duration
	// SpeedKph is the assumed average fleet speed for travel times.
	SpeedKph float64
	// NoAssignPenalty is the fixed cost of leaving an order unmatched on
	// the exact path.
	NoAssignPenalty float64
	// MaxExactPairs caps vehicles*orders for the exact path; larger
	// instances go straight to the heuristic.
	MaxExactPairs int
}

func (o Options) withDefaults() Options {
	if o.TimeBudget <= 0 {
		o.TimeBudget = DefaultTimeBudget
	}
	if o.SpeedKph <= 0 {
		o.SpeedKph = geo.DefaultSpeedKph
	}
	if o.NoAssignPenalty <= 0 {
		o.NoAssignPenalty = DefaultNoAssignPenalty
	}
	if o.MaxExactPairs <= 0 {
		o.MaxExactPairs = DefaultMaxExactPairs
	}
	return o
}

// Input is one optimization request: the full snapshot plus the locked
// assignments that must survive the run untouched.
type Input struct {
	Vehicles []model.Vehicle
	Orders   []model.Order
	Locked   []model.Assignment
	Params   model.Parameters
	Options  Options
}

// Plan is the result of a run: the merged assignment set (locked pairs
// verbatim plus newly solved ones), the unmatched orders with reasons,
// and derived metrics. Inputs are never mutated.
type Plan struct {
	Assignments []model.Assignment      `json:"assignments"`
	Unassigned  []model.UnassignedOrder `json:"unassignedOrders"`
	Metrics     model.PlanMetrics       `json:"metrics"`
	Solve       SolveMetrics            `json:"solve"`
}

// Optimize validates the snapshot, carves out the locked pairs, solves
// the free subproblem and merges the results. Solver timeouts and
// oversized instances degrade to the greedy heuristic; only malformed
// input fails the call.
func Optimize(ctx context.Context, in Input) (*Plan, error) {
	opts := in.Options.withDefaults()

	vehicleByID := make(map[string]int, len(in.Vehicles))
	for i, v := range in.Vehicles {
		if v.ID == "" {
			return nil, validationErrorf("vehicles", "vehicle at index %d has empty id", i)
		}
		if _, dup := vehicleByID[v.ID]; dup {
			return nil, validationErrorf("vehicles", "duplicate vehicle id %q", v.ID)
		}
		if v.CapacityKg <= 0 {
			return nil, validationErrorf("vehicles", "vehicle %q: capacity must be positive", v.ID)
		}
		vehicleByID[v.ID] = i
	}
	orderByID := make(map[string]int, len(in.Orders))
	for i, o := range in.Orders {
		if o.ID == "" {
			return nil, validationErrorf("orders", "order at index %d has empty id", i)
		}
		if _, dup := orderByID[o.ID]; dup {
			return nil, validationErrorf("orders", "duplicate order id %q", o.ID)
		}
		if o.WeightKg <= 0 {
			return nil, validationErrorf("orders", "order %q: weight must be positive", o.ID)
		}
		if o.Priority < 1 || o.Priority > 3 {
			return nil, validationErrorf("orders", "order %q: priority must be 1..3", o.ID)
		}
		orderByID[o.ID] = i
	}
	if in.Params.DistancePriority < 0 || in.Params.TimeWindowPriority < 0 || in.Params.OrderPriorityWeight < 0 {
		return nil, validationErrorf("parameters", "weights must be non-negative")
	}

	// Locked pairs are hard constraints: their endpoints must exist and
	// may not repeat. They leave the free pools before solving.
	lockedVehicle := map[string]bool{}
	lockedOrder := map[string]bool{}
	for _, a := range in.Locked {
		if _, ok := vehicleByID[a.VehicleID]; !ok {
			return nil, validationErrorf("lockedAssignments",
				"assignment %q references unknown vehicle %q", a.ID, a.VehicleID)
		}
		if _, ok := orderByID[a.OrderID]; !ok {
			return nil, validationErrorf("lockedAssignments",
				"assignment %q references unknown order %q", a.ID, a.OrderID)
		}
		if lockedVehicle[a.VehicleID] {
			return nil, validationErrorf("lockedAssignments",
				"vehicle %q locked in more than one assignment", a.VehicleID)
		}
		if lockedOrder[a.OrderID] {
			return nil, validationErrorf("lockedAssignments",
				"order %q locked in more than one assignment", a.OrderID)
		}
		lockedVehicle[a.VehicleID] = true
		lockedOrder[a.OrderID] = true
	}

	freeVehicles := make([]model.Vehicle, 0, len(in.Vehicles))
	for _, v := range in.Vehicles {
		if !lockedVehicle[v.ID] {
			freeVehicles = append(freeVehicles, v)
		}
	}
	// Orders whose window cannot fit the loading duration are infeasible
	// by definition; they are reported per order, never fatal.
	freeOrders := make([]model.Order, 0, len(in.Orders))
	var unassigned []model.UnassignedOrder
	for _, o := range in.Orders {
		if lockedOrder[o.ID] {
			continue
		}
		if o.LoadEarlyH+o.LoadingH > o.LoadLateH+windowEpsH {
			unassigned = append(unassigned, model.UnassignedOrder{
				OrderID: o.ID, Reason: model.ReasonInvalidWindow,
			})
			continue
		}
		freeOrders = append(freeOrders, o)
	}

	started := time.Now()
	res, err := solveFree(ctx, freeVehicles, freeOrders, in.Params, opts, started.Add(opts.TimeBudget))
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}

	// Merge: locked assignments pass through verbatim.
	assignments := make([]model.Assignment, 0, len(in.Locked)+len(freeOrders))
	totalKm := 0.0
	for _, a := range in.Locked {
		a.Locked = true
		assignments = append(assignments, a)
		totalKm += a.DistanceKm
	}
	for oi, o := range freeOrders {
		pi := res.chosen[oi]
		if pi < 0 {
			reason := model.ReasonOutcompeted
			if res.pairs.isolatedOrder(oi) {
				reason = model.ReasonNoFeasibleVehicle
			}
			unassigned = append(unassigned, model.UnassignedOrder{OrderID: o.ID, Reason: reason})
			continue
		}
		p := res.pairs.pairs[pi]
		v := freeVehicles[p.V]
		assignments = append(assignments, model.Assignment{
			ID:          fmt.Sprintf("asg_%s_%s", v.ID, o.ID),
			VehicleID:   v.ID,
			OrderID:     o.ID,
			ApproachKm:  p.ApproachKm,
			TransportKm: p.TransportKm,
			DistanceKm:  p.TotalKm(),
			ArrivalH:    p.ArrivalH,
			LoadStartH:  p.LoadStartH,
			LoadEndH:    p.LoadEndH,
			UnloadEndH:  p.UnloadEndH,
			Score:       p.Score,
			Status:      string(model.OrderAssigned),
		})
		totalKm += p.TotalKm()
	}

	m := model.PlanMetrics{
		TotalVehicles:     len(in.Vehicles),
		TotalOrders:       len(in.Orders),
		AssignedOrders:    len(assignments),
		UnassignedOrders:  len(unassigned),
		LockedAssignments: len(in.Locked),
		TotalDistanceKm:   totalKm,
		Algorithm:         res.metrics.Algorithm,
		HeuristicUsed:     res.metrics.HeuristicUsed,
		SolveMs:           time.Since(started).Milliseconds(),
	}
	if len(in.Vehicles) > 0 {
		m.FleetUtilizationPct = float64(len(assignments)) / float64(len(in.Vehicles)) * 100
	}

	return &Plan{
		Assignments: assignments,
		Unassigned:  unassigned,
		Metrics:     m,
		Solve:       res.metrics,
	}, nil
}
