package opt

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispo/internal/model"
)

// Fixtures live on a north-south line at lng 10; one degree of latitude
// is roughly 111 km, so distances are easy to reason about.

func pt(lat float64) model.GeoPoint { return model.GeoPoint{Lat: lat, Lng: 10} }

func testVehicle(id string, lat, capKg float64) model.Vehicle {
	return model.Vehicle{
		ID:              id,
		Name:            "truck " + id,
		CapacityKg:      capKg,
		Location:        pt(lat),
		AvailableFromH:  6,
		AvailableUntilH: 20,
		Status:          model.VehicleIdle,
	}
}

func testOrder(id string, priority int, weightKg float64) model.Order {
	return model.Order{
		ID:         id,
		Priority:   priority,
		Pickup:     pt(50),
		Delivery:   pt(51),
		WeightKg:   weightKg,
		LoadEarlyH: 8,
		LoadLateH:  14,
		LoadingH:   1,
		UnloadingH: 1,
		Status:     model.OrderPending,
	}
}

func testParams() model.Parameters {
	return model.Parameters{DistancePriority: 1, TimeWindowPriority: 0.5, OrderPriorityWeight: 0.2}
}

func mustOptimize(t *testing.T, in Input) *Plan {
	t.Helper()
	plan, err := Optimize(context.Background(), in)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	return plan
}

// checkInvariants verifies the guarantees every plan must hold: no
// vehicle or order appears twice, every id resolves, and assigned plus
// unassigned covers the order book exactly.
func checkInvariants(t *testing.T, in Input, plan *Plan) {
	t.Helper()
	vehicleIDs := map[string]bool{}
	for _, v := range in.Vehicles {
		vehicleIDs[v.ID] = true
	}
	orderIDs := map[string]bool{}
	for _, o := range in.Orders {
		orderIDs[o.ID] = true
	}

	seenV := map[string]bool{}
	seenO := map[string]bool{}
	for _, a := range plan.Assignments {
		if !vehicleIDs[a.VehicleID] {
			t.Fatalf("assignment %s references unknown vehicle %s", a.ID, a.VehicleID)
		}
		if !orderIDs[a.OrderID] {
			t.Fatalf("assignment %s references unknown order %s", a.ID, a.OrderID)
		}
		if seenV[a.VehicleID] {
			t.Fatalf("vehicle %s assigned twice", a.VehicleID)
		}
		if seenO[a.OrderID] {
			t.Fatalf("order %s assigned twice", a.OrderID)
		}
		seenV[a.VehicleID] = true
		seenO[a.OrderID] = true
	}
	for _, u := range plan.Unassigned {
		if !orderIDs[u.OrderID] {
			t.Fatalf("unassigned entry references unknown order %s", u.OrderID)
		}
		if seenO[u.OrderID] {
			t.Fatalf("order %s both assigned and unassigned", u.OrderID)
		}
		seenO[u.OrderID] = true
	}
	if got := len(plan.Assignments) + len(plan.Unassigned); got != len(in.Orders) {
		t.Fatalf("assigned+unassigned = %d, want %d", got, len(in.Orders))
	}
}

func TestOptimizeSingleOrderPicksNearerVehicle(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{
			testVehicle("v1", 50.05, 10000),
			testVehicle("v2", 50.30, 20000),
		},
		Orders: []model.Order{testOrder("o1", 2, 5000)},
		Params: testParams(),
	}
	plan := mustOptimize(t, in)
	checkInvariants(t, in, plan)

	if len(plan.Assignments) != 1 || len(plan.Unassigned) != 0 {
		t.Fatalf("got %d assignments, %d unassigned", len(plan.Assignments), len(plan.Unassigned))
	}
	a := plan.Assignments[0]
	if a.VehicleID != "v1" {
		t.Fatalf("expected nearer vehicle v1, got %s", a.VehicleID)
	}
	if a.ID != "asg_v1_o1" {
		t.Fatalf("assignment id: got %s", a.ID)
	}
	if a.DistanceKm <= 0 || a.DistanceKm != a.ApproachKm+a.TransportKm {
		t.Fatalf("distance bookkeeping off: %+v", a)
	}
	if a.LoadStartH < 8 || a.UnloadEndH > 20 {
		t.Fatalf("schedule outside windows: %+v", a)
	}
	if plan.Metrics.Algorithm != AlgorithmExact || plan.Metrics.HeuristicUsed {
		t.Fatalf("expected exact solve, got %+v", plan.Metrics)
	}
}

func TestOptimizeCapacityExcludesOrder(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 5000)},
		Orders:   []model.Order{testOrder("o1", 2, 8000)},
		Params:   testParams(),
	}
	plan := mustOptimize(t, in)
	checkInvariants(t, in, plan)

	if len(plan.Assignments) != 0 || len(plan.Unassigned) != 1 {
		t.Fatalf("got %d assignments, %d unassigned", len(plan.Assignments), len(plan.Unassigned))
	}
	u := plan.Unassigned[0]
	if u.OrderID != "o1" || u.Reason != model.ReasonNoFeasibleVehicle {
		t.Fatalf("unexpected unassigned entry: %+v", u)
	}
}

func TestOptimizeLockedAssignmentSurvivesVerbatim(t *testing.T) {
	locked := model.Assignment{
		ID:          "asg_v1_o1",
		VehicleID:   "v1",
		OrderID:     "o1",
		ApproachKm:  5.5,
		TransportKm: 111.2,
		DistanceKm:  116.7,
		ArrivalH:    6.07,
		LoadStartH:  8,
		LoadEndH:    9,
		UnloadEndH:  11.4,
		Score:       0.42,
		Status:      string(model.OrderAssigned),
	}
	in := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
		Orders:   []model.Order{testOrder("o1", 2, 5000), testOrder("o2", 2, 5000)},
		Locked:   []model.Assignment{locked},
		Params:   testParams(),
	}
	plan := mustOptimize(t, in)
	checkInvariants(t, in, plan)

	if len(plan.Assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(plan.Assignments))
	}
	got := plan.Assignments[0]
	want := locked
	want.Locked = true
	if got != want {
		t.Fatalf("locked assignment changed:\n got %+v\nwant %+v", got, want)
	}
	if len(plan.Unassigned) != 1 || plan.Unassigned[0].OrderID != "o2" {
		t.Fatalf("expected o2 unassigned, got %+v", plan.Unassigned)
	}
	if plan.Unassigned[0].Reason != model.ReasonNoFeasibleVehicle {
		t.Fatalf("reason: got %s", plan.Unassigned[0].Reason)
	}
	if plan.Metrics.LockedAssignments != 1 {
		t.Fatalf("metrics.LockedAssignments: got %d", plan.Metrics.LockedAssignments)
	}
}

func TestOptimizeTimeBudgetFallsBackToGreedy(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{
			testVehicle("v1", 50.05, 10000),
			testVehicle("v2", 50.10, 10000),
			testVehicle("v3", 50.20, 10000),
		},
		Orders: []model.Order{
			testOrder("o1", 1, 4000),
			testOrder("o2", 2, 4000),
			testOrder("o3", 3, 4000),
		},
		Params:  testParams(),
		Options: Options{TimeBudget: time.Nanosecond},
	}
	plan := mustOptimize(t, in)
	checkInvariants(t, in, plan)

	if !plan.Metrics.HeuristicUsed || plan.Metrics.Algorithm != AlgorithmGreedy {
		t.Fatalf("expected greedy fallback, got %+v", plan.Metrics)
	}
	if plan.Solve.FallbackReason == "" {
		t.Fatalf("expected a fallback reason")
	}
	if len(plan.Assignments) != 3 {
		t.Fatalf("got %d assignments, want 3", len(plan.Assignments))
	}
}

func TestOptimizePairBudgetFallsBackToGreedy(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000), testVehicle("v2", 50.10, 10000)},
		Orders:   []model.Order{testOrder("o1", 2, 4000), testOrder("o2", 2, 4000)},
		Params:   testParams(),
		Options:  Options{MaxExactPairs: 3}, // 2*2 exceeds it
	}
	plan := mustOptimize(t, in)
	checkInvariants(t, in, plan)
	if !plan.Metrics.HeuristicUsed || plan.Metrics.Algorithm != AlgorithmGreedy {
		t.Fatalf("expected greedy fallback, got %+v", plan.Metrics)
	}
}

func TestOptimizeForcedExactIgnoresPairBudget(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000), testVehicle("v2", 50.10, 10000)},
		Orders:   []model.Order{testOrder("o1", 2, 4000), testOrder("o2", 2, 4000)},
		Params:   testParams(),
		Options:  Options{Algorithm: AlgorithmExact, MaxExactPairs: 3},
	}
	plan := mustOptimize(t, in)
	if plan.Metrics.Algorithm != AlgorithmExact || plan.Metrics.HeuristicUsed {
		t.Fatalf("expected forced exact, got %+v", plan.Metrics)
	}
}

// The exact path must beat the greedy one when greedy's myopic pick
// strands an order: v1 suits both orders, v2 suits only o1 (o2 is too
// heavy for it). Greedy hands v1 to o1 and strands o2; exact assigns
// o1 to v2 and o2 to v1.
func TestOptimizeExactAvoidsGreedyTrap(t *testing.T) {
	v1 := testVehicle("v1", 50.05, 10000)
	v2 := testVehicle("v2", 50.20, 6000)
	o1 := testOrder("o1", 2, 5000)
	o2 := testOrder("o2", 2, 8000)
	o2.LoadEarlyH = 9

	exact := mustOptimize(t, Input{
		Vehicles: []model.Vehicle{v1, v2},
		Orders:   []model.Order{o1, o2},
		Params:   testParams(),
	})
	if len(exact.Assignments) != 2 {
		t.Fatalf("exact: got %d assignments, want 2", len(exact.Assignments))
	}
	byOrder := map[string]string{}
	for _, a := range exact.Assignments {
		byOrder[a.OrderID] = a.VehicleID
	}
	if byOrder["o1"] != "v2" || byOrder["o2"] != "v1" {
		t.Fatalf("exact matching: got %v", byOrder)
	}

	greedy := mustOptimize(t, Input{
		Vehicles: []model.Vehicle{v1, v2},
		Orders:   []model.Order{o1, o2},
		Params:   testParams(),
		Options:  Options{Algorithm: AlgorithmGreedy},
	})
	if len(greedy.Assignments) != 1 {
		t.Fatalf("greedy: got %d assignments, want 1", len(greedy.Assignments))
	}
	if greedy.Assignments[0].OrderID != "o1" || greedy.Assignments[0].VehicleID != "v1" {
		t.Fatalf("greedy pick: got %+v", greedy.Assignments[0])
	}
	if greedy.Unassigned[0].Reason != model.ReasonOutcompeted {
		t.Fatalf("greedy reason: got %s", greedy.Unassigned[0].Reason)
	}
}

func TestOptimizeHigherPriorityWinsScarceVehicle(t *testing.T) {
	urgent := testOrder("o-urgent", 1, 4000)
	routine := testOrder("o-routine", 3, 4000)
	in := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
		Orders:   []model.Order{routine, urgent},
		Params:   testParams(),
	}
	for _, algo := range []string{AlgorithmExact, AlgorithmGreedy} {
		in.Options = Options{Algorithm: algo}
		plan := mustOptimize(t, in)
		if len(plan.Assignments) != 1 {
			t.Fatalf("%s: got %d assignments", algo, len(plan.Assignments))
		}
		if plan.Assignments[0].OrderID != "o-urgent" {
			t.Fatalf("%s: vehicle went to %s, want o-urgent", algo, plan.Assignments[0].OrderID)
		}
	}
}

func TestOptimizeInvalidWindowReportedPerOrder(t *testing.T) {
	bad := testOrder("o-bad", 2, 4000)
	bad.LoadEarlyH = 10
	bad.LoadLateH = 10.2 // cannot fit 1h of loading
	in := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
		Orders:   []model.Order{testOrder("o-ok", 2, 4000), bad},
		Params:   testParams(),
	}
	plan := mustOptimize(t, in)
	checkInvariants(t, in, plan)
	if len(plan.Unassigned) != 1 || plan.Unassigned[0].Reason != model.ReasonInvalidWindow {
		t.Fatalf("unassigned: got %+v", plan.Unassigned)
	}
	if len(plan.Assignments) != 1 || plan.Assignments[0].OrderID != "o-ok" {
		t.Fatalf("assignments: got %+v", plan.Assignments)
	}
}

// Feeding a plan's assignments back as locks must reproduce the same
// vehicle/order pairs.
func TestOptimizeIdempotentUnderLocks(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{
			testVehicle("v1", 50.02, 10000),
			testVehicle("v2", 50.10, 10000),
			testVehicle("v3", 50.40, 8000),
		},
		Orders: []model.Order{
			testOrder("o1", 1, 4000),
			testOrder("o2", 2, 6000),
			testOrder("o3", 3, 7000),
		},
		Params: testParams(),
	}
	first := mustOptimize(t, in)
	checkInvariants(t, in, first)

	in.Locked = first.Assignments
	second := mustOptimize(t, in)
	checkInvariants(t, in, second)

	pairs := func(p *Plan) map[string]string {
		m := map[string]string{}
		for _, a := range p.Assignments {
			m[a.OrderID] = a.VehicleID
		}
		return m
	}
	fp, sp := pairs(first), pairs(second)
	if len(fp) != len(sp) {
		t.Fatalf("assignment count changed: %d -> %d", len(fp), len(sp))
	}
	for o, v := range fp {
		if sp[o] != v {
			t.Fatalf("order %s moved from %s to %s", o, v, sp[o])
		}
	}
}

func TestOptimizeAddingVehicleNeverHurts(t *testing.T) {
	orders := []model.Order{
		testOrder("o1", 1, 4000),
		testOrder("o2", 2, 4000),
		testOrder("o3", 3, 4000),
	}
	base := Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
		Orders:   orders,
		Params:   testParams(),
	}
	before := mustOptimize(t, base)

	grown := base
	grown.Vehicles = append([]model.Vehicle{testVehicle("v0", 50.01, 10000)}, base.Vehicles...)
	after := mustOptimize(t, grown)

	if len(after.Unassigned) > len(before.Unassigned) {
		t.Fatalf("adding a vehicle raised unassigned: %d -> %d",
			len(before.Unassigned), len(after.Unassigned))
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{
			testVehicle("v2", 50.10, 10000),
			testVehicle("v1", 50.10, 10000), // same spot as v2 on purpose
			testVehicle("v3", 50.40, 8000),
		},
		Orders: []model.Order{
			testOrder("o2", 2, 4000),
			testOrder("o1", 2, 4000),
		},
		Params: testParams(),
	}
	first := mustOptimize(t, in)
	for i := 0; i < 5; i++ {
		again := mustOptimize(t, in)
		if len(again.Assignments) != len(first.Assignments) {
			t.Fatalf("run %d: assignment count changed", i)
		}
		for j := range first.Assignments {
			if again.Assignments[j] != first.Assignments[j] {
				t.Fatalf("run %d: assignment %d differs: %+v vs %+v",
					i, j, again.Assignments[j], first.Assignments[j])
			}
		}
	}
}

func TestOptimizeEmptyInputs(t *testing.T) {
	plan := mustOptimize(t, Input{Params: testParams()})
	if len(plan.Assignments) != 0 || len(plan.Unassigned) != 0 {
		t.Fatalf("empty input produced %+v", plan)
	}
	if plan.Metrics.FleetUtilizationPct != 0 {
		t.Fatalf("utilization on empty fleet: %f", plan.Metrics.FleetUtilizationPct)
	}

	plan = mustOptimize(t, Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
		Params:   testParams(),
	})
	if len(plan.Assignments) != 0 {
		t.Fatalf("orders absent but assignments produced: %+v", plan.Assignments)
	}
}

func TestOptimizeValidationErrors(t *testing.T) {
	ok := func() Input {
		return Input{
			Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
			Orders:   []model.Order{testOrder("o1", 2, 4000)},
			Params:   testParams(),
		}
	}
	cases := []struct {
		name   string
		mutate func(*Input)
	}{
		{"empty vehicle id", func(in *Input) { in.Vehicles[0].ID = "" }},
		{"duplicate vehicle id", func(in *Input) { in.Vehicles = append(in.Vehicles, in.Vehicles[0]) }},
		{"non-positive capacity", func(in *Input) { in.Vehicles[0].CapacityKg = -1 }},
		{"empty order id", func(in *Input) { in.Orders[0].ID = "" }},
		{"duplicate order id", func(in *Input) { in.Orders = append(in.Orders, in.Orders[0]) }},
		{"non-positive weight", func(in *Input) { in.Orders[0].WeightKg = 0 }},
		{"priority out of range", func(in *Input) { in.Orders[0].Priority = 4 }},
		{"negative weight parameter", func(in *Input) { in.Params.DistancePriority = -0.1 }},
		{"lock references unknown vehicle", func(in *Input) {
			in.Locked = []model.Assignment{{ID: "a1", VehicleID: "ghost", OrderID: "o1"}}
		}},
		{"lock references unknown order", func(in *Input) {
			in.Locked = []model.Assignment{{ID: "a1", VehicleID: "v1", OrderID: "ghost"}}
		}},
		{"vehicle locked twice", func(in *Input) {
			in.Orders = append(in.Orders, testOrder("o2", 2, 4000))
			in.Locked = []model.Assignment{
				{ID: "a1", VehicleID: "v1", OrderID: "o1"},
				{ID: "a2", VehicleID: "v1", OrderID: "o2"},
			}
		}},
		{"order locked twice", func(in *Input) {
			in.Vehicles = append(in.Vehicles, testVehicle("v2", 50.10, 10000))
			in.Locked = []model.Assignment{
				{ID: "a1", VehicleID: "v1", OrderID: "o1"},
				{ID: "a2", VehicleID: "v2", OrderID: "o1"},
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := ok()
			tc.mutate(&in)
			_, err := Optimize(context.Background(), in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestOptimizeContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Optimize(ctx, Input{
		Vehicles: []model.Vehicle{testVehicle("v1", 50.05, 10000)},
		Orders:   []model.Order{testOrder("o1", 2, 4000)},
		Params:   testParams(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOptimizeMetrics(t *testing.T) {
	in := Input{
		Vehicles: []model.Vehicle{
			testVehicle("v1", 50.05, 10000),
			testVehicle("v2", 50.10, 10000),
		},
		Orders: []model.Order{testOrder("o1", 2, 4000)},
		Params: testParams(),
	}
	plan := mustOptimize(t, in)
	m := plan.Metrics
	if m.TotalVehicles != 2 || m.TotalOrders != 1 {
		t.Fatalf("totals: %+v", m)
	}
	if m.AssignedOrders != 1 || m.UnassignedOrders != 0 {
		t.Fatalf("counts: %+v", m)
	}
	if m.FleetUtilizationPct != 50 {
		t.Fatalf("utilization: got %f, want 50", m.FleetUtilizationPct)
	}
	if m.TotalDistanceKm <= 0 {
		t.Fatalf("total distance: %f", m.TotalDistanceKm)
	}
}
