package model

import "time"

// Domain types shared by the engine, the stores and the API.

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VehicleStatus is informational only; eligibility for planning is
// derived from locks, not from status.
type VehicleStatus string

const (
	VehicleIdle        VehicleStatus = "idle"
	VehicleLoading     VehicleStatus = "loading"
	VehicleEnRoute     VehicleStatus = "en-route"
	VehicleDelivering  VehicleStatus = "delivering"
	VehicleMaintenance VehicleStatus = "maintenance"
)

// Vehicle is one truck in the fleet snapshot. All times are hours of day
// (0.0 = midnight); the availability window is [AvailableFromH, AvailableUntilH).
type Vehicle struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	CapacityKg     float64       `json:"capacityKg"`
	Location       GeoPoint      `json:"location"`
	AvailableFromH float64       `json:"availableFromH"`
	AvailableUntilH float64      `json:"availableUntilH"`
	Status         VehicleStatus `json:"status,omitempty"`
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderAssigned   OrderStatus = "assigned"
	OrderInProgress OrderStatus = "in-progress"
	OrderCompleted  OrderStatus = "completed"
)

// Order is one transport order. Priority is ordinal: 1 = highest urgency,
// 3 = lowest. Loading must start within [LoadEarlyH, LoadLateH).
type Order struct {
	ID         string      `json:"id"`
	Priority   int         `json:"priority"`
	Pickup     GeoPoint    `json:"pickupLocation"`
	Delivery   GeoPoint    `json:"deliveryLocation"`
	WeightKg   float64     `json:"weightKg"`
	LoadEarlyH float64     `json:"loadEarlyH"`
	LoadLateH  float64     `json:"loadLateH"`
	LoadingH   float64     `json:"loadingDurationH"`
	UnloadingH float64     `json:"unloadingDurationH"`
	Status     OrderStatus `json:"status,omitempty"`
}

// Assignment commits one vehicle to one order for the current planning
// cycle. A locked assignment survives re-optimization untouched.
type Assignment struct {
	ID          string  `json:"id"`
	VehicleID   string  `json:"vehicleId"`
	OrderID     string  `json:"orderId"`
	ApproachKm  float64 `json:"approachKm"`
	TransportKm float64 `json:"transportKm"`
	DistanceKm  float64 `json:"distanceKm"`
	ArrivalH    float64 `json:"estimatedArrivalH"`
	LoadStartH  float64 `json:"loadStartH"`
	LoadEndH    float64 `json:"loadEndH"`
	UnloadEndH  float64 `json:"unloadEndH"`
	Score       float64 `json:"score"`
	Status      string  `json:"status"`
	Locked      bool    `json:"locked"`
}

// Parameters are the per-run objective weights. They are not required to
// sum to one; negative values are rejected.
type Parameters struct {
	DistancePriority    float64 `json:"distancePriority"`
	TimeWindowPriority  float64 `json:"timeWindowPriority"`
	OrderPriorityWeight float64 `json:"orderPriorityWeight"`
}

// UnassignedReason classifies why an order ended a run without a vehicle.
type UnassignedReason string

const (
	// ReasonInvalidWindow: the load window cannot fit the loading
	// duration regardless of any vehicle.
	ReasonInvalidWindow UnassignedReason = "invalid_window"
	// ReasonNoFeasibleVehicle: no vehicle passed the capacity and
	// time-window checks for this order.
	ReasonNoFeasibleVehicle UnassignedReason = "no_feasible_vehicle"
	// ReasonOutcompeted: feasible vehicles existed but were all claimed
	// by better-scoring pairs.
	ReasonOutcompeted UnassignedReason = "outcompeted"
)

// UnassignedOrder reports one unmatched order and why.
type UnassignedOrder struct {
	OrderID string           `json:"orderId"`
	Reason  UnassignedReason `json:"reason"`
}

// PlanMetrics are derived from a finished optimization run.
type PlanMetrics struct {
	TotalVehicles       int     `json:"totalVehicles"`
	TotalOrders         int     `json:"totalOrders"`
	AssignedOrders      int     `json:"assignedOrders"`
	UnassignedOrders    int     `json:"unassignedOrders"`
	LockedAssignments   int     `json:"lockedAssignments"`
	TotalDistanceKm     float64 `json:"totalDistanceKm"`
	FleetUtilizationPct float64 `json:"fleetUtilizationPct"`
	Algorithm           string  `json:"algorithm"`
	HeuristicUsed       bool    `json:"heuristicUsed"`
	SolveMs             int64   `json:"solveMs"`
}

// PlanRecord is one persisted optimization run: the assignment set, the
// unmatched orders and the derived metrics, as returned by the engine.
type PlanRecord struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"createdAt"`
	Params      Parameters        `json:"parameters"`
	Assignments []Assignment      `json:"assignments"`
	Unassigned  []UnassignedOrder `json:"unassignedOrders"`
	Metrics     PlanMetrics       `json:"metrics"`
}

// OptimizeRequest is the body of POST /v1/optimize.
type OptimizeRequest struct {
	Parameters   Parameters `json:"parameters"`
	Algorithm    string     `json:"algorithm,omitempty"` // "", "exact", "greedy"
	TimeBudgetMs int        `json:"timeBudgetMs,omitempty"`
}

// Subscription registers a webhook receiver for plan events.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// SubscriptionRequest is the body of POST /v1/subscriptions.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}
