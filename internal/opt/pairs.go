package opt

import (
	"math"

	"dispo/internal/geo"
	"dispo/internal/model"
)

// windowEpsH absorbs float rounding at window boundaries.
const windowEpsH = geo.WindowEpsH

// Pair is one feasible vehicle/order combination with its precomputed
// tour schedule. V and O index the free pools handed to buildPairs.
type Pair struct {
	V, O        int
	ApproachKm  float64
	TransportKm float64
	ArrivalH    float64 // vehicle reaches the pickup site
	LoadStartH  float64
	LoadEndH    float64
	UnloadEndH  float64
	Score       float64
}

// TotalKm is the distance charged to the assignment: approach plus
// transport leg.
func (p Pair) TotalKm() float64 { return p.ApproachKm + p.TransportKm }

// pairSet is the output of the constraint model: the feasible bipartite
// graph plus per-side indexes and the orders/vehicles with no edge at all.
type pairSet struct {
	pairs     []Pair
	byOrder   [][]int // order index -> indexes into pairs
	byVehicle [][]int
}

func (ps *pairSet) isolatedOrder(o int) bool { return len(ps.byOrder[o]) == 0 }

// schedule walks the full tour for one candidate pair: approach drive,
// loading clamped into the order window, transport, unloading. ok is
// false when the loading start misses the window or the tour overruns
// the vehicle's availability. Stricter than geo.TimeFeasible but
// monotonic in both windows: widening a window never removes a pair.
func schedule(v model.Vehicle, o model.Order, speedKph float64) (Pair, bool) {
	approachKm := geo.DistanceKm(v.Location, o.Pickup)
	arrivalH := v.AvailableFromH + geo.TravelHours(approachKm, speedKph)

	loadStartH := math.Max(arrivalH, o.LoadEarlyH)
	latestStartH := o.LoadLateH - o.LoadingH
	if loadStartH > latestStartH+windowEpsH {
		return Pair{}, false
	}
	loadEndH := loadStartH + o.LoadingH

	transportKm := geo.DistanceKm(o.Pickup, o.Delivery)
	unloadArriveH := loadEndH + geo.TravelHours(transportKm, speedKph)
	unloadEndH := unloadArriveH + o.UnloadingH
	if unloadEndH > v.AvailableUntilH+windowEpsH {
		return Pair{}, false
	}

	return Pair{
		ApproachKm:  approachKm,
		TransportKm: transportKm,
		ArrivalH:    arrivalH,
		LoadStartH:  loadStartH,
		LoadEndH:    loadEndH,
		UnloadEndH:  unloadEndH,
	}, true
}

// buildPairs runs the capacity and tour-schedule checks over every
// vehicle/order combination. O(V*O); fleets and order books are bounded
// to low hundreds per cycle.
func buildPairs(vehicles []model.Vehicle, orders []model.Order, speedKph float64) *pairSet {
	ps := &pairSet{
		byOrder:   make([][]int, len(orders)),
		byVehicle: make([][]int, len(vehicles)),
	}
	for vi, v := range vehicles {
		for oi, o := range orders {
			if v.CapacityKg < o.WeightKg || !geo.TimeFeasible(v, o) {
				continue
			}
			p, ok := schedule(v, o, speedKph)
			if !ok {
				continue
			}
			p.V, p.O = vi, oi
			idx := len(ps.pairs)
			ps.pairs = append(ps.pairs, p)
			ps.byOrder[oi] = append(ps.byOrder[oi], idx)
			ps.byVehicle[vi] = append(ps.byVehicle[vi], idx)
		}
	}
	return ps
}
