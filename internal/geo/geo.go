// Package geo computes travel costs and time-window feasibility for
// vehicle/order pairs. It is a pure leaf: deterministic, no state.
package geo

import (
	"math"

	"dispo/internal/model"
)

// DefaultSpeedKph is the assumed average highway speed for trucks.
const DefaultSpeedKph = 80.0

// WindowEpsH absorbs float rounding at window boundaries.
const WindowEpsH = 0.01

// DistanceKm returns the haversine distance between two points in
// kilometers. Symmetric and non-negative.
func DistanceKm(a, b model.GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// TravelHours converts a distance to driving time at the given speed.
// A non-positive speed yields +Inf, which fails every window check.
func TravelHours(distanceKm, speedKph float64) float64 {
	if speedKph <= 0 {
		return math.Inf(1)
	}
	return distanceKm / speedKph
}

// TimeFeasible is the coarse window test used to prune pairs before the
// full tour walk: with travel time ignored, loading must still be able
// to start inside the order window and both service legs must fit into
// the vehicle's availability. Every pair the tour walk accepts passes
// this test, and widening either window never turns a feasible pair
// infeasible.
func TimeFeasible(v model.Vehicle, o model.Order) bool {
	start := math.Max(v.AvailableFromH, o.LoadEarlyH)
	if start > o.LoadLateH-o.LoadingH+WindowEpsH {
		return false
	}
	return start+o.LoadingH+o.UnloadingH <= v.AvailableUntilH+WindowEpsH
}
