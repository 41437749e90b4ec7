package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// VehiclePosition is the latest telemetry ping for one vehicle. It is
// ephemeral: the cache is not persisted and restarts empty.
type VehiclePosition struct {
	VehicleID string  `json:"vehicleId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	TS        string  `json:"ts"`
}

// LocationCache keeps the last known position per vehicle.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]VehiclePosition
}

func NewLocationCache() *LocationCache {
	return &LocationCache{m: map[string]VehiclePosition{}}
}

// Upsert stores or updates the latest position for a vehicle.
func (c *LocationCache) Upsert(vehicleID string, lat, lng float64, ts string) {
	if vehicleID == "" {
		return
	}
	c.mu.Lock()
	c.m[vehicleID] = VehiclePosition{VehicleID: vehicleID, Lat: lat, Lng: lng, TS: ts}
	c.mu.Unlock()
}

// List returns all known positions.
func (c *LocationCache) List() []VehiclePosition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]VehiclePosition, 0, len(c.m))
	for _, v := range c.m {
		out = append(out, v)
	}
	return out
}

// LocationsHandler ingests or lists live vehicle positions.
// POST /v1/fleet/locations, GET /v1/fleet/locations
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanDispatch() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher role required", r.URL.Path)
			return
		}
		var pos VehiclePosition
		if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if pos.VehicleID == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid request", "vehicleId is required", r.URL.Path)
			return
		}
		if pos.TS == "" {
			pos.TS = time.Now().UTC().Format(time.RFC3339)
		}
		s.Locations.Upsert(pos.VehicleID, pos.Lat, pos.Lng, pos.TS)
		s.Broker.Publish(TopicPlan, Event{Type: "vehicle.location", Data: map[string]any{
			"vehicleId": pos.VehicleID, "lat": pos.Lat, "lng": pos.Lng, "ts": pos.TS,
		}})
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"locations": s.Locations.List()})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}
