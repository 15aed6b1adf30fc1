package handler

import (
	"net/http"
	"time"

	"transitmap/internal/geo"
	"transitmap/internal/storage"
)

// slowSpeedThreshold marks a vehicle as a congestion candidate, in the feed's
// native speed unit (m/s).
const slowSpeedThreshold = 5.0

func vehicleJSON(v storage.VehicleRow) map[string]any {
	return map[string]any{
		"vehicle_id": v.VehicleID,
		"route_id":   v.RouteID,
		"lat":        v.Lat,
		"lon":        v.Lon,
		"bearing":    v.Bearing,
		"speed":      v.Speed,
		"occupancy":  v.Occupancy,
		"status":     v.Status,
		"timestamp":  v.Timestamp.UTC().Format(time.RFC3339),
	}
}

// ListVehicles handles GET /api/vehicles.
func (h *Handler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.db.ListVehicles(r.Context())
	if err != nil {
		h.logger.Error("list vehicles", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	results := make([]map[string]any, len(vehicles))
	for i, v := range vehicles {
		results[i] = vehicleJSON(v)
	}
	h.writeList(w, len(results), results)
}

// Congestion handles GET /api/vehicles/congestion?distance_km&min_vehicles.
// Slow or stopped vehicles are clustered greedily; each cluster of at least
// min_vehicles becomes one congestion area.
func (h *Handler) Congestion(w http.ResponseWriter, r *http.Request) {
	distKM, ok := floatParamDefault(r, "distance_km", 0.5)
	if !ok || distKM <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid distance_km")
		return
	}
	minVehicles, ok := intParamDefault(r, "min_vehicles", 3)
	if !ok || minVehicles < 1 {
		h.writeError(w, http.StatusBadRequest, "invalid min_vehicles")
		return
	}

	vehicles, err := h.db.SlowVehicles(r.Context(), slowSpeedThreshold)
	if err != nil {
		h.logger.Error("slow vehicles", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	byID := make(map[string]storage.VehicleRow, len(vehicles))
	points := make([]geo.ClusterPoint, len(vehicles))
	for i, v := range vehicles {
		byID[v.VehicleID] = v
		points[i] = geo.ClusterPoint{ID: v.VehicleID, Lat: v.Lat, Lon: v.Lon}
	}

	clusters := geo.GreedyClusters(points, distKM*1000, minVehicles)
	results := make([]map[string]any, len(clusters))
	for i, c := range clusters {
		members := make([]map[string]any, len(c.Points))
		for j, p := range c.Points {
			members[j] = vehicleJSON(byID[p.ID])
		}
		results[i] = map[string]any{
			"center":        []float64{c.CenterLon, c.CenterLat},
			"vehicle_count": len(c.Points),
			"vehicles":      members,
		}
	}
	h.writeList(w, len(results), results)
}
