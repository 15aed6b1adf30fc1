package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"sort"

	"transitmap/internal/geo"
)

// ListStops handles GET /api/stops. Supports a q filter on name or code and
// limit/offset paging.
func (h *Handler) ListStops(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParamDefault(r, "limit", 100)
	if !ok || limit <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := intParamDefault(r, "offset", 0)
	if !ok || offset < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	stops, err := h.db.ListStops(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		h.logger.Error("list stops", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeList(w, len(stops), stopFeatures(stops))
}

// GetStop handles GET /api/stops/{id}.
func (h *Handler) GetStop(w http.ResponseWriter, r *http.Request) {
	stop, err := h.db.GetStop(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "stop not found")
		return
	}
	if err != nil {
		h.logger.Error("get stop", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, stopFeature(stop))
}

// NearbyStops handles GET /api/stops/nearby?lat&lon&distance_km. Results are
// filtered to the exact great-circle radius and ordered nearest first.
func (h *Handler) NearbyStops(w http.ResponseWriter, r *http.Request) {
	lat, ok1 := floatParam(r, "lat")
	lon, ok2 := floatParam(r, "lon")
	if !ok1 || !ok2 {
		h.writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	distKM, ok := floatParamDefault(r, "distance_km", 0.5)
	if !ok || distKM <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid distance_km")
		return
	}

	radiusMeters := distKM * 1000
	latDeg, lonDeg := geo.BoundingBoxRadius(lat, radiusMeters)
	candidates, err := h.db.StopsInBox(r.Context(), lat, lon, latDeg, lonDeg)
	if err != nil {
		h.logger.Error("nearby stops", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	// Box prefilter overshoots at the corners; cut to the true radius and
	// order by great-circle distance.
	features := []Feature{}
	for _, s := range candidates {
		d := geo.Distance(lat, lon, s.Lat, s.Lon)
		if d > radiusMeters {
			continue
		}
		f := stopFeature(s)
		f.Properties["distance_m"] = d
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].Properties["distance_m"].(float64) < features[j].Properties["distance_m"].(float64)
	})
	h.writeList(w, len(features), features)
}

// StopsInBounds handles GET /api/stops/in_bounds. Boundary points are included.
func (h *Handler) StopsInBounds(w http.ResponseWriter, r *http.Request) {
	minLat, ok1 := floatParam(r, "min_lat")
	maxLat, ok2 := floatParam(r, "max_lat")
	minLon, ok3 := floatParam(r, "min_lon")
	maxLon, ok4 := floatParam(r, "max_lon")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		h.writeError(w, http.StatusBadRequest, "min_lat, max_lat, min_lon and max_lon are required")
		return
	}
	if minLat > maxLat || minLon > maxLon {
		h.writeError(w, http.StatusBadRequest, "bounds are inverted")
		return
	}

	stops, err := h.db.StopsInBounds(r.Context(), minLat, maxLat, minLon, maxLon)
	if err != nil {
		h.logger.Error("stops in bounds", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeList(w, len(stops), stopFeatures(stops))
}

// KNearestStops handles GET /api/stops/k_nearest?lat&lon&k. Returns exactly k
// stops ordered nearest first, fewer only when the database holds fewer.
func (h *Handler) KNearestStops(w http.ResponseWriter, r *http.Request) {
	lat, ok1 := floatParam(r, "lat")
	lon, ok2 := floatParam(r, "lon")
	if !ok1 || !ok2 {
		h.writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	k, ok := intParamDefault(r, "k", 5)
	if !ok || k <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid k")
		return
	}

	// The database metric is a planar approximation, so overfetch and settle
	// the final order with the exact great-circle distance.
	stops, err := h.db.NearestStops(r.Context(), lat, lon, 4*k)
	if err != nil {
		h.logger.Error("k nearest stops", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	features := make([]Feature, len(stops))
	for i, s := range stops {
		features[i] = stopFeature(s)
		features[i].Properties["distance_m"] = geo.Distance(lat, lon, s.Lat, s.Lon)
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].Properties["distance_m"].(float64) < features[j].Properties["distance_m"].(float64)
	})
	if len(features) > k {
		features = features[:k]
	}
	h.writeList(w, len(features), features)
}

// StopsOnRoute handles GET /api/stops/on_route?route_id. Stops are ordered by
// their first-seen sequence along the route.
func (h *Handler) StopsOnRoute(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("route_id")
	if routeID == "" {
		h.writeError(w, http.StatusBadRequest, "route_id is required")
		return
	}

	stops, err := h.db.StopsOnRoute(r.Context(), routeID)
	if err != nil {
		h.logger.Error("stops on route", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	features := make([]Feature, len(stops))
	for i, s := range stops {
		features[i] = stopFeature(s.StopRow)
		features[i].Properties["stop_sequence"] = s.StopSequence
	}
	h.writeList(w, len(features), features)
}

// StopSchedules handles GET /api/stops/{id}/schedules.
func (h *Handler) StopSchedules(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("id")
	if _, err := h.db.GetStop(r.Context(), stopID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "stop not found")
			return
		}
		h.logger.Error("get stop", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	schedules, err := h.db.SchedulesForStop(r.Context(), stopID)
	if err != nil {
		h.logger.Error("stop schedules", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	results := make([]map[string]any, len(schedules))
	for i, s := range schedules {
		results[i] = map[string]any{
			"trip_id":          s.TripID,
			"route_id":         s.RouteID,
			"route_short_name": s.RouteShort,
			"route_long_name":  s.RouteLong,
			"headsign":         s.Headsign,
			"arrival_time":     s.ArrivalTime,
			"departure_time":   s.DepartureTime,
			"stop_sequence":    s.StopSequence,
		}
	}
	h.writeList(w, len(results), results)
}
