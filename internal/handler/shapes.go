package handler

import (
	"net/http"

	"transitmap/internal/geo"
	"transitmap/internal/storage"
)

// shapeFeaturesWithRoutes decorates shapes with the route of their first trip.
func (h *Handler) shapeFeaturesWithRoutes(r *http.Request, shapes []storage.ShapeRow) ([]Feature, error) {
	ids := make([]string, len(shapes))
	for i, s := range shapes {
		ids[i] = s.ShapeID
	}
	routeInfo, err := h.db.RouteInfoForShapes(r.Context(), ids)
	if err != nil {
		return nil, err
	}

	features := make([]Feature, len(shapes))
	for i, s := range shapes {
		info, ok := routeInfo[s.ShapeID]
		features[i] = shapeFeature(s, info, ok)
	}
	return features, nil
}

// ListShapes handles GET /api/shapes with limit/offset paging. Count reports
// the total number of shapes, not the page size.
func (h *Handler) ListShapes(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParamDefault(r, "limit", 50)
	if !ok || limit <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := intParamDefault(r, "offset", 0)
	if !ok || offset < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	shapes, err := h.db.ListShapes(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list shapes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	total, err := h.db.CountShapes(r.Context())
	if err != nil {
		h.logger.Error("count shapes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	features, err := h.shapeFeaturesWithRoutes(r, shapes)
	if err != nil {
		h.logger.Error("shape route info", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeList(w, total, features)
}

// ShapesInBounds handles GET /api/shapes/in_bounds. A shape matches when its
// polyline actually enters the box, not merely when bounding boxes overlap.
func (h *Handler) ShapesInBounds(w http.ResponseWriter, r *http.Request) {
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

	candidates, err := h.db.ShapesInBox(r.Context(), minLat, maxLat, minLon, maxLon)
	if err != nil {
		h.logger.Error("shapes in bounds", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	rect := geo.Rect{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
	var matched []storage.ShapeRow
	for _, s := range candidates {
		if geo.PolylineIntersectsRect(s.Points, rect) {
			matched = append(matched, s)
		}
	}

	features, err := h.shapeFeaturesWithRoutes(r, matched)
	if err != nil {
		h.logger.Error("shape route info", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeList(w, len(features), features)
}

// NearbyShapes handles GET /api/shapes/nearby?lat&lon&distance_km. A shape
// matches when any point of its polyline lies within the radius.
func (h *Handler) NearbyShapes(w http.ResponseWriter, r *http.Request) {
	lat, ok1 := floatParam(r, "lat")
	lon, ok2 := floatParam(r, "lon")
	if !ok1 || !ok2 {
		h.writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	distKM, ok := floatParamDefault(r, "distance_km", 1.0)
	if !ok || distKM <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid distance_km")
		return
	}
	radiusMeters := distKM * 1000

	// Prefilter by expanding the point to a box and testing shape bboxes.
	latDeg, lonDeg := geo.BoundingBoxRadius(lat, radiusMeters)
	candidates, err := h.db.ShapesInBox(r.Context(), lat-latDeg, lat+latDeg, lon-lonDeg, lon+lonDeg)
	if err != nil {
		h.logger.Error("nearby shapes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	var matched []storage.ShapeRow
	var distances []float64
	for _, s := range candidates {
		d := geo.PolylineDistance(lat, lon, s.Points)
		if d <= radiusMeters {
			matched = append(matched, s)
			distances = append(distances, d)
		}
	}

	features, err := h.shapeFeaturesWithRoutes(r, matched)
	if err != nil {
		h.logger.Error("shape route info", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	for i := range features {
		features[i].Properties["distance_m"] = distances[i]
	}
	h.writeList(w, len(features), features)
}

// ShapeTrips handles GET /api/shapes/trips?shape_id.
func (h *Handler) ShapeTrips(w http.ResponseWriter, r *http.Request) {
	shapeID := r.URL.Query().Get("shape_id")
	if shapeID == "" {
		h.writeError(w, http.StatusBadRequest, "shape_id is required")
		return
	}

	trips, err := h.db.TripsForShape(r.Context(), shapeID)
	if err != nil {
		h.logger.Error("trips for shape", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	results := make([]map[string]any, len(trips))
	for i, t := range trips {
		results[i] = map[string]any{
			"trip_id":          t.TripID,
			"service_id":       t.ServiceID,
			"headsign":         t.Headsign,
			"route_id":         t.RouteID,
			"route_short_name": t.RouteShort,
			"route_long_name":  t.RouteLong,
			"route_type":       t.RouteType,
		}
	}
	h.writeList(w, len(results), results)
}
