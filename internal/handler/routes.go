package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"transitmap/internal/storage"
)

func routeJSON(r storage.RouteRow) map[string]any {
	return map[string]any{
		"route_id":         r.RouteID,
		"route_short_name": r.ShortName,
		"route_long_name":  r.LongName,
		"route_type":       r.RouteType,
		"operator":         r.Operator,
	}
}

// ListRoutes handles GET /api/routes with an optional route_type filter.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routeType, ok := intParamDefault(r, "route_type", -1)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid route_type")
		return
	}

	routes, err := h.db.ListRoutes(r.Context(), routeType)
	if err != nil {
		h.logger.Error("list routes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	results := make([]map[string]any, len(routes))
	for i, rt := range routes {
		results[i] = routeJSON(rt)
	}
	h.writeList(w, len(results), results)
}

// GetRoute handles GET /api/routes/{id}.
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.db.GetRoute(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		h.logger.Error("get route", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, routeJSON(route))
}
