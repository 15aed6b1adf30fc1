package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"transitmap/internal/storage"
)

// validQueryTypes are the query kinds a saved spatial query may describe.
var validQueryTypes = map[string]bool{
	"radius":   true,
	"bbox":     true,
	"polygon":  true,
	"corridor": true,
}

type spatialQueryRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	QueryType   string          `json:"query_type"`
	Geometry    json.RawMessage `json:"geometry"`
	Parameters  json.RawMessage `json:"parameters"`
	CreatedBy   string          `json:"created_by"`
}

func spatialQueryJSON(q storage.SpatialQueryRow) map[string]any {
	return map[string]any{
		"id":          q.ID,
		"name":        q.Name,
		"description": q.Description,
		"query_type":  q.QueryType,
		"geometry":    json.RawMessage(q.Geometry),
		"parameters":  json.RawMessage(q.Parameters),
		"created_by":  q.CreatedBy,
		"created_at":  q.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListSpatialQueries handles GET /api/spatial-queries with an optional
// query_type filter.
func (h *Handler) ListSpatialQueries(w http.ResponseWriter, r *http.Request) {
	queryType := r.URL.Query().Get("query_type")
	if queryType != "" && !validQueryTypes[queryType] {
		h.writeError(w, http.StatusBadRequest, "invalid query_type")
		return
	}

	queries, err := h.db.ListSpatialQueries(r.Context(), queryType)
	if err != nil {
		h.logger.Error("list spatial queries", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	results := make([]map[string]any, len(queries))
	for i, q := range queries {
		results[i] = spatialQueryJSON(q)
	}
	h.writeList(w, len(results), results)
}

// CreateSpatialQuery handles POST /api/spatial-queries.
func (h *Handler) CreateSpatialQuery(w http.ResponseWriter, r *http.Request) {
	var req spatialQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validQueryTypes[req.QueryType] {
		h.writeError(w, http.StatusBadRequest, "invalid query_type")
		return
	}
	if len(req.Geometry) == 0 || !json.Valid(req.Geometry) {
		h.writeError(w, http.StatusBadRequest, "geometry must be a JSON object")
		return
	}
	params := req.Parameters
	if len(params) == 0 {
		params = json.RawMessage("{}")
	} else if !json.Valid(params) {
		h.writeError(w, http.StatusBadRequest, "parameters must be a JSON object")
		return
	}

	row := storage.SpatialQueryRow{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		QueryType:   req.QueryType,
		Geometry:    string(req.Geometry),
		Parameters:  string(params),
		CreatedBy:   req.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.db.InsertSpatialQuery(r.Context(), row); err != nil {
		h.logger.Error("create spatial query", "error", err)
		h.writeError(w, http.StatusInternalServerError, "insert failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, spatialQueryJSON(row))
}

// GetSpatialQuery handles GET /api/spatial-queries/{id}.
func (h *Handler) GetSpatialQuery(w http.ResponseWriter, r *http.Request) {
	q, err := h.db.GetSpatialQuery(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "spatial query not found")
		return
	}
	if err != nil {
		h.logger.Error("get spatial query", "error", err)
		h.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, spatialQueryJSON(q))
}

// DeleteSpatialQuery handles DELETE /api/spatial-queries/{id}.
func (h *Handler) DeleteSpatialQuery(w http.ResponseWriter, r *http.Request) {
	err := h.db.DeleteSpatialQuery(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "spatial query not found")
		return
	}
	if err != nil {
		h.logger.Error("delete spatial query", "error", err)
		h.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
