package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"transitmap/internal/storage"
)

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a Handler.
func New(db *storage.DB, logger *slog.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// listResponse is the envelope for every collection endpoint.
type listResponse struct {
	Count   int `json:"count"`
	Results any `json:"results"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

// writeList wraps a slice in the count/results envelope. A nil slice encodes
// as an empty array, not null.
func (h *Handler) writeList(w http.ResponseWriter, count int, results any) {
	if results == nil {
		results = []any{}
	}
	h.writeJSON(w, http.StatusOK, listResponse{Count: count, Results: results})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// floatParam parses a required float query parameter. The second return is
// false if the parameter is missing or malformed; the handler should 400.
func floatParam(r *http.Request, name string) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// floatParamDefault parses an optional float query parameter.
func floatParamDefault(r *http.Request, name string, def float64) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// intParamDefault parses an optional integer query parameter.
func intParamDefault(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
