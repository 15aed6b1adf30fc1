package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"transitmap/internal/config"
	"transitmap/internal/handler"
	"transitmap/internal/storage"
)

// Server is the HTTP API server.
type Server struct {
	http   *http.Server
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Server with all routes registered.
func New(cfg *config.Config, db *storage.DB, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	h := handler.New(db, logger)

	// Stops
	mux.HandleFunc("GET /api/stops", h.ListStops)
	mux.HandleFunc("GET /api/stops/nearby", h.NearbyStops)
	mux.HandleFunc("GET /api/stops/in_bounds", h.StopsInBounds)
	mux.HandleFunc("GET /api/stops/k_nearest", h.KNearestStops)
	mux.HandleFunc("GET /api/stops/on_route", h.StopsOnRoute)
	mux.HandleFunc("GET /api/stops/{id}", h.GetStop)
	mux.HandleFunc("GET /api/stops/{id}/schedules", h.StopSchedules)

	// Routes
	mux.HandleFunc("GET /api/routes", h.ListRoutes)
	mux.HandleFunc("GET /api/routes/{id}", h.GetRoute)

	// Shapes
	mux.HandleFunc("GET /api/shapes", h.ListShapes)
	mux.HandleFunc("GET /api/shapes/in_bounds", h.ShapesInBounds)
	mux.HandleFunc("GET /api/shapes/nearby", h.NearbyShapes)
	mux.HandleFunc("GET /api/shapes/trips", h.ShapeTrips)

	// Vehicles
	mux.HandleFunc("GET /api/vehicles", h.ListVehicles)
	mux.HandleFunc("GET /api/vehicles/congestion", h.Congestion)

	// Saved spatial queries
	mux.HandleFunc("GET /api/spatial-queries", h.ListSpatialQueries)
	mux.HandleFunc("POST /api/spatial-queries", h.CreateSpatialQuery)
	mux.HandleFunc("GET /api/spatial-queries/{id}", h.GetSpatialQuery)
	mux.HandleFunc("DELETE /api/spatial-queries/{id}", h.DeleteSpatialQuery)

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      withMiddleware(mux, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ListenAndServe starts the HTTP server. Blocks until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server starting", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
