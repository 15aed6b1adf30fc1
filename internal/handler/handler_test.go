package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmap/internal/storage"
)

// newTestMux builds a handler over a fresh database with the API routes
// registered the same way the server does.
func newTestMux(t *testing.T) (*http.ServeMux, *storage.DB) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := New(db, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stops", h.ListStops)
	mux.HandleFunc("GET /api/stops/nearby", h.NearbyStops)
	mux.HandleFunc("GET /api/stops/in_bounds", h.StopsInBounds)
	mux.HandleFunc("GET /api/stops/k_nearest", h.KNearestStops)
	mux.HandleFunc("GET /api/stops/on_route", h.StopsOnRoute)
	mux.HandleFunc("GET /api/stops/{id}", h.GetStop)
	mux.HandleFunc("GET /api/stops/{id}/schedules", h.StopSchedules)
	mux.HandleFunc("GET /api/routes", h.ListRoutes)
	mux.HandleFunc("GET /api/routes/{id}", h.GetRoute)
	mux.HandleFunc("GET /api/shapes", h.ListShapes)
	mux.HandleFunc("GET /api/shapes/in_bounds", h.ShapesInBounds)
	mux.HandleFunc("GET /api/shapes/nearby", h.NearbyShapes)
	mux.HandleFunc("GET /api/shapes/trips", h.ShapeTrips)
	mux.HandleFunc("GET /api/vehicles", h.ListVehicles)
	mux.HandleFunc("GET /api/vehicles/congestion", h.Congestion)
	mux.HandleFunc("GET /api/spatial-queries", h.ListSpatialQueries)
	mux.HandleFunc("POST /api/spatial-queries", h.CreateSpatialQuery)
	mux.HandleFunc("GET /api/spatial-queries/{id}", h.GetSpatialQuery)
	mux.HandleFunc("DELETE /api/spatial-queries/{id}", h.DeleteSpatialQuery)
	return mux, db
}

func seedStops(t *testing.T, db *storage.DB) {
	t.Helper()
	_, err := db.InsertStops(context.Background(), []storage.StopRow{
		{StopID: "S1", StopName: "Downtown", Lat: 44.9778, Lon: -93.2650, StopType: "stop"},
		{StopID: "S2", StopName: "Midtown", Lat: 44.9628, Lon: -93.2650, StopType: "stop"},
		{StopID: "S3", StopName: "Uptown Station", Lat: 44.9480, Lon: -93.2980, StopType: "station"},
	})
	require.NoError(t, err)
	require.NoError(t, db.RebuildRTree(context.Background()))
}

func seedNetwork(t *testing.T, db *storage.DB) {
	t.Helper()
	ctx := context.Background()
	seedStops(t, db)
	_, err := db.InsertRoutes(ctx, []storage.RouteRow{
		{RouteID: "R1", ShortName: "10", LongName: "Main Line", RouteType: 3, Operator: "METRO"},
		{RouteID: "R2", ShortName: "Blue", LongName: "Blue Line", RouteType: 0, Operator: "METRO"},
	})
	require.NoError(t, err)
	_, err = db.InsertTrips(ctx, []storage.TripRow{
		{TripID: "T1", RouteID: "R1", ServiceID: "WEEK", Headsign: "Downtown", ShapeID: "SH1"},
	})
	require.NoError(t, err)
	_, err = db.InsertStopTimes(ctx, []storage.StopTimeRow{
		{TripID: "T1", StopID: "S1", StopSequence: 1, ArrivalTime: "08:00:00", DepartureTime: "08:00:30"},
		{TripID: "T1", StopID: "S2", StopSequence: 2, ArrivalTime: "08:06:00", DepartureTime: "08:06:30"},
	})
	require.NoError(t, err)
	_, err = db.InsertShapes(ctx, []storage.ShapeRow{
		{ShapeID: "SH1", Points: [][2]float64{{-93.2650, 44.9778}, {-93.2650, 44.9628}}},
		{ShapeID: "SH2", Points: [][2]float64{{-92.5, 44.5}, {-92.4, 44.5}}},
	})
	require.NoError(t, err)
}

func newBody(s string) io.Reader {
	return strings.NewReader(s)
}

func doGET(t *testing.T, mux *http.ServeMux, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
	return rec
}

type envelope struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestKNearestStops_OrderedNearestFirst(t *testing.T) {
	mux, db := newTestMux(t)
	seedStops(t, db)

	rec := doGET(t, mux, "/api/stops/k_nearest?lat=44.9778&lon=-93.2650&k=2")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 2, env.Count)

	var first, second struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &first))
	require.NoError(t, json.Unmarshal(env.Results[1], &second))
	assert.Equal(t, "S1", first.ID)
	assert.Equal(t, "S2", second.ID)
}

// seedHighLatitudeStops places two stops around (60, 0), where a degree of
// longitude covers only half the ground distance of a degree of latitude:
// EAST is ~1.0 km due east, NORTH is ~1.5 km due north. Any ordering done in
// raw degrees picks NORTH first; true distance picks EAST.
func seedHighLatitudeStops(t *testing.T, db *storage.DB) {
	t.Helper()
	_, err := db.InsertStops(context.Background(), []storage.StopRow{
		{StopID: "EAST", StopName: "East Stop", Lat: 60.0, Lon: 0.017986, StopType: "stop"},
		{StopID: "NORTH", StopName: "North Stop", Lat: 60.013489, Lon: 0.0, StopType: "stop"},
	})
	require.NoError(t, err)
	require.NoError(t, db.RebuildRTree(context.Background()))
}

func TestKNearestStops_TrueDistanceAtHighLatitude(t *testing.T) {
	mux, db := newTestMux(t)
	seedHighLatitudeStops(t, db)

	rec := doGET(t, mux, "/api/stops/k_nearest?lat=60&lon=0&k=1")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 1, env.Count)

	var f struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &f))
	assert.Equal(t, "EAST", f.ID, "k-nearest must rank by ground distance, not degree offsets")
	assert.InDelta(t, 1000, f.Properties["distance_m"].(float64), 5)
}

func TestNearbyStops_OrderedByDistance(t *testing.T) {
	mux, db := newTestMux(t)
	seedHighLatitudeStops(t, db)

	rec := doGET(t, mux, "/api/stops/nearby?lat=60&lon=0&distance_km=2")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 2, env.Count)

	var first, second struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &first))
	require.NoError(t, json.Unmarshal(env.Results[1], &second))
	assert.Equal(t, "EAST", first.ID)
	assert.Equal(t, "NORTH", second.ID)
	assert.Less(t, first.Properties["distance_m"].(float64), second.Properties["distance_m"].(float64))
}

func TestNearbyStops_DenseAreaReturnsAllInRadius(t *testing.T) {
	mux, db := newTestMux(t)

	// More stops than any fixed candidate cap, all inside the radius.
	const n = 520
	stops := make([]storage.StopRow, n)
	for i := range stops {
		stops[i] = storage.StopRow{
			StopID:   fmt.Sprintf("D%03d", i),
			StopName: fmt.Sprintf("Dense %d", i),
			Lat:      44.9700 + float64(i)*0.00001,
			Lon:      -93.2650,
			StopType: "stop",
		}
	}
	_, err := db.InsertStops(context.Background(), stops)
	require.NoError(t, err)
	require.NoError(t, db.RebuildRTree(context.Background()))

	rec := doGET(t, mux, "/api/stops/nearby?lat=44.9700&lon=-93.2650&distance_km=1")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	assert.Equal(t, n, env.Count, "every in-radius stop must be returned")
}

func TestKNearestStops_MissingParams(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doGET(t, mux, "/api/stops/k_nearest?lat=44.9778")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestStopsInBounds_BoundaryInclusive(t *testing.T) {
	mux, db := newTestMux(t)
	seedStops(t, db)

	// Box whose north edge passes exactly through S1
	rec := doGET(t, mux, "/api/stops/in_bounds?min_lat=44.96&max_lat=44.9778&min_lon=-93.27&max_lon=-93.26")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	assert.Equal(t, 2, env.Count, "boundary stop S1 and interior stop S2 should match")
}

func TestStopsInBounds_InvertedBounds(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doGET(t, mux, "/api/stops/in_bounds?min_lat=45&max_lat=44&min_lon=-93&max_lon=-92")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNearbyStops_RadiusFiltered(t *testing.T) {
	mux, db := newTestMux(t)
	seedStops(t, db)

	// S2 is ~1.7km south of S1; a 1km radius around S1 excludes it
	rec := doGET(t, mux, "/api/stops/nearby?lat=44.9778&lon=-93.2650&distance_km=1")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 1, env.Count)

	var f struct {
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &f))
	assert.Equal(t, "S1", f.Properties["stop_id"])
	assert.Less(t, f.Properties["distance_m"].(float64), 1.0)
}

func TestGetStop_NotFound(t *testing.T) {
	mux, db := newTestMux(t)
	seedStops(t, db)
	rec := doGET(t, mux, "/api/stops/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopSchedules(t *testing.T) {
	mux, db := newTestMux(t)
	seedNetwork(t, db)

	rec := doGET(t, mux, "/api/stops/S1/schedules")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 1, env.Count)

	var s map[string]any
	require.NoError(t, json.Unmarshal(env.Results[0], &s))
	assert.Equal(t, "T1", s["trip_id"])
	assert.Equal(t, "10", s["route_short_name"])
	assert.Equal(t, "08:00:00", s["arrival_time"])
}

func TestStopsOnRoute_SequenceOrder(t *testing.T) {
	mux, db := newTestMux(t)
	seedNetwork(t, db)

	rec := doGET(t, mux, "/api/stops/on_route?route_id=R1")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 2, env.Count)

	var f struct {
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &f))
	assert.Equal(t, "S1", f.Properties["stop_id"])
	assert.EqualValues(t, 1, f.Properties["stop_sequence"])
}

func TestListRoutes_TypeFilter(t *testing.T) {
	mux, db := newTestMux(t)
	seedNetwork(t, db)

	env := decodeList(t, doGET(t, mux, "/api/routes"))
	assert.Equal(t, 2, env.Count)

	env = decodeList(t, doGET(t, mux, "/api/routes?route_type=0"))
	require.Equal(t, 1, env.Count)
	var r map[string]any
	require.NoError(t, json.Unmarshal(env.Results[0], &r))
	assert.Equal(t, "R2", r["route_id"])
}

func TestShapesInBounds_ExactIntersection(t *testing.T) {
	mux, db := newTestMux(t)
	seedNetwork(t, db)

	// Box covering downtown: SH1 runs through it, SH2 is far east
	rec := doGET(t, mux, "/api/shapes/in_bounds?min_lat=44.96&max_lat=44.99&min_lon=-93.28&max_lon=-93.25")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 1, env.Count)

	var f struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &f))
	assert.Equal(t, "SH1", f.ID)
	// Decorated with the route of its first trip
	assert.Equal(t, "R1", f.Properties["route_id"])
}

func TestNearbyShapes(t *testing.T) {
	mux, db := newTestMux(t)
	seedNetwork(t, db)

	rec := doGET(t, mux, "/api/shapes/nearby?lat=44.9700&lon=-93.2655&distance_km=0.5")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	assert.Equal(t, 1, env.Count)
}

func TestShapeTrips(t *testing.T) {
	mux, db := newTestMux(t)
	seedNetwork(t, db)

	env := decodeList(t, doGET(t, mux, "/api/shapes/trips?shape_id=SH1"))
	require.Equal(t, 1, env.Count)
	var tr map[string]any
	require.NoError(t, json.Unmarshal(env.Results[0], &tr))
	assert.Equal(t, "T1", tr["trip_id"])
	assert.Equal(t, "R1", tr["route_id"])

	rec := doGET(t, mux, "/api/shapes/trips")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCongestion_ClustersSlowVehicles(t *testing.T) {
	mux, db := newTestMux(t)
	now := time.Now().UTC()
	_, err := db.UpsertVehicles(context.Background(), []storage.VehicleRow{
		{VehicleID: "v1", RouteID: "R1", Lat: 44.9778, Lon: -93.2650, Speed: 1.0, Status: "stopped", Timestamp: now},
		{VehicleID: "v2", RouteID: "R1", Lat: 44.9780, Lon: -93.2648, Speed: 2.0, Status: "in_transit", Timestamp: now},
		{VehicleID: "v3", RouteID: "R2", Lat: 44.9782, Lon: -93.2652, Speed: 0.5, Status: "delayed", Timestamp: now},
		{VehicleID: "fast", RouteID: "R2", Lat: 44.9779, Lon: -93.2651, Speed: 15.0, Status: "in_transit", Timestamp: now},
		{VehicleID: "farSlow", RouteID: "R1", Lat: 44.9000, Lon: -93.1000, Speed: 1.0, Status: "stopped", Timestamp: now},
	})
	require.NoError(t, err)

	rec := doGET(t, mux, "/api/vehicles/congestion?distance_km=0.5&min_vehicles=3")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeList(t, rec)
	require.Equal(t, 1, env.Count)

	var cluster struct {
		VehicleCount int              `json:"vehicle_count"`
		Vehicles     []map[string]any `json:"vehicles"`
	}
	require.NoError(t, json.Unmarshal(env.Results[0], &cluster))
	assert.Equal(t, 3, cluster.VehicleCount)
	for _, v := range cluster.Vehicles {
		assert.NotEqual(t, "fast", v["vehicle_id"], "fast vehicle is not a congestion candidate")
		assert.NotEqual(t, "farSlow", v["vehicle_id"], "distant vehicle is outside the cluster radius")
	}
}

func TestCongestion_BadParams(t *testing.T) {
	mux, _ := newTestMux(t)
	assert.Equal(t, http.StatusBadRequest, doGET(t, mux, "/api/vehicles/congestion?distance_km=0").Code)
	assert.Equal(t, http.StatusBadRequest, doGET(t, mux, "/api/vehicles/congestion?min_vehicles=zero").Code)
}

func TestSpatialQueries_CRUD(t *testing.T) {
	mux, _ := newTestMux(t)

	body := `{"name":"downtown radius","query_type":"radius",` +
		`"geometry":{"type":"Point","coordinates":[-93.265,44.9778]},` +
		`"parameters":{"distance_km":0.5}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/spatial-queries", newBody(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, ok := created["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	// Fetch it back
	rec = doGET(t, mux, "/api/spatial-queries/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "downtown radius", got["name"])
	assert.Equal(t, "radius", got["query_type"])

	// Listed with and without the type filter
	assert.Equal(t, 1, decodeList(t, doGET(t, mux, "/api/spatial-queries")).Count)
	assert.Equal(t, 1, decodeList(t, doGET(t, mux, "/api/spatial-queries?query_type=radius")).Count)
	assert.Equal(t, 0, decodeList(t, doGET(t, mux, "/api/spatial-queries?query_type=bbox")).Count)

	// Delete, then 404
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/spatial-queries/"+id, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, doGET(t, mux, "/api/spatial-queries/"+id).Code)
}

func TestCreateSpatialQuery_Validation(t *testing.T) {
	mux, _ := newTestMux(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{`},
		{"missing name", `{"query_type":"radius","geometry":{"type":"Point"}}`},
		{"bad query_type", `{"name":"x","query_type":"teleport","geometry":{"type":"Point"}}`},
		{"missing geometry", `{"name":"x","query_type":"radius"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/spatial-queries", newBody(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListStops_EmptyDatabaseReturnsEmptyArray(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doGET(t, mux, "/api/stops")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"results":[]}`, rec.Body.String())
}
