package storage

import "fmt"

// migrate creates the GTFS schema if it doesn't exist.
func (db *DB) migrate() error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	db.logger.Info("database migrations applied")
	return nil
}

var migrations = []string{
	// Agency
	`CREATE TABLE IF NOT EXISTS agency (
		agency_id       TEXT PRIMARY KEY,
		agency_name     TEXT NOT NULL,
		agency_url      TEXT NOT NULL DEFAULT '',
		agency_timezone TEXT NOT NULL DEFAULT '',
		agency_lang     TEXT NOT NULL DEFAULT '',
		agency_phone    TEXT NOT NULL DEFAULT ''
	)`,

	// Calendar (service validity windows, dates as YYYYMMDD)
	`CREATE TABLE IF NOT EXISTS calendar (
		service_id TEXT PRIMARY KEY,
		monday     INTEGER NOT NULL DEFAULT 0,
		tuesday    INTEGER NOT NULL DEFAULT 0,
		wednesday  INTEGER NOT NULL DEFAULT 0,
		thursday   INTEGER NOT NULL DEFAULT 0,
		friday     INTEGER NOT NULL DEFAULT 0,
		saturday   INTEGER NOT NULL DEFAULT 0,
		sunday     INTEGER NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL,
		end_date   TEXT NOT NULL
	)`,

	// Routes
	`CREATE TABLE IF NOT EXISTS routes (
		route_id         TEXT PRIMARY KEY,
		route_short_name TEXT,
		route_long_name  TEXT,
		route_type       INTEGER NOT NULL DEFAULT 3,
		operator         TEXT
	)`,

	// Stops
	`CREATE TABLE IF NOT EXISTS stops (
		stop_id             TEXT PRIMARY KEY,
		stop_code           TEXT,
		stop_name           TEXT NOT NULL,
		stop_desc           TEXT,
		stop_lat            REAL NOT NULL,
		stop_lon            REAL NOT NULL,
		stop_type           TEXT NOT NULL DEFAULT 'stop',
		wheelchair_boarding INTEGER DEFAULT 0
	)`,

	// Trips
	`CREATE TABLE IF NOT EXISTS trips (
		trip_id               TEXT PRIMARY KEY,
		route_id              TEXT NOT NULL REFERENCES routes(route_id),
		service_id            TEXT NOT NULL,
		trip_headsign         TEXT,
		direction_id          INTEGER NOT NULL DEFAULT 0,
		shape_id              TEXT,
		wheelchair_accessible INTEGER DEFAULT 0
	)`,

	// Stop Times
	`CREATE TABLE IF NOT EXISTS stop_times (
		trip_id        TEXT NOT NULL REFERENCES trips(trip_id),
		stop_id        TEXT NOT NULL REFERENCES stops(stop_id),
		stop_sequence  INTEGER NOT NULL,
		arrival_time   TEXT NOT NULL DEFAULT '',
		departure_time TEXT NOT NULL DEFAULT '',
		pickup_type    INTEGER DEFAULT 0,
		drop_off_type  INTEGER DEFAULT 0,
		PRIMARY KEY (trip_id, stop_sequence)
	)`,

	// Shapes: one row per shape_id holding the assembled polyline as a JSON
	// [lon,lat] coordinate array, plus its bounding box for intersection prefilters.
	`CREATE TABLE IF NOT EXISTS shapes (
		shape_id TEXT PRIMARY KEY,
		geometry TEXT NOT NULL,
		pt_count INTEGER NOT NULL,
		min_lat  REAL NOT NULL,
		max_lat  REAL NOT NULL,
		min_lon  REAL NOT NULL,
		max_lon  REAL NOT NULL
	)`,

	// Live vehicle positions (best-effort realtime path)
	`CREATE TABLE IF NOT EXISTS vehicles (
		vehicle_id TEXT PRIMARY KEY,
		route_id   TEXT,
		lat        REAL NOT NULL,
		lon        REAL NOT NULL,
		bearing    REAL,
		speed      REAL,
		occupancy  INTEGER,
		status     TEXT NOT NULL DEFAULT 'in_transit',
		timestamp  TEXT NOT NULL
	)`,

	// Saved spatial queries
	`CREATE TABLE IF NOT EXISTS spatial_queries (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		query_type  TEXT NOT NULL,
		geometry    TEXT NOT NULL,
		parameters  TEXT NOT NULL DEFAULT '{}',
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,

	// R-Tree spatial index on stops for nearest-stop queries
	`CREATE VIRTUAL TABLE IF NOT EXISTS stops_rtree USING rtree(
		id,
		min_lat, max_lat,
		min_lon, max_lon
	)`,

	// Feed metadata (imported_at, source dir, etc.)
	`CREATE TABLE IF NOT EXISTS feed_metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	// Indexes for common query patterns
	`CREATE INDEX IF NOT EXISTS idx_stop_times_stop ON stop_times(stop_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stop_times_trip ON stop_times(trip_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_route ON trips(route_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_shape ON trips(shape_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_service ON trips(service_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_status ON vehicles(status)`,
	`CREATE INDEX IF NOT EXISTS idx_shapes_bbox ON shapes(min_lat, max_lat, min_lon, max_lon)`,
	`CREATE INDEX IF NOT EXISTS idx_spatial_queries_type ON spatial_queries(query_type)`,
}
