package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// AgencyRow is a transit agency record ready for insertion.
type AgencyRow struct {
	AgencyID string
	Name     string
	URL      string
	Timezone string
	Lang     string
	Phone    string
}

// CalendarRow is a service calendar record. Dates are YYYYMMDD strings.
type CalendarRow struct {
	ServiceID string
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate string
	EndDate   string
}

// RouteRow is a transit route record.
type RouteRow struct {
	RouteID   string
	ShortName string
	LongName  string
	RouteType int
	Operator  string
}

// StopRow is a transit stop with its WGS84 point location.
type StopRow struct {
	StopID             string
	StopCode           string
	StopName           string
	StopDesc           string
	Lat                float64
	Lon                float64
	StopType           string
	WheelchairBoarding bool
}

// TripRow is a scheduled trip. RouteID must reference a persisted route.
type TripRow struct {
	TripID               string
	RouteID              string
	ServiceID            string
	Headsign             string
	DirectionID          int
	ShapeID              string
	WheelchairAccessible bool
}

// StopTimeRow is one scheduled call of a trip at a stop.
type StopTimeRow struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
	PickupType    int
	DropOffType   int
}

// ShapeRow is an assembled polyline for one shape_id.
// Points are [lon, lat] pairs in traversal order.
type ShapeRow struct {
	ShapeID string
	Points  [][2]float64
}

// batchInsert runs one prepared statement over a slice of rows inside a single
// transaction and returns the number of rows actually inserted. Rows ignored
// by an INSERT OR IGNORE conflict report zero affected rows and are not counted.
func batchInsert[T any](ctx context.Context, db *DB, query string, rows []T, args func(T) []any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var created int64
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, args(row)...)
		if err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		created += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// InsertAgencies bulk-inserts agencies, ignoring duplicate agency_ids.
func (db *DB) InsertAgencies(ctx context.Context, rows []AgencyRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO agency (agency_id, agency_name, agency_url, agency_timezone, agency_lang, agency_phone)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rows, func(a AgencyRow) []any {
			return []any{a.AgencyID, a.Name, a.URL, a.Timezone, a.Lang, a.Phone}
		})
}

// InsertCalendars bulk-inserts service calendars, ignoring duplicate service_ids.
func (db *DB) InsertCalendars(ctx context.Context, rows []CalendarRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO calendar (service_id, monday, tuesday, wednesday, thursday,
		 friday, saturday, sunday, start_date, end_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rows, func(c CalendarRow) []any {
			return []any{c.ServiceID, c.Monday, c.Tuesday, c.Wednesday, c.Thursday,
				c.Friday, c.Saturday, c.Sunday, c.StartDate, c.EndDate}
		})
}

// InsertRoutes bulk-inserts routes, ignoring duplicate route_ids.
func (db *DB) InsertRoutes(ctx context.Context, rows []RouteRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO routes (route_id, route_short_name, route_long_name, route_type, operator)
		 VALUES (?, ?, ?, ?, ?)`,
		rows, func(r RouteRow) []any {
			return []any{r.RouteID, r.ShortName, r.LongName, r.RouteType, r.Operator}
		})
}

// InsertStops bulk-inserts stops, ignoring duplicate stop_ids.
func (db *DB) InsertStops(ctx context.Context, rows []StopRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO stops (stop_id, stop_code, stop_name, stop_desc, stop_lat, stop_lon, stop_type, wheelchair_boarding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rows, func(s StopRow) []any {
			return []any{s.StopID, s.StopCode, s.StopName, s.StopDesc, s.Lat, s.Lon, s.StopType, s.WheelchairBoarding}
		})
}

// InsertTrips bulk-inserts trips, ignoring duplicate trip_ids.
// Callers must have validated route_id against a route snapshot first.
func (db *DB) InsertTrips(ctx context.Context, rows []TripRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO trips (trip_id, route_id, service_id, trip_headsign, direction_id, shape_id, wheelchair_accessible)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rows, func(t TripRow) []any {
			return []any{t.TripID, t.RouteID, t.ServiceID, t.Headsign, t.DirectionID, t.ShapeID, t.WheelchairAccessible}
		})
}

// InsertStopTimes bulk-inserts stop times, ignoring duplicate (trip_id, stop_sequence) pairs.
func (db *DB) InsertStopTimes(ctx context.Context, rows []StopTimeRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time, pickup_type, drop_off_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rows, func(st StopTimeRow) []any {
			return []any{st.TripID, st.StopID, st.StopSequence, st.ArrivalTime, st.DepartureTime, st.PickupType, st.DropOffType}
		})
}

// InsertShapes bulk-inserts assembled shape polylines, ignoring duplicate shape_ids.
func (db *DB) InsertShapes(ctx context.Context, rows []ShapeRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR IGNORE INTO shapes (shape_id, geometry, pt_count, min_lat, max_lat, min_lon, max_lon)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rows, func(s ShapeRow) []any {
			geom, _ := json.Marshal(s.Points)
			minLat, maxLat, minLon, maxLon := shapeBounds(s.Points)
			return []any{s.ShapeID, string(geom), len(s.Points), minLat, maxLat, minLon, maxLon}
		})
}

func shapeBounds(points [][2]float64) (minLat, maxLat, minLon, maxLon float64) {
	if len(points) == 0 {
		return 0, 0, 0, 0
	}
	minLon, maxLon = points[0][0], points[0][0]
	minLat, maxLat = points[0][1], points[0][1]
	for _, p := range points[1:] {
		if p[0] < minLon {
			minLon = p[0]
		}
		if p[0] > maxLon {
			maxLon = p[0]
		}
		if p[1] < minLat {
			minLat = p[1]
		}
		if p[1] > maxLat {
			maxLat = p[1]
		}
	}
	return minLat, maxLat, minLon, maxLon
}

// idSet reads a single-column id query into a membership set.
func (db *DB) idSet(ctx context.Context, query string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// RouteIDs returns the set of persisted route ids.
func (db *DB) RouteIDs(ctx context.Context) (map[string]struct{}, error) {
	return db.idSet(ctx, `SELECT route_id FROM routes`)
}

// TripIDs returns the set of persisted trip ids.
func (db *DB) TripIDs(ctx context.Context) (map[string]struct{}, error) {
	return db.idSet(ctx, `SELECT trip_id FROM trips`)
}

// StopIDs returns the set of persisted stop ids.
func (db *DB) StopIDs(ctx context.Context) (map[string]struct{}, error) {
	return db.idSet(ctx, `SELECT stop_id FROM stops`)
}

// RebuildRTree repopulates the R-Tree index from the stops table.
// Called once after ingestion completes.
func (db *DB) RebuildRTree(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stops_rtree`); err != nil {
		return fmt.Errorf("clear rtree: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stops_rtree(id, min_lat, max_lat, min_lon, max_lon)
		 SELECT rowid, stop_lat, stop_lat, stop_lon, stop_lon FROM stops`); err != nil {
		return fmt.Errorf("populate rtree: %w", err)
	}
	return tx.Commit()
}

// GetMetadata retrieves a value from the feed_metadata table.
func (db *DB) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM feed_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMetadata stores a key-value pair in the feed_metadata table.
func (db *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO feed_metadata (key, value) VALUES (?, ?)`,
		key, value)
	return err
}

// HasData returns true if the database has GTFS data imported.
func (db *DB) HasData(ctx context.Context) bool {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&count)
	return err == nil && count > 0
}
