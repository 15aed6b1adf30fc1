package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// scanStop reads one stops row. The column order must match stopColumns.
const stopColumns = `stop_id, stop_code, stop_name, stop_desc, stop_lat, stop_lon, stop_type, wheelchair_boarding`

func scanStop(rows *sql.Rows) (StopRow, error) {
	var s StopRow
	var code, desc sql.NullString
	err := rows.Scan(&s.StopID, &code, &s.StopName, &desc, &s.Lat, &s.Lon, &s.StopType, &s.WheelchairBoarding)
	s.StopCode = code.String
	s.StopDesc = desc.String
	return s, err
}

func collectStops(rows *sql.Rows) ([]StopRow, error) {
	defer rows.Close()
	var stops []StopRow
	for rows.Next() {
		s, err := scanStop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// GetStop returns one stop by id, or sql.ErrNoRows.
func (db *DB) GetStop(ctx context.Context, stopID string) (StopRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+stopColumns+` FROM stops WHERE stop_id = ?`, stopID)
	if err != nil {
		return StopRow{}, fmt.Errorf("get stop: %w", err)
	}
	stops, err := collectStops(rows)
	if err != nil {
		return StopRow{}, err
	}
	if len(stops) == 0 {
		return StopRow{}, sql.ErrNoRows
	}
	return stops[0], nil
}

// ListStops returns stops ordered by name, optionally filtered by a
// case-insensitive name/code substring match.
func (db *DB) ListStops(ctx context.Context, q string, limit, offset int) ([]StopRow, error) {
	var rows *sql.Rows
	var err error
	if q != "" {
		pattern := strings.ToLower(strings.TrimSpace(q))
		rows, err = db.QueryContext(ctx, `
			SELECT `+stopColumns+`
			FROM stops
			WHERE LOWER(stop_name) LIKE '%' || ? || '%' OR LOWER(stop_code) LIKE '%' || ? || '%'
			ORDER BY stop_name
			LIMIT ? OFFSET ?`, pattern, pattern, limit, offset)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT `+stopColumns+`
			FROM stops
			ORDER BY stop_name
			LIMIT ? OFFSET ?`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list stops: %w", err)
	}
	return collectStops(rows)
}

// StopsInBox returns every stop inside a degree bounding box using the R-Tree
// index. Uncapped: the box already bounds the result, and the caller refines
// to an exact radius and ordering with great-circle distance.
func (db *DB) StopsInBox(ctx context.Context, lat, lon, latDeg, lonDeg float64) ([]StopRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.stop_id, s.stop_code, s.stop_name, s.stop_desc,
		       s.stop_lat, s.stop_lon, s.stop_type, s.wheelchair_boarding
		FROM stops_rtree AS r
		JOIN stops AS s ON s.rowid = r.id
		WHERE r.min_lat >= ? AND r.max_lat <= ?
		  AND r.min_lon >= ? AND r.max_lon <= ?`,
		lat-latDeg, lat+latDeg,
		lon-lonDeg, lon+lonDeg,
	)
	if err != nil {
		return nil, fmt.Errorf("stops in box: %w", err)
	}
	return collectStops(rows)
}

// StopsInBounds finds stops inside an explicit lat/lon rectangle, boundary inclusive.
func (db *DB) StopsInBounds(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]StopRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+stopColumns+`
		FROM stops
		WHERE stop_lat >= ? AND stop_lat <= ?
		  AND stop_lon >= ? AND stop_lon <= ?
		ORDER BY stop_name`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("stops in bounds: %w", err)
	}
	return collectStops(rows)
}

// NearestStops returns the k stops closest to a point, ordered ascending by
// an equirectangular degree metric: longitude offsets are scaled by
// cos(latitude) so a degree east counts the same ground distance as a degree
// north. Callers wanting exact ordering overfetch and re-sort by great-circle
// distance.
func (db *DB) NearestStops(ctx context.Context, lat, lon float64, k int) ([]StopRow, error) {
	cos2 := math.Pow(math.Cos(lat*math.Pi/180), 2)
	rows, err := db.QueryContext(ctx, `
		SELECT `+stopColumns+`
		FROM stops
		ORDER BY (stop_lat - ?)*(stop_lat - ?) + (stop_lon - ?)*(stop_lon - ?)*?
		LIMIT ?`,
		lat, lat, lon, lon, cos2, k)
	if err != nil {
		return nil, fmt.Errorf("nearest stops: %w", err)
	}
	return collectStops(rows)
}

// StopOnRoute is a stop along a route with its first-seen sequence position.
type StopOnRoute struct {
	StopRow
	StopSequence int
}

// StopsOnRoute returns the distinct stops served by any trip of a route,
// ordered by stop sequence.
func (db *DB) StopsOnRoute(ctx context.Context, routeID string) ([]StopOnRoute, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.stop_id, s.stop_code, s.stop_name, s.stop_desc,
		       s.stop_lat, s.stop_lon, s.stop_type, s.wheelchair_boarding,
		       MIN(st.stop_sequence) AS seq
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id
		JOIN stops s ON s.stop_id = st.stop_id
		WHERE t.route_id = ?
		GROUP BY s.stop_id
		ORDER BY seq`,
		routeID)
	if err != nil {
		return nil, fmt.Errorf("stops on route: %w", err)
	}
	defer rows.Close()

	var stops []StopOnRoute
	for rows.Next() {
		var s StopOnRoute
		var code, desc sql.NullString
		if err := rows.Scan(&s.StopID, &code, &s.StopName, &desc,
			&s.Lat, &s.Lon, &s.StopType, &s.WheelchairBoarding, &s.StopSequence); err != nil {
			return nil, fmt.Errorf("scan stop on route: %w", err)
		}
		s.StopCode = code.String
		s.StopDesc = desc.String
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// ScheduleRow is one scheduled call at a stop with its trip and route context.
type ScheduleRow struct {
	TripID        string
	RouteID       string
	RouteShort    string
	RouteLong     string
	Headsign      string
	ArrivalTime   string
	DepartureTime string
	StopSequence  int
}

// SchedulesForStop returns all scheduled calls at a stop ordered by arrival time.
func (db *DB) SchedulesForStop(ctx context.Context, stopID string) ([]ScheduleRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT st.trip_id, t.route_id, r.route_short_name, r.route_long_name,
		       t.trip_headsign, st.arrival_time, st.departure_time, st.stop_sequence
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id
		JOIN routes r ON r.route_id = t.route_id
		WHERE st.stop_id = ?
		ORDER BY st.arrival_time`,
		stopID)
	if err != nil {
		return nil, fmt.Errorf("schedules for stop: %w", err)
	}
	defer rows.Close()

	var schedules []ScheduleRow
	for rows.Next() {
		var s ScheduleRow
		var short, long, headsign sql.NullString
		if err := rows.Scan(&s.TripID, &s.RouteID, &short, &long,
			&headsign, &s.ArrivalTime, &s.DepartureTime, &s.StopSequence); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		s.RouteShort = short.String
		s.RouteLong = long.String
		s.Headsign = headsign.String
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func collectRoutes(rows *sql.Rows) ([]RouteRow, error) {
	defer rows.Close()
	var routes []RouteRow
	for rows.Next() {
		var r RouteRow
		var short, long, operator sql.NullString
		if err := rows.Scan(&r.RouteID, &short, &long, &r.RouteType, &operator); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.ShortName = short.String
		r.LongName = long.String
		r.Operator = operator.String
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// ListRoutes returns routes ordered by short name, optionally filtered by route type.
func (db *DB) ListRoutes(ctx context.Context, routeType int) ([]RouteRow, error) {
	var rows *sql.Rows
	var err error
	if routeType >= 0 {
		rows, err = db.QueryContext(ctx, `
			SELECT route_id, route_short_name, route_long_name, route_type, operator
			FROM routes
			WHERE route_type = ?
			ORDER BY route_short_name`, routeType)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT route_id, route_short_name, route_long_name, route_type, operator
			FROM routes
			ORDER BY route_short_name`)
	}
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return collectRoutes(rows)
}

// GetRoute returns one route by id, or sql.ErrNoRows.
func (db *DB) GetRoute(ctx context.Context, routeID string) (RouteRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT route_id, route_short_name, route_long_name, route_type, operator
		FROM routes WHERE route_id = ?`, routeID)
	if err != nil {
		return RouteRow{}, fmt.Errorf("get route: %w", err)
	}
	routes, err := collectRoutes(rows)
	if err != nil {
		return RouteRow{}, err
	}
	if len(routes) == 0 {
		return RouteRow{}, sql.ErrNoRows
	}
	return routes[0], nil
}

func collectShapes(rows *sql.Rows) ([]ShapeRow, error) {
	defer rows.Close()
	var shapes []ShapeRow
	for rows.Next() {
		var s ShapeRow
		var geom string
		if err := rows.Scan(&s.ShapeID, &geom); err != nil {
			return nil, fmt.Errorf("scan shape: %w", err)
		}
		if err := json.Unmarshal([]byte(geom), &s.Points); err != nil {
			return nil, fmt.Errorf("decode shape %s geometry: %w", s.ShapeID, err)
		}
		shapes = append(shapes, s)
	}
	return shapes, rows.Err()
}

// ListShapes returns shape polylines ordered by shape_id with pagination.
func (db *DB) ListShapes(ctx context.Context, limit, offset int) ([]ShapeRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT shape_id, geometry FROM shapes
		ORDER BY shape_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list shapes: %w", err)
	}
	return collectShapes(rows)
}

// CountShapes returns the total number of persisted shapes.
func (db *DB) CountShapes(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shapes`).Scan(&count)
	return count, err
}

// ShapesInBox returns shapes whose bounding box overlaps the given rectangle.
// This is a prefilter; the caller refines with an exact polyline test.
func (db *DB) ShapesInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]ShapeRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT shape_id, geometry FROM shapes
		WHERE max_lat >= ? AND min_lat <= ?
		  AND max_lon >= ? AND min_lon <= ?
		ORDER BY shape_id`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("shapes in box: %w", err)
	}
	return collectShapes(rows)
}

// ShapeRouteInfo is the route served by a shape, used to decorate GeoJSON features.
type ShapeRouteInfo struct {
	RouteID    string
	RouteShort string
	RouteLong  string
	RouteType  int
}

// RouteInfoForShapes returns, for each given shape_id, the route of the first
// trip referencing it. Shapes with no trips are absent from the result.
func (db *DB) RouteInfoForShapes(ctx context.Context, shapeIDs []string) (map[string]ShapeRouteInfo, error) {
	info := make(map[string]ShapeRouteInfo)
	if len(shapeIDs) == 0 {
		return info, nil
	}

	placeholders := strings.Repeat("?,", len(shapeIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(shapeIDs))
	for i, id := range shapeIDs {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, `
		SELECT t.shape_id, r.route_id, r.route_short_name, r.route_long_name, r.route_type
		FROM trips t
		JOIN routes r ON r.route_id = t.route_id
		WHERE t.shape_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("route info for shapes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var shapeID string
		var ri ShapeRouteInfo
		var short, long sql.NullString
		if err := rows.Scan(&shapeID, &ri.RouteID, &short, &long, &ri.RouteType); err != nil {
			return nil, fmt.Errorf("scan shape route info: %w", err)
		}
		ri.RouteShort = short.String
		ri.RouteLong = long.String
		if _, seen := info[shapeID]; !seen {
			info[shapeID] = ri
		}
	}
	return info, rows.Err()
}

// TripForShape is a trip using a shape, with route context.
type TripForShape struct {
	TripID     string
	ServiceID  string
	Headsign   string
	RouteID    string
	RouteShort string
	RouteLong  string
	RouteType  int
}

// TripsForShape returns all trips that reference a shape, grouped by route.
func (db *DB) TripsForShape(ctx context.Context, shapeID string) ([]TripForShape, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.trip_id, t.service_id, t.trip_headsign,
		       r.route_id, r.route_short_name, r.route_long_name, r.route_type
		FROM trips t
		JOIN routes r ON r.route_id = t.route_id
		WHERE t.shape_id = ?
		ORDER BY r.route_short_name, t.service_id`,
		shapeID)
	if err != nil {
		return nil, fmt.Errorf("trips for shape: %w", err)
	}
	defer rows.Close()

	var trips []TripForShape
	for rows.Next() {
		var t TripForShape
		var headsign, short, long sql.NullString
		if err := rows.Scan(&t.TripID, &t.ServiceID, &headsign,
			&t.RouteID, &short, &long, &t.RouteType); err != nil {
			return nil, fmt.Errorf("scan trip for shape: %w", err)
		}
		t.Headsign = headsign.String
		t.RouteShort = short.String
		t.RouteLong = long.String
		trips = append(trips, t)
	}
	return trips, rows.Err()
}
