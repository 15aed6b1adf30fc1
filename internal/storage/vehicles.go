package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VehicleRow is one live vehicle position report.
type VehicleRow struct {
	VehicleID string
	RouteID   string
	Lat       float64
	Lon       float64
	Bearing   float64
	Speed     float64
	Occupancy int
	Status    string
	Timestamp time.Time
}

// UpsertVehicles replaces vehicle positions by vehicle_id. Live positions are
// always refreshed, unlike static GTFS rows which use insert-or-ignore.
func (db *DB) UpsertVehicles(ctx context.Context, rows []VehicleRow) (int64, error) {
	return batchInsert(ctx, db,
		`INSERT OR REPLACE INTO vehicles (vehicle_id, route_id, lat, lon, bearing, speed, occupancy, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rows, func(v VehicleRow) []any {
			return []any{v.VehicleID, v.RouteID, v.Lat, v.Lon, v.Bearing, v.Speed,
				v.Occupancy, v.Status, v.Timestamp.UTC().Format(time.RFC3339)}
		})
}

func collectVehicles(rows *sql.Rows) ([]VehicleRow, error) {
	defer rows.Close()
	var vehicles []VehicleRow
	for rows.Next() {
		var v VehicleRow
		var routeID sql.NullString
		var bearing, speed sql.NullFloat64
		var occupancy sql.NullInt64
		var ts string
		if err := rows.Scan(&v.VehicleID, &routeID, &v.Lat, &v.Lon,
			&bearing, &speed, &occupancy, &v.Status, &ts); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		v.RouteID = routeID.String
		v.Bearing = bearing.Float64
		v.Speed = speed.Float64
		v.Occupancy = int(occupancy.Int64)
		v.Timestamp, _ = time.Parse(time.RFC3339, ts)
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// ListVehicles returns all known vehicle positions, newest first.
func (db *DB) ListVehicles(ctx context.Context) ([]VehicleRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT vehicle_id, route_id, lat, lon, bearing, speed, occupancy, status, timestamp
		FROM vehicles
		ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return collectVehicles(rows)
}

// SlowVehicles returns congestion candidates: vehicles at or below the given
// speed, or reported as stopped/delayed.
func (db *DB) SlowVehicles(ctx context.Context, maxSpeed float64) ([]VehicleRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT vehicle_id, route_id, lat, lon, bearing, speed, occupancy, status, timestamp
		FROM vehicles
		WHERE speed <= ? OR status IN ('stopped', 'delayed')
		ORDER BY vehicle_id`, maxSpeed)
	if err != nil {
		return nil, fmt.Errorf("slow vehicles: %w", err)
	}
	return collectVehicles(rows)
}
