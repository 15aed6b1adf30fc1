package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SpatialQueryRow is a saved, user-named spatial search: a geometry plus a
// query type and parameter bag. Pure storage, no computation.
type SpatialQueryRow struct {
	ID          string
	Name        string
	Description string
	QueryType   string
	Geometry    string // GeoJSON geometry object
	Parameters  string // JSON parameter bag
	CreatedBy   string
	CreatedAt   time.Time
}

// InsertSpatialQuery persists a new saved query.
func (db *DB) InsertSpatialQuery(ctx context.Context, q SpatialQueryRow) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO spatial_queries (id, name, description, query_type, geometry, parameters, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Name, q.Description, q.QueryType, q.Geometry, q.Parameters,
		q.CreatedBy, q.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert spatial query: %w", err)
	}
	return nil
}

// GetSpatialQuery returns one saved query by id, or sql.ErrNoRows.
func (db *DB) GetSpatialQuery(ctx context.Context, id string) (SpatialQueryRow, error) {
	var q SpatialQueryRow
	var createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, name, description, query_type, geometry, parameters, created_by, created_at
		FROM spatial_queries WHERE id = ?`, id).
		Scan(&q.ID, &q.Name, &q.Description, &q.QueryType, &q.Geometry,
			&q.Parameters, &q.CreatedBy, &createdAt)
	if err != nil {
		return SpatialQueryRow{}, err
	}
	q.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return q, nil
}

// ListSpatialQueries returns saved queries newest first, optionally filtered by type.
func (db *DB) ListSpatialQueries(ctx context.Context, queryType string) ([]SpatialQueryRow, error) {
	var rows *sql.Rows
	var err error
	if queryType != "" {
		rows, err = db.QueryContext(ctx, `
			SELECT id, name, description, query_type, geometry, parameters, created_by, created_at
			FROM spatial_queries
			WHERE query_type = ?
			ORDER BY created_at DESC`, queryType)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT id, name, description, query_type, geometry, parameters, created_by, created_at
			FROM spatial_queries
			ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list spatial queries: %w", err)
	}
	defer rows.Close()

	var queries []SpatialQueryRow
	for rows.Next() {
		var q SpatialQueryRow
		var createdAt string
		if err := rows.Scan(&q.ID, &q.Name, &q.Description, &q.QueryType,
			&q.Geometry, &q.Parameters, &q.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan spatial query: %w", err)
		}
		q.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// DeleteSpatialQuery removes a saved query. Returns sql.ErrNoRows if absent.
func (db *DB) DeleteSpatialQuery(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM spatial_queries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete spatial query: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
