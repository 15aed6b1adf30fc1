package gtfs

import (
	"context"
	"fmt"

	"transitmap/internal/storage"
)

// Snapshot is a point-in-time membership set of persisted entity ids, taken
// after the referenced entity type has fully loaded. Dependent loaders check
// foreign keys against it instead of querying per row.
type Snapshot map[string]struct{}

// Has reports whether id was persisted when the snapshot was taken.
func (s Snapshot) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// SnapshotRoutes captures the persisted route ids.
func SnapshotRoutes(ctx context.Context, db *storage.DB) (Snapshot, error) {
	ids, err := db.RouteIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot routes: %w", err)
	}
	return Snapshot(ids), nil
}

// SnapshotTrips captures the persisted trip ids.
func SnapshotTrips(ctx context.Context, db *storage.DB) (Snapshot, error) {
	ids, err := db.TripIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot trips: %w", err)
	}
	return Snapshot(ids), nil
}

// SnapshotStops captures the persisted stop ids.
func SnapshotStops(ctx context.Context, db *storage.DB) (Snapshot, error) {
	ids, err := db.StopIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot stops: %w", err)
	}
	return Snapshot(ids), nil
}
