package gtfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"transitmap/internal/storage"
)

// Batch sizes per entity, tuned to row width. Larger rows flush sooner.
const (
	agencyBatchSize   = 5000
	calendarBatchSize = 10000
	stopBatchSize     = 10000
	routeBatchSize    = 5000
	tripBatchSize     = 50000
	stopTimeBatchSize = 100000
)

// Report summarizes the outcome of loading one entity type. Read counts rows
// the reader yielded; Created counts rows actually inserted (duplicates under
// insert-or-ignore are read but not created); Skipped counts rows dropped by
// validation or reference checks.
type Report struct {
	Entity    string
	Read      int
	Created   int64
	Skipped   int
	Defaulted int
	Err       error
}

// Loader drives the full ingestion pipeline: stream, validate, resolve
// references, and batch-insert each entity type in dependency order.
type Loader struct {
	db     *storage.DB
	reader *Reader
	logger *slog.Logger
}

// NewLoader creates a Loader over a GTFS directory.
func NewLoader(db *storage.DB, dir string, logger *slog.Logger) *Loader {
	return &Loader{db: db, reader: NewReader(dir), logger: logger}
}

// loadBatches drains a stream into the insert function in fixed-size batches.
// accept filters records against reference snapshots; rejected records count
// as skipped. Returns rows read, rows created, and rows rejected by accept.
func loadBatches[T any](ctx context.Context, stream *Stream[T], batchSize int,
	accept func(T) bool, insert func(context.Context, []T) (int64, error)) (int, int64, int, error) {

	var read int
	var created int64
	var rejected int
	batch := make([]T, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := insert(ctx, batch)
		if err != nil {
			return err
		}
		created += n
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return read, created, rejected, err
		}
		read++
		if accept != nil && !accept(rec) {
			rejected++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return read, created, rejected, err
			}
		}
	}
	if err := flush(); err != nil {
		return read, created, rejected, err
	}
	return read, created, rejected, nil
}

func (l *Loader) loadAgencies(ctx context.Context) Report {
	r := Report{Entity: "agencies"}
	stream, err := l.reader.Agencies()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	r.Read, r.Created, _, r.Err = loadBatches(ctx, stream, agencyBatchSize, nil, l.db.InsertAgencies)
	r.Skipped = stream.Skipped()
	return r
}

func (l *Loader) loadCalendars(ctx context.Context) Report {
	r := Report{Entity: "calendars"}
	stream, err := l.reader.Calendars()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	insert := func(ctx context.Context, recs []CalendarRecord) (int64, error) {
		rows := make([]storage.CalendarRow, len(recs))
		for i, rec := range recs {
			rows[i] = rec.CalendarRow
			if rec.DatesDefaulted {
				r.Defaulted++
			}
		}
		return l.db.InsertCalendars(ctx, rows)
	}
	r.Read, r.Created, _, r.Err = loadBatches(ctx, stream, calendarBatchSize, nil, insert)
	r.Skipped = stream.Skipped()
	return r
}

func (l *Loader) loadStops(ctx context.Context) Report {
	r := Report{Entity: "stops"}
	stream, err := l.reader.Stops()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	r.Read, r.Created, _, r.Err = loadBatches(ctx, stream, stopBatchSize, nil, l.db.InsertStops)
	r.Skipped = stream.Skipped()
	return r
}

func (l *Loader) loadRoutes(ctx context.Context) Report {
	r := Report{Entity: "routes"}
	stream, err := l.reader.Routes()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	r.Read, r.Created, _, r.Err = loadBatches(ctx, stream, routeBatchSize, nil, l.db.InsertRoutes)
	r.Skipped = stream.Skipped()
	return r
}

// loadTrips loads trips, dropping any trip whose route_id was not persisted.
func (l *Loader) loadTrips(ctx context.Context) Report {
	r := Report{Entity: "trips"}
	routes, err := SnapshotRoutes(ctx, l.db)
	if err != nil {
		r.Err = err
		return r
	}
	stream, err := l.reader.Trips()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	accept := func(t storage.TripRow) bool { return routes.Has(t.RouteID) }
	var rejected int
	r.Read, r.Created, rejected, r.Err = loadBatches(ctx, stream, tripBatchSize, accept, l.db.InsertTrips)
	r.Skipped = stream.Skipped() + rejected
	return r
}

// loadStopTimes loads stop times, dropping rows referencing an unknown trip or stop.
func (l *Loader) loadStopTimes(ctx context.Context) Report {
	r := Report{Entity: "stop_times"}
	trips, err := SnapshotTrips(ctx, l.db)
	if err != nil {
		r.Err = err
		return r
	}
	stops, err := SnapshotStops(ctx, l.db)
	if err != nil {
		r.Err = err
		return r
	}
	stream, err := l.reader.StopTimes()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	accept := func(st storage.StopTimeRow) bool {
		return trips.Has(st.TripID) && stops.Has(st.StopID)
	}
	var rejected int
	r.Read, r.Created, rejected, r.Err = loadBatches(ctx, stream, stopTimeBatchSize, accept, l.db.InsertStopTimes)
	r.Skipped = stream.Skipped() + rejected
	return r
}

// loadShapes streams all shape vertices, assembles them into polylines, and
// inserts one row per shape. Shapes are small enough to assemble in memory.
func (l *Loader) loadShapes(ctx context.Context) Report {
	r := Report{Entity: "shapes"}
	stream, err := l.reader.ShapePoints()
	if err != nil {
		r.Err = err
		return r
	}
	defer stream.Close()

	assembler := NewShapeAssembler()
	for {
		p, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.Err = err
			return r
		}
		r.Read++
		assembler.Add(p)
	}

	shapes := assembler.Assemble()
	r.Skipped = stream.Skipped() + assembler.Dropped()
	r.Created, r.Err = l.db.InsertShapes(ctx, shapes)
	return r
}

// requiredEntities must load without error for the feed to be usable.
var requiredEntities = map[string]bool{
	"stops":      true,
	"routes":     true,
	"trips":      true,
	"stop_times": true,
}

// LoadAll runs the full pipeline in dependency order. A failure in one entity
// is recorded in its report and does not stop the remaining entities, so a
// partially broken feed still yields everything loadable. After ingestion the
// spatial index is rebuilt and the import time recorded.
func (l *Loader) LoadAll(ctx context.Context) []Report {
	steps := []func(context.Context) Report{
		l.loadAgencies,
		l.loadCalendars,
		l.loadStops,
		l.loadRoutes,
		l.loadTrips,
		l.loadStopTimes,
		l.loadShapes,
	}

	reports := make([]Report, 0, len(steps))
	for _, step := range steps {
		rep := step(ctx)
		if rep.Err != nil {
			l.logger.Error("entity load failed", "entity", rep.Entity, "error", rep.Err)
		} else {
			l.logger.Info("entity loaded",
				"entity", rep.Entity,
				"read", rep.Read,
				"created", rep.Created,
				"skipped", rep.Skipped)
			if rep.Defaulted > 0 {
				l.logger.Warn("service dates defaulted to today", "entity", rep.Entity, "count", rep.Defaulted)
			}
		}
		reports = append(reports, rep)
	}

	if err := l.db.RebuildRTree(ctx); err != nil {
		l.logger.Error("rtree rebuild failed", "error", err)
	}
	if err := l.db.SetMetadata(ctx, "imported_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		l.logger.Error("metadata update failed", "error", err)
	}
	return reports
}

// LoadStopsOnly ingests just the stops file and rebuilds the spatial index.
func (l *Loader) LoadStopsOnly(ctx context.Context) []Report {
	rep := l.loadStops(ctx)
	if rep.Err != nil {
		l.logger.Error("entity load failed", "entity", rep.Entity, "error", rep.Err)
		return []Report{rep}
	}
	l.logger.Info("entity loaded", "entity", rep.Entity,
		"read", rep.Read, "created", rep.Created, "skipped", rep.Skipped)
	if err := l.db.RebuildRTree(ctx); err != nil {
		l.logger.Error("rtree rebuild failed", "error", err)
	}
	return []Report{rep}
}

// LoadRoutesOnly ingests just the routes file.
func (l *Loader) LoadRoutesOnly(ctx context.Context) []Report {
	rep := l.loadRoutes(ctx)
	if rep.Err != nil {
		l.logger.Error("entity load failed", "entity", rep.Entity, "error", rep.Err)
	} else {
		l.logger.Info("entity loaded", "entity", rep.Entity,
			"read", rep.Read, "created", rep.Created, "skipped", rep.Skipped)
	}
	return []Report{rep}
}

// RequiredFailed reports whether any required entity failed to load, with a
// combined error naming each failure.
func RequiredFailed(reports []Report) error {
	var errs []error
	for _, rep := range reports {
		if rep.Err != nil && requiredEntities[rep.Entity] {
			errs = append(errs, fmt.Errorf("%s: %w", rep.Entity, rep.Err))
		}
	}
	return errors.Join(errs...)
}
