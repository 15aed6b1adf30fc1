package gtfs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"transitmap/internal/storage"
)

// Fixed GTFS file names, directory-relative.
const (
	stopsFile     = "stops.txt"
	routesFile    = "routes.txt"
	tripsFile     = "trips.txt"
	stopTimesFile = "stop_times.txt"
	agencyFile    = "agency.txt"
	calendarFile  = "calendar.txt"
	shapesFile    = "shapes.txt"
)

// Reader streams validated records from the fixed-name CSV files of a GTFS
// directory. Each stream is lazy, single-pass, and not restartable.
type Reader struct {
	dir string
}

// NewReader creates a Reader over a GTFS directory.
func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// CalendarRecord is a calendar row plus a flag marking that one or both
// service dates failed to parse and were defaulted to the processing date.
type CalendarRecord struct {
	storage.CalendarRow
	DatesDefaulted bool
}

// ShapePoint is one raw shape vertex before assembly.
type ShapePoint struct {
	ShapeID  string
	Lat      float64
	Lon      float64
	Sequence int
}

// Stream yields validated records of one entity type. Next returns io.EOF at
// end of file. Rows failing validation are skipped, never partially yielded;
// Skipped reports how many, and is only complete once Next has returned io.EOF.
type Stream[T any] struct {
	next    func() (T, error)
	closer  io.Closer
	skipped int
}

// Next returns the next validated record, or io.EOF.
func (s *Stream[T]) Next() (T, error) {
	return s.next()
}

// Skipped returns the number of rows dropped by validation so far.
func (s *Stream[T]) Skipped() int {
	return s.skipped
}

// Close releases the underlying file.
func (s *Stream[T]) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Agencies streams agency.txt. The file is optional; absence yields an empty stream.
func (r *Reader) Agencies() (*Stream[storage.AgencyRow], error) {
	return openStream(filepath.Join(r.dir, agencyFile), false, convAgency)
}

// Calendars streams calendar.txt. The file is optional; absence yields an empty stream.
func (r *Reader) Calendars() (*Stream[CalendarRecord], error) {
	return openStream(filepath.Join(r.dir, calendarFile), false, convCalendar)
}

// Stops streams stops.txt. The file is required.
func (r *Reader) Stops() (*Stream[storage.StopRow], error) {
	return openStream(filepath.Join(r.dir, stopsFile), true, convStop)
}

// Routes streams routes.txt. The file is required.
func (r *Reader) Routes() (*Stream[storage.RouteRow], error) {
	return openStream(filepath.Join(r.dir, routesFile), true, convRoute)
}

// Trips streams trips.txt. The file is required.
func (r *Reader) Trips() (*Stream[storage.TripRow], error) {
	return openStream(filepath.Join(r.dir, tripsFile), true, convTrip)
}

// StopTimes streams stop_times.txt. The file is required.
func (r *Reader) StopTimes() (*Stream[storage.StopTimeRow], error) {
	return openStream(filepath.Join(r.dir, stopTimesFile), true, convStopTime)
}

// ShapePoints streams shapes.txt. The file is optional; absence yields an empty stream.
func (r *Reader) ShapePoints() (*Stream[ShapePoint], error) {
	return openStream(filepath.Join(r.dir, shapesFile), false, convShapePoint)
}

// openStream opens one CSV file and returns a stream that decodes rows into
// the raw struct R by header name, converts each to T, and skips rows the
// converter rejects. A missing required file is an error; a missing optional
// file yields an empty stream.
func openStream[R, T any](path string, required bool, conv func(R) (T, bool)) (*Stream[T], error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if required {
				return nil, fmt.Errorf("%s not found in feed directory", filepath.Base(path))
			}
			var zero T
			return &Stream[T]{next: func() (T, error) { return zero, io.EOF }}, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s header: %w", filepath.Base(path), err)
	}
	// Strip BOM from first field if present
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\xef\xbb\xbf")
	}

	fieldMap := buildFieldMap[R](header)

	s := &Stream[T]{closer: f}
	s.next = func() (T, error) {
		var zero T
		for {
			record, err := reader.Read()
			if err != nil {
				return zero, err
			}
			rec, ok := conv(decodeRecord[R](record, fieldMap))
			if !ok {
				s.skipped++
				continue
			}
			return rec, nil
		}
	}
	return s, nil
}

type fieldMapping struct {
	csvIndex   int
	fieldIndex int
}

// buildFieldMap creates a mapping from CSV column positions to struct field positions.
func buildFieldMap[T any](header []string) []fieldMapping {
	var t T
	typ := reflect.TypeOf(t)

	tagToField := make(map[string]int)
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("csv")
		if tag != "" {
			tagToField[tag] = i
		}
	}

	var mappings []fieldMapping
	for csvIdx, colName := range header {
		colName = strings.TrimSpace(colName)
		if fieldIdx, ok := tagToField[colName]; ok {
			mappings = append(mappings, fieldMapping{csvIndex: csvIdx, fieldIndex: fieldIdx})
		}
	}
	return mappings
}

// decodeRecord fills a struct T from a CSV record using the field mapping.
func decodeRecord[T any](record []string, fieldMap []fieldMapping) T {
	var t T
	v := reflect.ValueOf(&t).Elem()
	for _, fm := range fieldMap {
		if fm.csvIndex < len(record) {
			v.Field(fm.fieldIndex).SetString(record[fm.csvIndex])
		}
	}
	return t
}

func convAgency(a rawAgency) (storage.AgencyRow, bool) {
	if a.AgencyID == "" {
		return storage.AgencyRow{}, false
	}
	return storage.AgencyRow{
		AgencyID: a.AgencyID,
		Name:     a.AgencyName,
		URL:      a.AgencyURL,
		Timezone: a.AgencyTimezone,
		Lang:     a.AgencyLang,
		Phone:    a.AgencyPhone,
	}, true
}

func convCalendar(c rawCalendar) (CalendarRecord, bool) {
	if c.ServiceID == "" {
		return CalendarRecord{}, false
	}
	start, startOK := parseServiceDate(c.StartDate)
	end, endOK := parseServiceDate(c.EndDate)
	return CalendarRecord{
		CalendarRow: storage.CalendarRow{
			ServiceID: c.ServiceID,
			Monday:    c.Monday == "1",
			Tuesday:   c.Tuesday == "1",
			Wednesday: c.Wednesday == "1",
			Thursday:  c.Thursday == "1",
			Friday:    c.Friday == "1",
			Saturday:  c.Saturday == "1",
			Sunday:    c.Sunday == "1",
			StartDate: start,
			EndDate:   end,
		},
		DatesDefaulted: !startOK || !endOK,
	}, true
}

// parseServiceDate validates a YYYYMMDD date string. An unparseable date
// defaults to the current processing date; the second return reports whether
// the original value was usable, so the caller can surface the defaulting.
func parseServiceDate(s string) (string, bool) {
	if _, err := time.Parse("20060102", s); err != nil {
		return time.Now().Format("20060102"), false
	}
	return s, true
}

func convRoute(r rawRoute) (storage.RouteRow, bool) {
	if r.RouteID == "" {
		return storage.RouteRow{}, false
	}
	routeType, err := strconv.Atoi(r.RouteType)
	if err != nil {
		routeType = 3 // bus
	}
	return storage.RouteRow{
		RouteID:   r.RouteID,
		ShortName: r.RouteShortName,
		LongName:  r.RouteLongName,
		RouteType: routeType,
		Operator:  r.AgencyID,
	}, true
}

func convStop(s rawStop) (storage.StopRow, bool) {
	if s.StopID == "" {
		return storage.StopRow{}, false
	}
	lat, err := strconv.ParseFloat(s.StopLat, 64)
	if err != nil {
		return storage.StopRow{}, false
	}
	lon, err := strconv.ParseFloat(s.StopLon, 64)
	if err != nil {
		return storage.StopRow{}, false
	}
	// A coordinate of exactly zero is treated as missing. This discards any
	// stop genuinely located on the equator or prime meridian; known heuristic.
	if lat == 0 || lon == 0 {
		return storage.StopRow{}, false
	}
	return storage.StopRow{
		StopID:             s.StopID,
		StopCode:           s.StopCode,
		StopName:           s.StopName,
		StopDesc:           s.StopDesc,
		Lat:                lat,
		Lon:                lon,
		StopType:           stopTypeFromLocationType(s.LocationType),
		WheelchairBoarding: s.WheelchairBoarding == "1",
	}, true
}

// stopTypeFromLocationType maps the GTFS location_type code to the stop-type enum.
func stopTypeFromLocationType(locationType string) string {
	switch locationType {
	case "1":
		return "station"
	case "2":
		return "terminal"
	default:
		return "stop"
	}
}

func convTrip(t rawTrip) (storage.TripRow, bool) {
	if t.TripID == "" || t.RouteID == "" {
		return storage.TripRow{}, false
	}
	direction := 0
	if t.DirectionID == "1" {
		direction = 1
	}
	return storage.TripRow{
		TripID:               t.TripID,
		RouteID:              t.RouteID,
		ServiceID:            t.ServiceID,
		Headsign:             t.TripHeadsign,
		DirectionID:          direction,
		ShapeID:              t.ShapeID,
		WheelchairAccessible: t.WheelchairAccessible == "1",
	}, true
}

func convStopTime(st rawStopTime) (storage.StopTimeRow, bool) {
	if st.TripID == "" || st.StopID == "" {
		return storage.StopTimeRow{}, false
	}
	seq, err := strconv.Atoi(st.StopSequence)
	if err != nil {
		return storage.StopTimeRow{}, false
	}
	return storage.StopTimeRow{
		TripID:        st.TripID,
		StopID:        st.StopID,
		StopSequence:  seq,
		ArrivalTime:   st.ArrivalTime,
		DepartureTime: st.DepartureTime,
		PickupType:    atoiDefault(st.PickupType, 0),
		DropOffType:   atoiDefault(st.DropOffType, 0),
	}, true
}

func convShapePoint(sp rawShapePoint) (ShapePoint, bool) {
	if sp.ShapeID == "" {
		return ShapePoint{}, false
	}
	lat, err := strconv.ParseFloat(sp.ShapePtLat, 64)
	if err != nil {
		return ShapePoint{}, false
	}
	lon, err := strconv.ParseFloat(sp.ShapePtLon, 64)
	if err != nil {
		return ShapePoint{}, false
	}
	seq, err := strconv.Atoi(sp.ShapePtSequence)
	if err != nil {
		return ShapePoint{}, false
	}
	return ShapePoint{ShapeID: sp.ShapeID, Lat: lat, Lon: lon, Sequence: seq}, true
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
