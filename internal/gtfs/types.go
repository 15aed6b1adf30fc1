package gtfs

// Raw CSV records, decoded by header name. All fields are strings; validation
// and type conversion happen in the reader before records are yielded.

type rawAgency struct {
	AgencyID       string `csv:"agency_id"`
	AgencyName     string `csv:"agency_name"`
	AgencyURL      string `csv:"agency_url"`
	AgencyTimezone string `csv:"agency_timezone"`
	AgencyLang     string `csv:"agency_lang"`
	AgencyPhone    string `csv:"agency_phone"`
}

type rawCalendar struct {
	ServiceID string `csv:"service_id"`
	Monday    string `csv:"monday"`
	Tuesday   string `csv:"tuesday"`
	Wednesday string `csv:"wednesday"`
	Thursday  string `csv:"thursday"`
	Friday    string `csv:"friday"`
	Saturday  string `csv:"saturday"`
	Sunday    string `csv:"sunday"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
}

type rawRoute struct {
	RouteID        string `csv:"route_id"`
	AgencyID       string `csv:"agency_id"`
	RouteShortName string `csv:"route_short_name"`
	RouteLongName  string `csv:"route_long_name"`
	RouteType      string `csv:"route_type"`
}

type rawStop struct {
	StopID             string `csv:"stop_id"`
	StopCode           string `csv:"stop_code"`
	StopName           string `csv:"stop_name"`
	StopDesc           string `csv:"stop_desc"`
	StopLat            string `csv:"stop_lat"`
	StopLon            string `csv:"stop_lon"`
	LocationType       string `csv:"location_type"`
	WheelchairBoarding string `csv:"wheelchair_boarding"`
}

type rawTrip struct {
	RouteID              string `csv:"route_id"`
	ServiceID            string `csv:"service_id"`
	TripID               string `csv:"trip_id"`
	TripHeadsign         string `csv:"trip_headsign"`
	DirectionID          string `csv:"direction_id"`
	ShapeID              string `csv:"shape_id"`
	WheelchairAccessible string `csv:"wheelchair_accessible"`
}

type rawStopTime struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  string `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	PickupType    string `csv:"pickup_type"`
	DropOffType   string `csv:"drop_off_type"`
}

type rawShapePoint struct {
	ShapeID         string `csv:"shape_id"`
	ShapePtLat      string `csv:"shape_pt_lat"`
	ShapePtLon      string `csv:"shape_pt_lon"`
	ShapePtSequence string `csv:"shape_pt_sequence"`
}
