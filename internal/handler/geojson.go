package handler

import "transitmap/internal/storage"

// Geometry is a GeoJSON geometry object. Coordinates is [lon, lat] for a
// Point and a [lon, lat] array for a LineString.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// Feature is a GeoJSON Feature.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

func stopFeature(s storage.StopRow) Feature {
	return Feature{
		Type: "Feature",
		ID:   s.StopID,
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: []float64{s.Lon, s.Lat},
		},
		Properties: map[string]any{
			"stop_id":             s.StopID,
			"stop_code":           s.StopCode,
			"name":                s.StopName,
			"description":         s.StopDesc,
			"stop_type":           s.StopType,
			"wheelchair_boarding": s.WheelchairBoarding,
		},
	}
}

func stopFeatures(stops []storage.StopRow) []Feature {
	features := make([]Feature, len(stops))
	for i, s := range stops {
		features[i] = stopFeature(s)
	}
	return features
}

// shapeFeature renders a shape polyline, decorated with its route when known.
func shapeFeature(s storage.ShapeRow, route storage.ShapeRouteInfo, hasRoute bool) Feature {
	props := map[string]any{
		"shape_id": s.ShapeID,
		"pt_count": len(s.Points),
	}
	if hasRoute {
		props["route_id"] = route.RouteID
		props["route_short_name"] = route.RouteShort
		props["route_long_name"] = route.RouteLong
		props["route_type"] = route.RouteType
	}
	return Feature{
		Type: "Feature",
		ID:   s.ShapeID,
		Geometry: Geometry{
			Type:        "LineString",
			Coordinates: s.Points,
		},
		Properties: props,
	}
}
