package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6_371_000

// Distance returns the great-circle distance in meters between two WGS84 points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * earthRadiusMeters
}

// BoundingBoxRadius returns the approximate degree offsets covering a radius
// in meters at the given latitude. Returns (latDeg, lonDeg). The longitude
// span widens toward the poles.
func BoundingBoxRadius(lat, radiusMeters float64) (latDeg, lonDeg float64) {
	latDeg = radiusMeters / earthRadiusMeters * (180 / math.Pi)
	cos := math.Cos(toRad(lat))
	if cos < 1e-9 {
		cos = 1e-9
	}
	lonDeg = latDeg / cos
	return latDeg, lonDeg
}

// PolylineDistance returns the minimum distance in meters from a point to a
// polyline given as [lon, lat] pairs. Segments are treated as planar in degree
// space for the projection step, which is accurate at city scale.
func PolylineDistance(lat, lon float64, points [][2]float64) float64 {
	if len(points) == 0 {
		return math.Inf(1)
	}
	if len(points) == 1 {
		return Distance(lat, lon, points[0][1], points[0][0])
	}

	min := math.Inf(1)
	for i := 0; i < len(points)-1; i++ {
		clat, clon := closestOnSegment(lat, lon,
			points[i][1], points[i][0], points[i+1][1], points[i+1][0])
		if d := Distance(lat, lon, clat, clon); d < min {
			min = d
		}
	}
	return min
}

// closestOnSegment projects (lat, lon) onto the segment (lat1,lon1)-(lat2,lon2)
// in degree space, compensating longitude by cos(latitude), and returns the
// nearest point on the segment.
func closestOnSegment(lat, lon, lat1, lon1, lat2, lon2 float64) (float64, float64) {
	scale := math.Cos(toRad(lat))
	ax, ay := (lon1-lon)*scale, lat1-lat
	bx, by := (lon2-lon)*scale, lat2-lat
	dx, dy := bx-ax, by-ay

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return lat1, lon1
	}
	t := -(ax*dx + ay*dy) / lenSq
	if t < 0 {
		return lat1, lon1
	}
	if t > 1 {
		return lat2, lon2
	}
	return lat1 + t*(lat2-lat1), lon1 + t*(lon2-lon1)
}

// Rect is a latitude/longitude bounding box.
type Rect struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// Contains reports whether the point lies inside the box, borders included.
func (r Rect) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// PolylineIntersectsRect reports whether a polyline of [lon, lat] pairs has
// any vertex inside the box or any segment crossing a box edge.
func PolylineIntersectsRect(points [][2]float64, r Rect) bool {
	for _, p := range points {
		if r.Contains(p[1], p[0]) {
			return true
		}
	}
	edges := [4][4]float64{
		{r.MinLat, r.MinLon, r.MinLat, r.MaxLon},
		{r.MaxLat, r.MinLon, r.MaxLat, r.MaxLon},
		{r.MinLat, r.MinLon, r.MaxLat, r.MinLon},
		{r.MinLat, r.MaxLon, r.MaxLat, r.MaxLon},
	}
	for i := 0; i < len(points)-1; i++ {
		for _, e := range edges {
			if segmentsCross(points[i][1], points[i][0], points[i+1][1], points[i+1][0],
				e[0], e[1], e[2], e[3]) {
				return true
			}
		}
	}
	return false
}

// segmentsCross reports whether segments (ay,ax)-(by,bx) and (cy,cx)-(dy,dx)
// intersect, using orientation tests. Collinear overlaps count as crossing.
func segmentsCross(ay, ax, by, bx, cy, cx, dy, dx float64) bool {
	o1 := orientation(ax, ay, bx, by, cx, cy)
	o2 := orientation(ax, ay, bx, by, dx, dy)
	o3 := orientation(cx, cy, dx, dy, ax, ay)
	o4 := orientation(cx, cy, dx, dy, bx, by)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(ax, ay, cx, cy, bx, by) {
		return true
	}
	if o2 == 0 && onSegment(ax, ay, dx, dy, bx, by) {
		return true
	}
	if o3 == 0 && onSegment(cx, cy, ax, ay, dx, dy) {
		return true
	}
	if o4 == 0 && onSegment(cx, cy, bx, by, dx, dy) {
		return true
	}
	return false
}

func orientation(px, py, qx, qy, rx, ry float64) int {
	v := (qy-py)*(rx-qx) - (qx-px)*(ry-qy)
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

func onSegment(px, py, qx, qy, rx, ry float64) bool {
	return qx <= math.Max(px, rx) && qx >= math.Min(px, rx) &&
		qy <= math.Max(py, ry) && qy >= math.Min(py, ry)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
