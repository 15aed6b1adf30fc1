package gtfs

import (
	"sort"

	"transitmap/internal/storage"
)

// ShapeAssembler accumulates raw shape vertices grouped by shape_id and
// assembles each group into an ordered polyline. Vertices may arrive in any
// order; a repeated (shape_id, sequence) pair keeps the last value seen.
type ShapeAssembler struct {
	points map[string]map[int][2]float64
}

// NewShapeAssembler creates an empty assembler.
func NewShapeAssembler() *ShapeAssembler {
	return &ShapeAssembler{points: make(map[string]map[int][2]float64)}
}

// Add records one vertex. Later duplicates of the same sequence number win.
func (a *ShapeAssembler) Add(p ShapePoint) {
	seqs, ok := a.points[p.ShapeID]
	if !ok {
		seqs = make(map[int][2]float64)
		a.points[p.ShapeID] = seqs
	}
	seqs[p.Sequence] = [2]float64{p.Lon, p.Lat}
}

// Assemble returns one polyline per shape_id with vertices ordered by
// sequence number. Shapes with fewer than two distinct vertices are dropped;
// a single point is not a polyline.
func (a *ShapeAssembler) Assemble() []storage.ShapeRow {
	shapes := make([]storage.ShapeRow, 0, len(a.points))
	for shapeID, seqs := range a.points {
		if len(seqs) < 2 {
			continue
		}
		order := make([]int, 0, len(seqs))
		for seq := range seqs {
			order = append(order, seq)
		}
		sort.Ints(order)

		pts := make([][2]float64, len(order))
		for i, seq := range order {
			pts[i] = seqs[seq]
		}
		shapes = append(shapes, storage.ShapeRow{ShapeID: shapeID, Points: pts})
	}
	sort.Slice(shapes, func(i, j int) bool { return shapes[i].ShapeID < shapes[j].ShapeID })
	return shapes
}

// Dropped returns the number of shape_ids discarded for having fewer than two vertices.
func (a *ShapeAssembler) Dropped() int {
	n := 0
	for _, seqs := range a.points {
		if len(seqs) < 2 {
			n++
		}
	}
	return n
}
