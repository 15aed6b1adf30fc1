package gtfs

import "testing"

func TestShapeAssembler_OrdersBySequence(t *testing.T) {
	a := NewShapeAssembler()
	// Vertices arrive out of order
	a.Add(ShapePoint{ShapeID: "SH1", Lat: 44.2, Lon: -93.2, Sequence: 2})
	a.Add(ShapePoint{ShapeID: "SH1", Lat: 44.1, Lon: -93.1, Sequence: 1})
	a.Add(ShapePoint{ShapeID: "SH1", Lat: 44.3, Lon: -93.3, Sequence: 3})

	shapes := a.Assemble()
	if len(shapes) != 1 {
		t.Fatalf("got %d shapes, want 1", len(shapes))
	}
	want := [][2]float64{{-93.1, 44.1}, {-93.2, 44.2}, {-93.3, 44.3}}
	for i, p := range shapes[0].Points {
		if p != want[i] {
			t.Errorf("point %d = %v, want %v", i, p, want[i])
		}
	}
}

func TestShapeAssembler_DuplicateSequenceLastWins(t *testing.T) {
	a := NewShapeAssembler()
	a.Add(ShapePoint{ShapeID: "SH1", Lat: 44.1, Lon: -93.1, Sequence: 1})
	a.Add(ShapePoint{ShapeID: "SH1", Lat: 44.2, Lon: -93.2, Sequence: 2})
	a.Add(ShapePoint{ShapeID: "SH1", Lat: 44.9, Lon: -93.9, Sequence: 2})

	shapes := a.Assemble()
	if len(shapes) != 1 {
		t.Fatalf("got %d shapes, want 1", len(shapes))
	}
	if got := shapes[0].Points[1]; got != [2]float64{-93.9, 44.9} {
		t.Errorf("duplicate sequence point = %v, want last value", got)
	}
}

func TestShapeAssembler_DropsSinglePointShapes(t *testing.T) {
	a := NewShapeAssembler()
	a.Add(ShapePoint{ShapeID: "ONLY", Lat: 44.1, Lon: -93.1, Sequence: 1})
	a.Add(ShapePoint{ShapeID: "PAIR", Lat: 44.1, Lon: -93.1, Sequence: 1})
	a.Add(ShapePoint{ShapeID: "PAIR", Lat: 44.2, Lon: -93.2, Sequence: 2})

	shapes := a.Assemble()
	if len(shapes) != 1 {
		t.Fatalf("got %d shapes, want 1", len(shapes))
	}
	if shapes[0].ShapeID != "PAIR" {
		t.Errorf("kept shape %q, want PAIR", shapes[0].ShapeID)
	}
	if a.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", a.Dropped())
	}
}

func TestShapeAssembler_GroupsByShapeID(t *testing.T) {
	a := NewShapeAssembler()
	a.Add(ShapePoint{ShapeID: "B", Lat: 44.1, Lon: -93.1, Sequence: 1})
	a.Add(ShapePoint{ShapeID: "A", Lat: 45.1, Lon: -94.1, Sequence: 1})
	a.Add(ShapePoint{ShapeID: "B", Lat: 44.2, Lon: -93.2, Sequence: 2})
	a.Add(ShapePoint{ShapeID: "A", Lat: 45.2, Lon: -94.2, Sequence: 2})

	shapes := a.Assemble()
	if len(shapes) != 2 {
		t.Fatalf("got %d shapes, want 2", len(shapes))
	}
	// Output is ordered by shape_id for determinism
	if shapes[0].ShapeID != "A" || shapes[1].ShapeID != "B" {
		t.Errorf("shape order = %s, %s; want A, B", shapes[0].ShapeID, shapes[1].ShapeID)
	}
}
