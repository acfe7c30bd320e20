package geom

import "math"

// Point is a 2D coordinate in the model CRS. All distances in the
// simulation are planar Euclidean distances between Points.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between two points.
func Dist(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// quantum is the snap grid used for coordinate keying. Raw float64
// tuples are fragile map keys; every coordinate is snapped to this
// resolution before any table lookup so that two segment endpoints
// that are "the same corner" resolve to the same vertex.
const quantum = 1e-7

// QKey is a quantized coordinate key, safe for map lookups.
type QKey struct {
	X int64
	Y int64
}

// Key snaps p to the quantization grid.
func Key(p Point) QKey {
	return QKey{
		X: int64(math.Round(p.X / quantum)),
		Y: int64(math.Round(p.Y / quantum)),
	}
}

// Segment is one road polyline: an ordered run of >= 2 coordinates.
type Segment struct {
	Points []Point `json:"points"`
}
