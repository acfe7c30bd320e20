package roadnet

import (
	"encoding/json"
	"fmt"
	"os"

	"cityevac.ai/internal/sim/geom"
)

// LoadSegments reads road geometry from a JSON file: an array of
// polylines, each an array of [x, y] pairs in planar coordinates.
// Polylines with fewer than two points are rejected rather than
// silently skipped, since they indicate a broken export.
func LoadSegments(path string) ([]geom.Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines [][][2]float64
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: no road segments", path)
	}
	segs := make([]geom.Segment, 0, len(lines))
	for i, line := range lines {
		if len(line) < 2 {
			return nil, fmt.Errorf("%s: segment %d has %d points, need at least 2", path, i, len(line))
		}
		seg := geom.Segment{Points: make([]geom.Point, len(line))}
		for j, xy := range line {
			seg.Points[j] = geom.Point{X: xy[0], Y: xy[1]}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
