// Package demand generates the session population: commuter spawn
// points on the road network and the evacuation-center pool. Generation
// is a pure function of the graph and the seed, so two servers started
// with the same inputs simulate the same city.
package demand

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"cityevac.ai/internal/sim/geom"
	"cityevac.ai/internal/sim/roadnet"
)

// Spawn is one commuter to create at session start.
type Spawn struct {
	ID     string
	Origin geom.Point
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Generate places n commuters on road vertices drawn from the seeded
// hash stream. IDs are name-based UUIDs over (seed, index), stable
// across restarts so snapshots, logs and observer frames line up.
func Generate(g *roadnet.Graph, n int, seed int64) ([]Spawn, error) {
	if g.VertexCount() == 0 {
		return nil, fmt.Errorf("demand: empty road graph")
	}
	if n < 0 {
		return nil, fmt.Errorf("demand: negative population %d", n)
	}
	out := make([]Spawn, 0, n)
	for i := 0; i < n; i++ {
		v := int32(mix64(uint64(seed)^uint64(i)*0x9e3779b97f4a7c15) % uint64(g.VertexCount()))
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("commuter/%d/%d", seed, i)))
		out = append(out, Spawn{ID: id.String(), Origin: g.Coord(v)})
	}
	return out, nil
}

// EvacCenters picks count destination vertices, preferring the ones
// farthest from the hazard center. Ties break on vertex index, so the
// pool is deterministic for a given graph.
func EvacCenters(g *roadnet.Graph, count int, hazardCenter geom.Point) ([]geom.Point, error) {
	if count <= 0 {
		return nil, fmt.Errorf("demand: evac center count must be positive, got %d", count)
	}
	if count > g.VertexCount() {
		return nil, fmt.Errorf("demand: %d evac centers requested but graph has %d vertices", count, g.VertexCount())
	}
	idx := make([]int32, g.VertexCount())
	for i := range idx {
		idx[i] = int32(i)
	}
	sort.Slice(idx, func(a, b int) bool {
		da := geom.Dist(g.Coord(idx[a]), hazardCenter)
		db := geom.Dist(g.Coord(idx[b]), hazardCenter)
		if da != db {
			return da > db
		}
		return idx[a] < idx[b]
	})
	out := make([]geom.Point, count)
	for i := 0; i < count; i++ {
		out[i] = g.Coord(idx[i])
	}
	return out, nil
}
