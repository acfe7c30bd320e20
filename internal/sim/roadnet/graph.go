package roadnet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"cityevac.ai/internal/sim/geom"
)

// HalfEdge is one direction of an undirected road edge.
type HalfEdge struct {
	To     int32
	Weight float64
}

// Graph is the road network: deduplicated vertices with planar
// coordinates and an undirected weighted adjacency built once per
// session from raw segment geometry. It is immutable after
// construction; hazard exclusion is applied per query (see dijkstra.go),
// never as a mutation.
type Graph struct {
	coords    []geom.Point
	byKey     map[geom.QKey]int32
	adj       [][]HalfEdge
	edgeCount int
}

func NewGraph() *Graph {
	return &Graph{byKey: make(map[geom.QKey]int32)}
}

// BuildGraph constructs a graph from road segments. Segments with
// fewer than two points contribute nothing.
func BuildGraph(segments []geom.Segment) *Graph {
	g := NewGraph()
	for _, seg := range segments {
		g.AddSegment(seg)
	}
	return g
}

// AddSegment inserts one road polyline: every consecutive coordinate
// pair becomes an edge weighted by planar distance. Endpoints shared
// with previously inserted segments resolve to the same vertex.
func (g *Graph) AddSegment(seg geom.Segment) {
	for i := 0; i+1 < len(seg.Points); i++ {
		a := g.vertexFor(seg.Points[i])
		b := g.vertexFor(seg.Points[i+1])
		w := geom.Dist(g.coords[a], g.coords[b])
		g.adj[a] = append(g.adj[a], HalfEdge{To: b, Weight: w})
		g.adj[b] = append(g.adj[b], HalfEdge{To: a, Weight: w})
		g.edgeCount++
	}
}

// vertexFor resolves p through the quantized coordinate table,
// inserting a new vertex when the coordinate is unseen. The
// coordinate->vertex mapping stays a bijection: the stored coordinate
// is the first one observed for its key.
func (g *Graph) vertexFor(p geom.Point) int32 {
	k := geom.Key(p)
	if v, ok := g.byKey[k]; ok {
		return v
	}
	v := int32(len(g.coords))
	g.byKey[k] = v
	g.coords = append(g.coords, p)
	g.adj = append(g.adj, nil)
	return v
}

func (g *Graph) VertexCount() int { return len(g.coords) }
func (g *Graph) EdgeCount() int   { return g.edgeCount }

// Coord returns the coordinate of vertex v.
func (g *Graph) Coord(v int32) geom.Point { return g.coords[v] }

// Coords exposes the full vertex coordinate slice for index building.
// Callers must not mutate it.
func (g *Graph) Coords() []geom.Point { return g.coords }

// Neighbors returns the half-edges out of v. The returned slice is
// shared with the graph and must not be mutated.
func (g *Graph) Neighbors(v int32) []HalfEdge { return g.adj[v] }

// VertexAt returns the vertex for an exact (quantized) coordinate, or
// -1 if no vertex sits there.
func (g *Graph) VertexAt(p geom.Point) int32 {
	if v, ok := g.byKey[geom.Key(p)]; ok {
		return v
	}
	return -1
}

// Digest fingerprints the vertex and edge sets. A persisted path cache
// is only valid against the graph it was computed on; the digest is
// the guard.
func (g *Graph) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeU64(uint64(len(g.coords)))
	for _, p := range g.coords {
		writeU64(math.Float64bits(p.X))
		writeU64(math.Float64bits(p.Y))
	}
	for v, edges := range g.adj {
		writeU64(uint64(v))
		for _, e := range edges {
			writeU64(uint64(uint32(e.To)))
			writeU64(math.Float64bits(e.Weight))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
