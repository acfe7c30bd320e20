package roadnet

import (
	"errors"
	"fmt"
	"sync/atomic"

	"cityevac.ai/internal/sim/geom"
)

// Route is an ordered coordinate sequence through the road network,
// inclusive of both endpoints. Length 0 means "no path"; length 1
// means "already at destination". Both are normal terminal outcomes
// for callers, never errors.
type Route []geom.Point

// CacheKey identifies one memoized route. Keys are vertex ids, not raw
// coordinates: endpoints are snapped to their nearest vertex before
// lookup. HazardVertex is -1 for unconstrained queries; queries that
// applied a hazard exclusion live in a disjoint key space.
type CacheKey struct {
	O            int32
	D            int32
	HazardVertex int32
}

// CacheStore receives committed cache entries for durable storage.
// Put must be safe to call from the world loop goroutine and must not
// block on I/O (the sqlite store hands rows to a writer goroutine).
type CacheStore interface {
	Put(key CacheKey, route Route)
}

// CacheStats counts cache effectiveness for the tick log.
type CacheStats struct {
	Hits   atomic.Uint64
	Misses atomic.Uint64
}

// NoHazard marks an unconstrained cache key.
const NoHazard int32 = -1

// DefaultTolerance is the in-network tolerance: the maximum distance
// between a query position and its nearest vertex for the position to
// count as on the network. 100 units matches the reference domain.
const DefaultTolerance = 100.0

// Router answers shortest-path queries over a Graph, consulting the
// in-memory path cache and avoiding the hazard vertex when one is set.
type Router struct {
	g     *Graph
	index *geom.KDTree
	tol   float64

	hazardVertex int32

	cache map[CacheKey]Route
	store CacheStore
	stats CacheStats
}

// NewRouter builds the geometry index over the graph's vertex set.
// An empty graph is an input-validation failure.
func NewRouter(g *Graph, tolerance float64) (*Router, error) {
	if g.VertexCount() == 0 {
		return nil, errors.New("roadnet: empty graph")
	}
	if tolerance <= 0 {
		return nil, fmt.Errorf("roadnet: tolerance must be positive, got %v", tolerance)
	}
	index, err := geom.BuildKDTree(g.Coords())
	if err != nil {
		return nil, err
	}
	return &Router{
		g:            g,
		index:        index,
		tol:          tolerance,
		hazardVertex: NoHazard,
		cache:        make(map[CacheKey]Route),
	}, nil
}

// SetStore attaches a durable sink for new cache entries.
func (r *Router) SetStore(s CacheStore) { r.store = s }

// Preload seeds the in-memory cache, typically from the sqlite store
// at session start. Entries must have been computed against a graph
// with the same digest; the store enforces that on load.
func (r *Router) Preload(entries map[CacheKey]Route) {
	for k, v := range entries {
		r.cache[k] = v
	}
}

// CacheLen reports the number of memoized routes.
func (r *Router) CacheLen() int { return len(r.cache) }

// Stats exposes hit/miss counters.
func (r *Router) Stats() *CacheStats { return &r.stats }

// Graph returns the underlying road graph.
func (r *Router) Graph() *Graph { return r.g }

// NearestVertex resolves a position to its closest graph vertex.
func (r *Router) NearestVertex(p geom.Point) (int32, float64) {
	idx, d := r.index.Nearest(p)
	return int32(idx), d
}

// InNetwork reports whether p is within tolerance of the road network.
func (r *Router) InNetwork(p geom.Point) bool {
	_, d := r.index.Nearest(p)
	return d <= r.tol
}

// SetHazardCenter marks the vertex nearest to the hazard center as the
// vertex to route around. Returns that vertex.
func (r *Router) SetHazardCenter(center geom.Point) int32 {
	v, _ := r.NearestVertex(center)
	r.hazardVertex = v
	return v
}

// ClearHazard removes the active exclusion.
func (r *Router) ClearHazard() { r.hazardVertex = NoHazard }

// HazardVertex returns the active hazard vertex, or NoHazard.
func (r *Router) HazardVertex() int32 { return r.hazardVertex }

// ShortestPath computes a route from origin to destination.
//
// Positions outside the in-network tolerance yield an empty route, as
// do disconnected components. When a hazard vertex is active and the
// unconstrained shortest path passes through it, the path is recomputed
// over a view excluding that vertex; safety always overrides length.
func (r *Router) ShortestPath(origin, dest geom.Point) Route {
	o, od := r.index.Nearest(origin)
	d, dd := r.index.Nearest(dest)
	if od > r.tol || dd > r.tol {
		return nil
	}
	src, dst := int32(o), int32(d)

	route := r.lookup(CacheKey{O: src, D: dst, HazardVertex: NoHazard}, src, dst, NoHazard)
	if r.hazardVertex != NoHazard && routeVisits(r.g, route, r.hazardVertex) {
		route = r.lookup(CacheKey{O: src, D: dst, HazardVertex: r.hazardVertex}, src, dst, r.hazardVertex)
	}
	return route
}

// lookup consults the cache and falls back to a fresh Dijkstra run,
// committing the result (including "no path") for reuse.
func (r *Router) lookup(key CacheKey, src, dst, excluded int32) Route {
	if cached, ok := r.cache[key]; ok {
		r.stats.Hits.Add(1)
		return cached
	}
	r.stats.Misses.Add(1)
	verts := shortestVertexPath(r.g, src, dst, excluded)
	route := make(Route, 0, len(verts))
	for _, v := range verts {
		route = append(route, r.g.Coord(v))
	}
	r.cache[key] = route
	if r.store != nil {
		r.store.Put(key, route)
	}
	return route
}

// routeVisits reports whether the route passes through vertex v. The
// check goes through the quantized coordinate table, never float
// equality on raw coordinates.
func routeVisits(g *Graph, route Route, v int32) bool {
	for _, p := range route {
		if g.VertexAt(p) == v {
			return true
		}
	}
	return false
}
