package roadnet

import (
	"container/heap"
	"math"
)

// shortestVertexPath runs Dijkstra from src to dst over the base
// graph, optionally treating one vertex as absent (excluded < 0 means
// no exclusion). The exclusion is a transient view for this query; the
// graph itself is never touched. Returns the vertex sequence inclusive
// of endpoints, or nil when dst is unreachable.
func shortestVertexPath(g *Graph, src, dst, excluded int32) []int32 {
	if src == excluded || dst == excluded {
		return nil
	}
	if src == dst {
		return []int32{src}
	}

	n := g.VertexCount()
	dist := make([]float64, n)
	prev := make([]int32, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	pq := &vertexQueue{}
	heap.Init(pq)
	heap.Push(pq, vqItem{v: src, priority: 0})

	for pq.Len() > 0 {
		it := heap.Pop(pq).(vqItem)
		u := it.v
		if u == dst {
			break
		}
		if it.priority > dist[u] {
			continue // stale entry
		}
		for _, e := range g.Neighbors(u) {
			if e.To == excluded {
				continue
			}
			alt := dist[u] + e.Weight
			if alt < dist[e.To] {
				dist[e.To] = alt
				prev[e.To] = u
				heap.Push(pq, vqItem{v: e.To, priority: alt})
			}
		}
	}

	if math.IsInf(dist[dst], 1) {
		return nil
	}
	var path []int32
	for u := dst; u >= 0; u = prev[u] {
		path = append(path, u)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type vqItem struct {
	v        int32
	priority float64
}

type vertexQueue []vqItem

func (pq vertexQueue) Len() int { return len(pq) }
func (pq vertexQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	// Equal-cost pops settle by vertex id so query results are stable.
	return pq[i].v < pq[j].v
}
func (pq vertexQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *vertexQueue) Push(x interface{}) { *pq = append(*pq, x.(vqItem)) }
func (pq *vertexQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	*pq = old[:n-1]
	return it
}
