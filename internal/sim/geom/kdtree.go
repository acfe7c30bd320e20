package geom

import (
	"errors"
	"sort"
)

// KDTree is a static 2-d tree over a fixed point set. It answers
// nearest-point and radius queries by index into the original slice.
// The tree is built once; the point set never changes after build.
type KDTree struct {
	pts   []Point
	nodes []kdNode
	root  int32
}

type kdNode struct {
	idx         int32 // index into pts
	left, right int32 // node indexes, -1 for none
	axis        uint8 // 0 = X, 1 = Y
}

var ErrEmptyPointSet = errors.New("geom: cannot build kd-tree over empty point set")

// BuildKDTree constructs the tree. The input slice is not copied and
// must not be mutated afterwards. An empty input is an input-validation
// failure, not a silently empty index.
func BuildKDTree(pts []Point) (*KDTree, error) {
	if len(pts) == 0 {
		return nil, ErrEmptyPointSet
	}
	t := &KDTree{
		pts:   pts,
		nodes: make([]kdNode, 0, len(pts)),
	}
	order := make([]int32, len(pts))
	for i := range order {
		order[i] = int32(i)
	}
	t.root = t.build(order, 0)
	return t, nil
}

func (t *KDTree) build(order []int32, depth int) int32 {
	if len(order) == 0 {
		return -1
	}
	axis := uint8(depth % 2)
	// Sort by the split axis, breaking ties by index so the tree shape
	// (and therefore tie resolution) is stable for identical inputs.
	sort.Slice(order, func(i, j int) bool {
		a, b := t.pts[order[i]], t.pts[order[j]]
		av, bv := a.X, b.X
		if axis == 1 {
			av, bv = a.Y, b.Y
		}
		if av != bv {
			return av < bv
		}
		return order[i] < order[j]
	})
	mid := len(order) / 2
	n := kdNode{idx: order[mid], axis: axis, left: -1, right: -1}
	pos := int32(len(t.nodes))
	t.nodes = append(t.nodes, n)
	left := t.build(order[:mid], depth+1)
	right := t.build(order[mid+1:], depth+1)
	t.nodes[pos].left = left
	t.nodes[pos].right = right
	return pos
}

// Nearest returns the index of the closest point to q and its distance.
// Equidistant candidates resolve to the lowest index, so repeated
// queries on the same tree always return the same point.
func (t *KDTree) Nearest(q Point) (int, float64) {
	best := int32(-1)
	bestDist := 0.0
	t.nearest(t.root, q, &best, &bestDist)
	return int(best), bestDist
}

func (t *KDTree) nearest(node int32, q Point, best *int32, bestDist *float64) {
	if node < 0 {
		return
	}
	n := t.nodes[node]
	p := t.pts[n.idx]
	d := Dist(q, p)
	if *best < 0 || d < *bestDist || (d == *bestDist && n.idx < *best) {
		*best = n.idx
		*bestDist = d
	}

	var delta float64
	if n.axis == 0 {
		delta = q.X - p.X
	} else {
		delta = q.Y - p.Y
	}
	near, far := n.left, n.right
	if delta > 0 {
		near, far = n.right, n.left
	}
	t.nearest(near, q, best, bestDist)
	// The far side can still hold the winner (or a lower-index tie).
	if abs(delta) <= *bestDist {
		t.nearest(far, q, best, bestDist)
	}
}

// Within returns the indexes of all points at distance <= radius from
// center, in ascending index order.
func (t *KDTree) Within(center Point, radius float64) []int {
	if radius < 0 {
		return nil
	}
	var out []int
	t.within(t.root, center, radius, &out)
	sort.Ints(out)
	return out
}

func (t *KDTree) within(node int32, center Point, radius float64, out *[]int) {
	if node < 0 {
		return
	}
	n := t.nodes[node]
	p := t.pts[n.idx]
	if Dist(center, p) <= radius {
		*out = append(*out, int(n.idx))
	}
	var delta float64
	if n.axis == 0 {
		delta = center.X - p.X
	} else {
		delta = center.Y - p.Y
	}
	if delta <= radius {
		t.within(n.left, center, radius, out)
	}
	if -delta <= radius {
		t.within(n.right, center, radius, out)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
