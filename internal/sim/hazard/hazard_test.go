package hazard

import (
	"testing"

	"cityevac.ai/internal/sim/geom"
)

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func TestNew_RejectsBrokenConfig(t *testing.T) {
	center := geom.Point{}
	cases := []struct {
		name                        string
		initial, min, max, step     float64
		permille                    int
	}{
		{"inverted bounds", 50, 100, 10, 5, 500},
		{"initial below min", 5, 10, 100, 5, 500},
		{"initial above max", 200, 10, 100, 5, 500},
		{"negative step", 50, 10, 100, -1, 500},
		{"permille out of range", 50, 10, 100, 5, 1500},
	}
	for _, tc := range cases {
		if _, err := New(center, tc.initial, tc.min, tc.max, tc.step, tc.permille, Weights{}); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestMaybeUpdate_RadiusStaysBounded(t *testing.T) {
	f, err := New(geom.Point{}, 50, 10, 100, 7, 1000, Weights{Shrink: 2, Grow: 5, Keep: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := uint64(0); i < 10000; i++ {
		f.MaybeUpdate(mix64(i))
		if f.Radius < f.MinRadius || f.Radius > f.MaxRadius {
			t.Fatalf("step %d: radius %v escaped [%v, %v]", i, f.Radius, f.MinRadius, f.MaxRadius)
		}
	}
}

func TestMaybeUpdate_GrowOnlyWhenRadiusIncreases(t *testing.T) {
	// Pinned at max: a grow pick clamps back and must not report Grew.
	f, err := New(geom.Point{}, 100, 10, 100, 7, 1000, Weights{Grow: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := uint64(0); i < 100; i++ {
		if out := f.MaybeUpdate(mix64(i)); out == Grew {
			t.Fatalf("reported Grew while pinned at max radius")
		}
	}
	if f.Radius != 100 {
		t.Fatalf("radius = %v, want clamped at 100", f.Radius)
	}
}

func TestMaybeUpdate_NoChangeBelowThreshold(t *testing.T) {
	f, err := New(geom.Point{}, 50, 10, 100, 7, 0, Weights{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := uint64(0); i < 100; i++ {
		if out := f.MaybeUpdate(mix64(i)); out != None {
			t.Fatalf("update fired with zero change probability")
		}
	}
	if f.Radius != 50 {
		t.Fatalf("radius moved with zero change probability")
	}
}

func TestContains(t *testing.T) {
	f, err := New(geom.Point{X: 10, Y: 10}, 5, 1, 20, 1, 500, Weights{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !f.Contains(geom.Point{X: 13, Y: 14}) {
		t.Fatalf("boundary point not contained")
	}
	if f.Contains(geom.Point{X: 16, Y: 10}) {
		t.Fatalf("outside point contained")
	}
}
