// Package hazard models the danger zone: a fixed center with a radius
// that random-walks inside configured bounds. It is a scalar stochastic
// process, not a combustion model.
package hazard

import (
	"fmt"

	"cityevac.ai/internal/sim/geom"
)

// Outcome reports what a radius update did.
type Outcome int

const (
	None Outcome = iota
	Grew
	Shrank
)

func (o Outcome) String() string {
	switch o {
	case Grew:
		return "grew"
	case Shrank:
		return "shrank"
	default:
		return "none"
	}
}

// Weights are the relative odds of shrink/grow/no-change when an
// update fires. Zero values fall back to equal thirds.
type Weights struct {
	Shrink int
	Grow   int
	Keep   int
}

// Field is the hazard state. Center is fixed for the session; Radius
// moves by Step inside [MinRadius, MaxRadius].
type Field struct {
	Center    geom.Point
	Radius    float64
	MinRadius float64
	MaxRadius float64
	Step      float64

	// ChangePermille is the per-check chance (0..1000) that the radius
	// moves at all.
	ChangePermille int
	Weights        Weights
}

// New validates the configuration. Inverted bounds or an initial
// radius outside them indicate a broken deployment and are rejected.
func New(center geom.Point, initial, min, max, step float64, changePermille int, w Weights) (*Field, error) {
	if min > max {
		return nil, fmt.Errorf("hazard: inverted radius bounds [%v, %v]", min, max)
	}
	if initial < min || initial > max {
		return nil, fmt.Errorf("hazard: initial radius %v outside [%v, %v]", initial, min, max)
	}
	if step < 0 {
		return nil, fmt.Errorf("hazard: negative step %v", step)
	}
	if changePermille < 0 || changePermille > 1000 {
		return nil, fmt.Errorf("hazard: change permille %d outside 0..1000", changePermille)
	}
	if w == (Weights{}) {
		w = Weights{Shrink: 1, Grow: 1, Keep: 1}
	}
	if w.Shrink < 0 || w.Grow < 0 || w.Keep < 0 || w.Shrink+w.Grow+w.Keep == 0 {
		return nil, fmt.Errorf("hazard: bad outcome weights %+v", w)
	}
	return &Field{
		Center:         center,
		Radius:         initial,
		MinRadius:      min,
		MaxRadius:      max,
		Step:           step,
		ChangePermille: changePermille,
		Weights:        w,
	}, nil
}

// MaybeUpdate applies one stochastic radius step. roll supplies the
// randomness (the world draws it from its seeded hash stream so the
// simulation stays deterministic). The result is clamped into bounds;
// Grew is only reported when the radius actually increased after
// clamping, since that is what triggers commuter re-evaluation.
func (f *Field) MaybeUpdate(roll uint64) Outcome {
	if int(roll%1000) >= f.ChangePermille {
		return None
	}

	total := f.Weights.Shrink + f.Weights.Grow + f.Weights.Keep
	pick := int((roll >> 10) % uint64(total))

	before := f.Radius
	switch {
	case pick < f.Weights.Shrink:
		f.Radius -= f.Step
	case pick < f.Weights.Shrink+f.Weights.Grow:
		f.Radius += f.Step
	default:
		return None
	}

	if f.Radius < f.MinRadius {
		f.Radius = f.MinRadius
	}
	if f.Radius > f.MaxRadius {
		f.Radius = f.MaxRadius
	}

	switch {
	case f.Radius > before:
		return Grew
	case f.Radius < before:
		return Shrank
	default:
		return None
	}
}

// Contains reports whether p lies inside the danger zone.
func (f *Field) Contains(p geom.Point) bool {
	return geom.Dist(p, f.Center) <= f.Radius
}
