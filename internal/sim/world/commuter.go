package world

import (
	"fmt"
	"sort"

	"cityevac.ai/internal/sim/geom"
)

// State is the commuter lifecycle state.
type State uint8

const (
	// StateWaiting: the deferral countdown is running, or (disarmed)
	// only a hazard grow notification can re-trigger evaluation.
	StateWaiting State = iota
	// StateEvaluating: checking hazard proximity and requesting a route.
	StateEvaluating
	// StateEvacuating: advancing one route vertex per tick.
	StateEvacuating
	// StateArrived: terminal; every further tick is a no-op.
	StateArrived
	// StateStranded: terminal; gave up after exhausting route retries.
	StateStranded
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateEvaluating:
		return "evaluating"
	case StateEvacuating:
		return "evacuating"
	case StateArrived:
		return "arrived"
	case StateStranded:
		return "stranded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Commuter is one mobile agent. Commuters are created once at session
// start, mutated only by their own state-machine step and by grow
// notifications, and never removed from the set: arrival marks them
// terminal so reporting and iteration stay stable.
type Commuter struct {
	ID  string
	Seq uint64

	Pos   geom.Point
	State State

	// DeferredMinutes counts down toward self-triggered evaluation.
	// When DeferralArmed is false the countdown is disabled and only a
	// grow notification can move the commuter out of Waiting.
	DeferredMinutes int
	DeferralArmed   bool

	// Flagged records that the commuter was ever flagged to evacuate
	// (entered Evaluating). The session ends once every flagged
	// commuter is terminal; a false alarm (evaluated outside the danger
	// zone) clears it.
	Flagged bool

	Destination *geom.Point
	Route       []geom.Point
	Cursor      int
	Retries     int

	// Trail is the visited-position history for rendering, capped.
	Trail []geom.Point
}

// AddCommuter creates a commuter at origin in the Waiting state, with
// its deferral sampled once from the configured distribution. Must be
// called before Run starts (the commuter set is fixed per session).
func (w *World) AddCommuter(id string, origin geom.Point) (*Commuter, error) {
	if id == "" {
		return nil, fmt.Errorf("world: empty commuter id")
	}
	if _, exists := w.commuters[id]; exists {
		return nil, fmt.Errorf("world: duplicate commuter id %q", id)
	}
	seq := w.nextSeq.Add(1)
	c := &Commuter{
		ID:    id,
		Seq:   seq,
		Pos:   origin,
		State: StateWaiting,
	}
	c.DeferredMinutes, c.DeferralArmed = w.sampleDeferral(seq)
	w.commuters[id] = c
	return c, nil
}

// sampleDeferral draws from the decision table: permille shares for
// short/long/immediate deferrals, remainder never self-triggers.
func (w *World) sampleDeferral(seq uint64) (minutes int, armed bool) {
	d := w.cfg.Tuning.Decision
	pick := int(w.roll(seq, saltDeferral) % 1000)
	switch {
	case pick < d.ShortPermille:
		return d.ShortMinutes, true
	case pick < d.ShortPermille+d.LongPermille:
		return d.LongMinutes, true
	case pick < d.ShortPermille+d.LongPermille+d.ImmediatePermille:
		return d.ImmediateMinutes, true
	default:
		return 0, false
	}
}

func (w *World) sortedCommuters() []*Commuter {
	out := make([]*Commuter, 0, len(w.commuters))
	for _, c := range w.commuters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) setState(c *Commuter, to State, reason string) {
	if c.State == to {
		return
	}
	w.transitions = append(w.transitions, Transition{
		Commuter: c.ID,
		From:     c.State.String(),
		To:       to.String(),
		Reason:   reason,
	})
	if to == StateEvaluating {
		c.Flagged = true
	}
	c.State = to
}

// stepCommuter runs one tick of the lifecycle. A Waiting commuter
// whose deferral expires evaluates on the same tick, and a successful
// evaluation takes its first route step on that tick too: the decision
// tick is never spent standing still.
func (w *World) stepCommuter(c *Commuter, tick uint64) {
	switch c.State {
	case StateArrived, StateStranded:
		return
	case StateWaiting:
		if !c.DeferralArmed {
			return
		}
		c.DeferredMinutes -= w.cfg.Tuning.MinutesPerTick
		if c.DeferredMinutes > 0 {
			return
		}
		w.setState(c, StateEvaluating, "deferral_expired")
		w.evaluate(c, tick)
	case StateEvaluating:
		w.evaluate(c, tick)
	case StateEvacuating:
		w.advance(c)
	}
}

// evaluate runs the proximity check and, inside the danger zone, picks
// a destination and requests a route. Outside the zone the commuter
// returns to Waiting with the deferral disabled: only a future grow
// notification re-triggers it.
func (w *World) evaluate(c *Commuter, tick uint64) {
	if !w.field.Contains(c.Pos) {
		c.DeferralArmed = false
		c.Flagged = false
		w.setState(c, StateWaiting, "outside_danger_zone")
		return
	}

	dest := w.cfg.EvacCenters[int(w.roll(c.Seq^tick, saltDestination)%uint64(len(w.cfg.EvacCenters)))]
	route := w.router.ShortestPath(c.Pos, dest)
	if len(route) == 0 {
		// No route: reselect next tick instead of stalling, up to the
		// configured retry budget.
		c.Retries++
		if c.Retries > w.cfg.Tuning.MaxRouteRetries {
			w.setState(c, StateStranded, "route_retries_exhausted")
			w.stranded++
		}
		return
	}
	d := dest
	c.Destination = &d
	c.Route = route
	c.Cursor = 0
	c.Retries = 0
	w.setState(c, StateEvacuating, "route_found")
	// The decision tick is not spent standing still: the first route
	// step happens on the same tick the route is selected.
	w.advance(c)
}

// advance moves one route vertex per tick; past the last vertex the
// commuter snaps to its destination and arrives.
func (w *World) advance(c *Commuter) {
	if c.Cursor < len(c.Route) {
		w.moveTo(c, c.Route[c.Cursor])
		c.Cursor++
		return
	}
	if c.Destination != nil {
		w.moveTo(c, *c.Destination)
	}
	c.Route = nil
	w.setState(c, StateArrived, "destination_reached")
	w.arrived++
}

func (w *World) moveTo(c *Commuter, p geom.Point) {
	c.Pos = p
	limit := w.cfg.Tuning.TrailCap
	if limit <= 0 {
		return
	}
	c.Trail = append(c.Trail, p)
	if len(c.Trail) > limit {
		c.Trail = c.Trail[len(c.Trail)-limit:]
	}
}

// ArrivedCount reports commuters that reached a destination.
func (w *World) ArrivedCount() int { return w.arrived }

// StrandedCount reports commuters that gave up routing.
func (w *World) StrandedCount() int { return w.stranded }

// CommuterCount reports the fixed population size.
func (w *World) CommuterCount() int { return len(w.commuters) }

// Commuter returns one commuter by id, or nil. Intended for tests and
// snapshot plumbing; must only be used from the world loop goroutine.
func (w *World) Commuter(id string) *Commuter { return w.commuters[id] }
