package world

import (
	"context"
	"testing"
	"time"

	"cityevac.ai/internal/sim/geom"
	"cityevac.ai/internal/sim/hazard"
	"cityevac.ai/internal/sim/roadnet"
	"cityevac.ai/internal/sim/tuning"
)

// diamondSegments: a line (0,0)-(1,0)-(2,0) plus a safe loop over the
// top, so excluding (1,0) still leaves a path.
func diamondSegments() []geom.Segment {
	return []geom.Segment{
		{Points: []geom.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}},
		{Points: []geom.Point{{X: 0, Y: 0}, {X: 0, Y: 3}, {X: 2, Y: 3}, {X: 2, Y: 0}}},
	}
}

func lineOnlySegments() []geom.Segment {
	return []geom.Segment{
		{Points: []geom.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}},
	}
}

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.MinutesPerTick = 5
	t.TickBudget = 200
	t.NumCommuters = 1
	t.EvacCenters = 1
	t.MaxRouteRetries = 2
	t.SnapshotEveryTicks = 0
	t.Hazard = tuning.Hazard{
		InitialRadius:   1.2,
		MinRadius:       0.5,
		MaxRadius:       3,
		Step:            0.5,
		ChangePermille:  0,
		CheckEveryTicks: 1,
		ShrinkWeight:    1,
		GrowWeight:      1,
		KeepWeight:      1,
	}
	return t
}

func newTestWorld(t *testing.T, segs []geom.Segment, tn tuning.Tuning, centers []geom.Point) *World {
	t.Helper()
	router, err := roadnet.NewRouter(roadnet.BuildGraph(segs), tn.InNetworkTolerance)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	h := tn.Hazard
	field, err := hazard.New(
		geom.Point{X: 1, Y: 0},
		h.InitialRadius, h.MinRadius, h.MaxRadius, h.Step,
		h.ChangePermille,
		hazard.Weights{Shrink: h.ShrinkWeight, Grow: h.GrowWeight, Keep: h.KeepWeight},
	)
	if err != nil {
		t.Fatalf("hazard: %v", err)
	}
	w, err := New(Config{City: "test", Seed: 42, Tuning: tn, EvacCenters: centers}, router, field)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func TestNew_EmptyEvacPoolFatal(t *testing.T) {
	tn := testTuning()
	router, err := roadnet.NewRouter(roadnet.BuildGraph(diamondSegments()), tn.InNetworkTolerance)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	field, err := hazard.New(geom.Point{X: 1, Y: 0}, 1.2, 0.5, 3, 0.5, 0, hazard.Weights{})
	if err != nil {
		t.Fatalf("hazard: %v", err)
	}
	if _, err := New(Config{City: "test", Seed: 1, Tuning: tn}, router, field); err == nil {
		t.Fatalf("expected error for empty evacuation-center pool")
	}
}

func TestCommuter_ZeroDeferralEvacuatesFirstTick(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, err := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	c.DeferredMinutes = 0
	c.DeferralArmed = true

	w.step()
	if c.State != StateEvacuating {
		t.Fatalf("state after tick 1 = %s, want evacuating", c.State)
	}

	// Advance until arrival; the detour route has at most 5 vertices,
	// so a handful of ticks suffices.
	for i := 0; i < 10 && c.State != StateArrived; i++ {
		w.step()
	}
	if c.State != StateArrived {
		t.Fatalf("commuter never arrived, state = %s", c.State)
	}
	if c.Pos != (geom.Point{X: 2, Y: 0}) {
		t.Fatalf("final position = %v, want destination", c.Pos)
	}
	if w.ArrivedCount() != 1 {
		t.Fatalf("arrived count = %d, want 1", w.ArrivedCount())
	}
	// Terminal state is idempotent.
	w.step()
	if c.State != StateArrived || w.ArrivedCount() != 1 {
		t.Fatalf("arrival was not terminal")
	}
}

func TestCommuter_RouteAvoidsHazardVertex(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true

	w.step()
	if c.State != StateEvacuating {
		t.Fatalf("state = %s, want evacuating", c.State)
	}
	g := w.Router().Graph()
	hv := w.Router().HazardVertex()
	for _, p := range c.Route {
		if g.VertexAt(p) == hv {
			t.Fatalf("route %v passes through the hazard vertex", c.Route)
		}
	}
}

func TestCommuter_OutsideZoneDisarmsDeferral(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	// (2,3) is well outside the radius-1.2 zone around (1,0).
	c, _ := w.AddCommuter("c-1", geom.Point{X: 2, Y: 3})
	c.DeferredMinutes = 0
	c.DeferralArmed = true

	w.step()
	if c.State != StateWaiting {
		t.Fatalf("state = %s, want waiting", c.State)
	}
	if c.DeferralArmed {
		t.Fatalf("deferral still armed after declining to evacuate")
	}
	// With the deferral disabled and no hazard growth, nothing moves.
	for i := 0; i < 20; i++ {
		w.step()
	}
	if c.State != StateWaiting {
		t.Fatalf("state drifted to %s without a grow notification", c.State)
	}
}

func TestGrowNotification_ForcesEvaluationSameTick(t *testing.T) {
	tn := testTuning()
	tn.Hazard.ChangePermille = 1000
	tn.Hazard.ShrinkWeight = 0
	tn.Hazard.GrowWeight = 1
	tn.Hazard.KeepWeight = 0
	w := newTestWorld(t, diamondSegments(), tn, []geom.Point{{X: 2, Y: 0}})

	// Distance 2 from the center: inside only once the radius passes
	// 2.0 (1.2 -> 1.7 -> 2.2). Deferral disabled, so only the grow
	// notification can move it.
	c, _ := w.AddCommuter("c-1", geom.Point{X: -1, Y: 0})
	c.DeferralArmed = false

	w.step()
	if c.State != StateWaiting {
		t.Fatalf("state after first grow (radius %v) = %s, want waiting", w.Hazard().Radius, c.State)
	}
	w.step()
	if c.State == StateWaiting {
		t.Fatalf("still waiting after radius %v covered position", w.Hazard().Radius)
	}
}

func TestCommuter_MovesOnDecisionTick(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	// Off-vertex origin: the first route step snaps to the nearest
	// vertex, so movement on the decision tick is visible.
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0.4, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true

	w.step()
	if c.State != StateEvacuating {
		t.Fatalf("state = %s, want evacuating", c.State)
	}
	if c.Cursor != 1 {
		t.Fatalf("cursor = %d, want 1 (first step taken on the decision tick)", c.Cursor)
	}
	if c.Pos != (geom.Point{X: 0, Y: 0}) {
		t.Fatalf("position = %v, want first route vertex", c.Pos)
	}
}

func TestSettled_IgnoresNeverFlaggedWaiters(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true
	// Outside the zone with the deferral disabled: never flagged.
	idle, _ := w.AddCommuter("c-2", geom.Point{X: 2, Y: 3})
	idle.DeferralArmed = false

	if w.settled() {
		t.Fatalf("settled before anyone was flagged to evacuate")
	}
	for i := 0; i < 10 && c.State != StateArrived; i++ {
		w.step()
	}
	if c.State != StateArrived {
		t.Fatalf("flagged commuter never arrived, state = %s", c.State)
	}
	if idle.State != StateWaiting || idle.Flagged {
		t.Fatalf("idle commuter = %s flagged=%v, want unflagged waiting", idle.State, idle.Flagged)
	}
	if !w.settled() {
		t.Fatalf("not settled although every flagged commuter is terminal")
	}
}

func TestRun_SelfTerminatesWhenSettled(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true
	w.cfg.TickInterval = time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not end after the evacuation settled")
	}
	if got := w.CurrentTick(); got >= uint64(w.cfg.Tuning.TickBudget) {
		t.Fatalf("run consumed the full tick budget (%d ticks)", got)
	}
	if c.State != StateArrived {
		t.Fatalf("state after run = %s, want arrived", c.State)
	}
}

func TestObserver_SubscribeAfterRunEnds(t *testing.T) {
	tn := testTuning()
	tn.TickBudget = 2
	w := newTestWorld(t, diamondSegments(), tn, []geom.Point{{X: 2, Y: 0}})
	w.cfg.TickInterval = time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not end at the tick budget")
	}

	// A late observer must be turned away promptly, not left hanging.
	idCh := make(chan uint64, 1)
	go func() { idCh <- w.Subscribe(make(chan []byte, 1), false) }()
	select {
	case id := <-idCh:
		if id != 0 {
			t.Fatalf("subscribe id = %d after shutdown, want 0", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Subscribe blocked after Run returned")
	}

	done := make(chan struct{})
	go func() { w.Unsubscribe(1); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Unsubscribe blocked after Run returned")
	}
}

func TestHazardShrink_NeverCancelsEvacuation(t *testing.T) {
	tn := testTuning()
	tn.Hazard.ChangePermille = 1000
	tn.Hazard.ShrinkWeight = 1
	tn.Hazard.GrowWeight = 0
	tn.Hazard.KeepWeight = 0
	w := newTestWorld(t, diamondSegments(), tn, []geom.Point{{X: 2, Y: 0}})

	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	dest := geom.Point{X: 2, Y: 0}
	c.State = StateEvacuating
	c.Destination = &dest
	c.Route = []geom.Point{{X: 0, Y: 0}, {X: 0, Y: 3}, {X: 2, Y: 3}, {X: 2, Y: 0}}

	for i := 0; i < 6; i++ {
		w.step()
		if c.State == StateWaiting || c.State == StateEvaluating {
			t.Fatalf("shrink revoked an evacuation in progress at step %d", i)
		}
	}
	if w.Hazard().Radius != tn.Hazard.MinRadius {
		t.Fatalf("radius = %v, want shrunk to min", w.Hazard().Radius)
	}
	if c.State != StateArrived {
		t.Fatalf("state = %s, want arrived", c.State)
	}
}

func TestCommuter_StrandedAfterRetryBudget(t *testing.T) {
	// Line-only graph: the hazard vertex severs the single path, so no
	// route ever exists and the commuter must give up, not stall.
	w := newTestWorld(t, lineOnlySegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true

	for i := 0; i < 5; i++ {
		w.step()
	}
	if c.State != StateStranded {
		t.Fatalf("state = %s, want stranded after retry budget", c.State)
	}
	if w.StrandedCount() != 1 {
		t.Fatalf("stranded count = %d, want 1", w.StrandedCount())
	}
	if !w.settled() {
		t.Fatalf("world not settled with all commuters terminal")
	}
}

func TestTickLog_RecordsTransitionsAndCounts(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true

	var entries []TickLogEntry
	w.SetTickLogger(tickLogFunc(func(e TickLogEntry) error {
		entries = append(entries, e)
		return nil
	}))

	w.step()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Tick != 1 || e.ClockMinutes != 5 {
		t.Fatalf("entry clock = tick %d / %d min", e.Tick, e.ClockMinutes)
	}
	if e.Evacuating != 1 {
		t.Fatalf("evacuating count = %d, want 1", e.Evacuating)
	}
	if len(e.Transitions) < 2 {
		t.Fatalf("transitions = %v, want waiting->evaluating->evacuating", e.Transitions)
	}
	if e.Digest == "" {
		t.Fatalf("missing state digest")
	}
}

type tickLogFunc func(TickLogEntry) error

func (f tickLogFunc) WriteTick(e TickLogEntry) error { return f(e) }

func TestClock_DayRollover(t *testing.T) {
	tn := testTuning()
	tn.MinutesPerTick = 720
	w := newTestWorld(t, diamondSegments(), tn, []geom.Point{{X: 2, Y: 0}})
	w.step()
	w.step()
	frame := w.buildFrame(false)
	if frame.Day != 1 || frame.ClockMinutes != 0 {
		t.Fatalf("clock = day %d, %d min; want day 1, 0 min", frame.Day, frame.ClockMinutes)
	}
}

func TestBuildFrame_Views(t *testing.T) {
	w := newTestWorld(t, diamondSegments(), testTuning(), []geom.Point{{X: 2, Y: 0}})
	c, _ := w.AddCommuter("c-1", geom.Point{X: 0, Y: 0})
	c.DeferredMinutes = 0
	c.DeferralArmed = true
	w.step()
	w.step()

	frame := w.buildFrame(true)
	if len(frame.Commuters) != 1 {
		t.Fatalf("views = %d, want 1", len(frame.Commuters))
	}
	v := frame.Commuters[0]
	if v.ID != "c-1" || v.State != "evacuating" {
		t.Fatalf("view = %+v", v)
	}
	if len(v.Trail) == 0 {
		t.Fatalf("trail missing with send_routes enabled")
	}
	if frame.Hazard.Radius != 1.2 {
		t.Fatalf("hazard radius = %v", frame.Hazard.Radius)
	}

	boot := w.Bootstrap()
	if boot.City != "test" || boot.Params.VertexCount != 5 {
		t.Fatalf("bootstrap = %+v", boot)
	}
}
