package world

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cityevac.ai/internal/persistence/snapshot"
	"cityevac.ai/internal/sim/geom"
	"cityevac.ai/internal/sim/hazard"
	"cityevac.ai/internal/sim/roadnet"
	"cityevac.ai/internal/sim/tuning"
)

// Config carries the per-session world parameters.
type Config struct {
	City string
	Seed int64

	Tuning tuning.Tuning

	// EvacCenters is the destination pool commuters choose from.
	EvacCenters []geom.Point

	// TickInterval paces Run. Zero means 200ms. step() ignores it, so
	// tests and the replay tool can drive ticks as fast as they like.
	TickInterval time.Duration
}

// TickLogger receives one structured entry per tick.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is the structured per-tick event record: hazard moves,
// state transitions and cache counters, verifiable by tests and
// tooling instead of log inspection.
type TickLogEntry struct {
	Tick         uint64 `json:"tick"`
	ClockMinutes int    `json:"clock_minutes"`
	Day          int    `json:"day"`

	HazardRadius  float64 `json:"hazard_radius"`
	HazardOutcome string  `json:"hazard_outcome,omitempty"`
	GrowNotified  int     `json:"grow_notified,omitempty"`

	Transitions []Transition `json:"transitions,omitempty"`

	Waiting    int `json:"waiting"`
	Evaluating int `json:"evaluating"`
	Evacuating int `json:"evacuating"`
	Arrived    int `json:"arrived"`
	Stranded   int `json:"stranded"`

	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`

	Digest string `json:"digest"`
}

// Transition records one commuter state change.
type Transition struct {
	Commuter string `json:"commuter"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason,omitempty"`
}

// World is the single-threaded authoritative simulation. All state
// must be accessed only from the world loop goroutine; ticks run to
// completion, one at a time.
type World struct {
	cfg    Config
	router *roadnet.Router
	field  *hazard.Field

	tick         atomic.Uint64
	clockMinutes int
	day          int

	commuters map[string]*Commuter
	nextSeq   atomic.Uint64

	arrived   int
	stranded  int
	growCount uint64

	// Optional sinks (may be nil).
	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	subscribe   chan subscribeReq
	unsubscribe chan uint64
	clients     map[uint64]*observerClient
	nextClient  atomic.Uint64
	stop        chan struct{}
	// stopped is closed when Run returns, on every exit path. Subscribe
	// and Unsubscribe select on it so observers connecting after the
	// session ended fail fast instead of blocking forever.
	stopped chan struct{}

	// Scratch for the tick currently being computed.
	transitions  []Transition
	lastOutcome  hazard.Outcome
	lastNotified int
}

// New wires the world together. The hazard center is fixed for the
// session: its nearest road vertex becomes the router's exclusion
// vertex. An empty evacuation-center pool is a deployment error.
func New(cfg Config, router *roadnet.Router, field *hazard.Field) (*World, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if len(cfg.EvacCenters) == 0 {
		return nil, errors.New("world: empty evacuation-center pool")
	}
	if router == nil || field == nil {
		return nil, errors.New("world: router and hazard field are required")
	}
	router.SetHazardCenter(field.Center)

	return &World{
		cfg:         cfg,
		router:      router,
		field:       field,
		commuters:   make(map[string]*Commuter),
		subscribe:   make(chan subscribeReq, 8),
		unsubscribe: make(chan uint64, 8),
		clients:     make(map[uint64]*observerClient),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

func (w *World) Config() Config          { return w.cfg }
func (w *World) CurrentTick() uint64     { return w.tick.Load() }
func (w *World) Router() *roadnet.Router { return w.router }
func (w *World) Hazard() *hazard.Field   { return w.field }

// SetTickLogger attaches the structured tick log sink.
func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

// SetSnapshotSink attaches an off-thread snapshot writer channel.
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

// Run paces the tick loop until the context ends, Stop is called, the
// tick budget elapses, or every commuter ever flagged to evacuate has
// reached a terminal state.
func (w *World) Run(ctx context.Context) error {
	defer close(w.stopped)

	interval := w.cfg.TickInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.subscribe:
			w.handleSubscribe(req)
		case id := <-w.unsubscribe:
			delete(w.clients, id)
		case <-ticker.C:
			w.step()
			w.publishFrame()
			if w.done() {
				return nil
			}
		}
	}
}

// Stop ends Run after the in-flight tick completes.
func (w *World) Stop() { close(w.stop) }

// StepOnce advances exactly one tick and returns the tick number and
// state digest. Used by tests and the replay verifier; must not be
// called while Run is driving the loop.
func (w *World) StepOnce() (uint64, string) {
	w.step()
	tick := w.tick.Load()
	return tick, w.stateDigest(tick)
}

func (w *World) done() bool {
	if w.tick.Load() >= uint64(w.cfg.Tuning.TickBudget) {
		return true
	}
	return w.settled()
}

// settled reports whether the evacuation has run its course: at least
// one commuter was flagged to evacuate and every flagged commuter has
// reached a terminal state. Waiting commuters that were never flagged
// do not keep the session alive.
func (w *World) settled() bool {
	flagged := 0
	for _, c := range w.commuters {
		switch c.State {
		case StateEvaluating, StateEvacuating:
			return false
		}
		if c.Flagged {
			flagged++
		}
	}
	return flagged > 0
}

// step advances the simulation by one tick: clock, then hazard, then
// every commuter exactly once in sorted-ID order. Hazard mutation
// strictly precedes agent evaluation, so agents always observe the
// fully updated radius. No agent's transition may depend on another
// agent's same-tick transition.
func (w *World) step() {
	tick := w.tick.Add(1)
	w.advanceClock()

	w.transitions = w.transitions[:0]
	w.lastOutcome = hazard.None
	w.lastNotified = 0

	if tick%uint64(w.cfg.Tuning.Hazard.CheckEveryTicks) == 0 {
		w.lastOutcome = w.field.MaybeUpdate(w.roll(tick, saltHazard))
		if w.lastOutcome == hazard.Grew {
			w.growCount++
			w.lastNotified = w.notifyGrow()
		}
	}

	for _, c := range w.sortedCommuters() {
		w.stepCommuter(c, tick)
	}

	w.writeTickLog(tick)
	w.maybeSnapshot(tick)
}

func (w *World) advanceClock() {
	w.clockMinutes += w.cfg.Tuning.MinutesPerTick
	for w.clockMinutes >= 1440 {
		w.clockMinutes -= 1440
		w.day++
	}
}

// notifyGrow re-evaluates every Waiting commuter now inside the grown
// radius, regardless of its remaining deferral. Membership is resolved
// through a spatial index over current commuter positions. Shrinking
// never revokes an evacuation already in progress.
func (w *World) notifyGrow() int {
	sorted := w.sortedCommuters()
	if len(sorted) == 0 {
		return 0
	}
	pts := make([]geom.Point, len(sorted))
	for i, c := range sorted {
		pts[i] = c.Pos
	}
	index, err := geom.BuildKDTree(pts)
	if err != nil {
		return 0
	}
	notified := 0
	for _, i := range index.Within(w.field.Center, w.field.Radius) {
		c := sorted[i]
		if c.State != StateWaiting {
			continue
		}
		w.setState(c, StateEvaluating, "grow_notification")
		notified++
	}
	return notified
}

func (w *World) writeTickLog(tick uint64) {
	if w.tickLogger == nil {
		return
	}
	counts := w.stateCounts()
	entry := TickLogEntry{
		Tick:         tick,
		ClockMinutes: w.clockMinutes,
		Day:          w.day,
		HazardRadius: w.field.Radius,
		GrowNotified: w.lastNotified,
		Transitions:  append([]Transition(nil), w.transitions...),
		Waiting:      counts.waiting,
		Evaluating:   counts.evaluating,
		Evacuating:   counts.evacuating,
		Arrived:      counts.arrived,
		Stranded:     counts.stranded,
		CacheHits:    w.router.Stats().Hits.Load(),
		CacheMisses:  w.router.Stats().Misses.Load(),
		Digest:       w.stateDigest(tick),
	}
	if w.lastOutcome != hazard.None {
		entry.HazardOutcome = w.lastOutcome.String()
	}
	_ = w.tickLogger.WriteTick(entry)
}

func (w *World) maybeSnapshot(tick uint64) {
	if w.snapshotSink == nil {
		return
	}
	every := uint64(w.cfg.Tuning.SnapshotEveryTicks)
	if every == 0 || tick%every != 0 {
		return
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot():
	default:
		// Snapshot writer is behind; skip rather than stall the tick.
	}
}

type stateCountSet struct {
	waiting, evaluating, evacuating, arrived, stranded int
}

func (w *World) stateCounts() stateCountSet {
	var s stateCountSet
	for _, c := range w.commuters {
		switch c.State {
		case StateWaiting:
			s.waiting++
		case StateEvaluating:
			s.evaluating++
		case StateEvacuating:
			s.evacuating++
		case StateArrived:
			s.arrived++
		case StateStranded:
			s.stranded++
		}
	}
	return s
}
