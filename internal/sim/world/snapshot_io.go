package world

import (
	"fmt"

	"cityevac.ai/internal/persistence/snapshot"
	"cityevac.ai/internal/sim/geom"
)

// ExportSnapshot captures the full mutable state for durable storage.
// Must be called from the world loop goroutine (or before Run starts).
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: 1,
			City:    w.cfg.City,
			Tick:    w.tick.Load(),
		},
		Seed:           w.cfg.Seed,
		GraphDigest:    w.router.Graph().Digest(),
		MinutesPerTick: w.cfg.Tuning.MinutesPerTick,
		ClockMinutes:   w.clockMinutes,
		Day:            w.day,
		Hazard: snapshot.HazardV1{
			Center:    pointV1(w.field.Center),
			Radius:    w.field.Radius,
			MinRadius: w.field.MinRadius,
			MaxRadius: w.field.MaxRadius,
			Step:      w.field.Step,
		},
		Counters: snapshot.CountersV1{
			Arrived:   w.arrived,
			Stranded:  w.stranded,
			NextSeq:   w.nextSeq.Load(),
			GrowCount: w.growCount,
		},
	}
	for _, p := range w.cfg.EvacCenters {
		snap.EvacCenters = append(snap.EvacCenters, pointV1(p))
	}
	for _, c := range w.sortedCommuters() {
		cv := snapshot.CommuterV1{
			ID:              c.ID,
			Seq:             c.Seq,
			Pos:             pointV1(c.Pos),
			State:           c.State.String(),
			DeferredMinutes: c.DeferredMinutes,
			DeferralArmed:   c.DeferralArmed,
			Flagged:         c.Flagged,
			Cursor:          c.Cursor,
			Retries:         c.Retries,
		}
		if c.Destination != nil {
			d := pointV1(*c.Destination)
			cv.Destination = &d
		}
		for _, p := range c.Route {
			cv.Route = append(cv.Route, pointV1(p))
		}
		for _, p := range c.Trail {
			cv.Trail = append(cv.Trail, pointV1(p))
		}
		snap.Commuters = append(snap.Commuters, cv)
	}
	return snap
}

// ImportSnapshot restores mutable state into a freshly constructed
// world. The snapshot must have been taken against the same road
// graph; a digest mismatch is an error, not a silent partial resume.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.GraphDigest != w.router.Graph().Digest() {
		return fmt.Errorf("snapshot graph digest %s does not match live graph", snap.GraphDigest)
	}
	if snap.Header.City != w.cfg.City {
		return fmt.Errorf("snapshot city %q does not match %q", snap.Header.City, w.cfg.City)
	}

	w.tick.Store(snap.Header.Tick)
	w.clockMinutes = snap.ClockMinutes
	w.day = snap.Day
	w.field.Radius = snap.Hazard.Radius
	w.arrived = snap.Counters.Arrived
	w.stranded = snap.Counters.Stranded
	w.nextSeq.Store(snap.Counters.NextSeq)
	w.growCount = snap.Counters.GrowCount

	w.commuters = make(map[string]*Commuter, len(snap.Commuters))
	for _, cv := range snap.Commuters {
		st, err := parseState(cv.State)
		if err != nil {
			return err
		}
		c := &Commuter{
			ID:              cv.ID,
			Seq:             cv.Seq,
			Pos:             point(cv.Pos),
			State:           st,
			DeferredMinutes: cv.DeferredMinutes,
			DeferralArmed:   cv.DeferralArmed,
			Flagged:         cv.Flagged,
			Cursor:          cv.Cursor,
			Retries:         cv.Retries,
		}
		if cv.Destination != nil {
			d := point(*cv.Destination)
			c.Destination = &d
		}
		for _, p := range cv.Route {
			c.Route = append(c.Route, point(p))
		}
		for _, p := range cv.Trail {
			c.Trail = append(c.Trail, point(p))
		}
		w.commuters[c.ID] = c
	}
	return nil
}

func parseState(s string) (State, error) {
	switch s {
	case "waiting":
		return StateWaiting, nil
	case "evaluating":
		return StateEvaluating, nil
	case "evacuating":
		return StateEvacuating, nil
	case "arrived":
		return StateArrived, nil
	case "stranded":
		return StateStranded, nil
	default:
		return 0, fmt.Errorf("unknown commuter state %q in snapshot", s)
	}
}

func pointV1(p geom.Point) snapshot.PointV1 { return snapshot.PointV1{X: p.X, Y: p.Y} }
func point(p snapshot.PointV1) geom.Point   { return geom.Point{X: p.X, Y: p.Y} }
