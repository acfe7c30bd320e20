package world

import (
	"encoding/json"

	"cityevac.ai/internal/protocol"
)

type subscribeReq struct {
	SendRoutes bool
	Out        chan []byte
	Resp       chan uint64
}

type observerClient struct {
	Out        chan []byte
	SendRoutes bool
}

// Subscribe registers an observer. Frames are JSON-encoded FrameMsg
// values pushed to out once per tick; slow observers miss frames
// rather than stalling the simulation. Returns the subscription id, or
// 0 when the world loop has already stopped (the request would never
// be served: Run exits on its own at the tick budget or when the
// evacuation settles, not only via Stop).
func (w *World) Subscribe(out chan []byte, sendRoutes bool) uint64 {
	req := subscribeReq{
		SendRoutes: sendRoutes,
		Out:        out,
		Resp:       make(chan uint64, 1),
	}
	select {
	case w.subscribe <- req:
	case <-w.stop:
		return 0
	case <-w.stopped:
		return 0
	}
	select {
	case id := <-req.Resp:
		return id
	case <-w.stopped:
		return 0
	}
}

// Unsubscribe removes an observer registration.
func (w *World) Unsubscribe(id uint64) {
	select {
	case w.unsubscribe <- id:
	case <-w.stop:
	case <-w.stopped:
	}
}

func (w *World) handleSubscribe(req subscribeReq) {
	id := w.nextClient.Add(1)
	w.clients[id] = &observerClient{Out: req.Out, SendRoutes: req.SendRoutes}
	req.Resp <- id
}

func (w *World) publishFrame() {
	if len(w.clients) == 0 {
		return
	}
	base, _ := json.Marshal(w.buildFrame(false))
	var withTrails []byte
	for _, c := range w.clients {
		payload := base
		if c.SendRoutes {
			if withTrails == nil {
				withTrails, _ = json.Marshal(w.buildFrame(true))
			}
			payload = withTrails
		}
		select {
		case c.Out <- payload:
		default:
			// Observer is behind; drop this frame for it.
		}
	}
}

func (w *World) buildFrame(withTrails bool) protocol.FrameMsg {
	counts := w.stateCounts()
	frame := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            w.tick.Load(),
		ClockMinutes:    w.clockMinutes,
		Day:             w.day,
		Hazard: protocol.HazardState{
			CenterX: w.field.Center.X,
			CenterY: w.field.Center.Y,
			Radius:  w.field.Radius,
		},
		Counts: protocol.StateCounts{
			Waiting:    counts.waiting,
			Evaluating: counts.evaluating,
			Evacuating: counts.evacuating,
			Arrived:    counts.arrived,
			Stranded:   counts.stranded,
		},
		Cache: protocol.CacheCounts{
			Hits:   w.router.Stats().Hits.Load(),
			Misses: w.router.Stats().Misses.Load(),
			Len:    w.router.CacheLen(),
		},
	}
	sorted := w.sortedCommuters()
	frame.Commuters = make([]protocol.CommuterView, 0, len(sorted))
	for _, c := range sorted {
		view := protocol.CommuterView{
			ID:    c.ID,
			X:     c.Pos.X,
			Y:     c.Pos.Y,
			State: c.State.String(),
		}
		if withTrails && len(c.Trail) > 0 {
			view.Trail = make([][2]float64, len(c.Trail))
			for i, p := range c.Trail {
				view.Trail[i] = [2]float64{p.X, p.Y}
			}
		}
		frame.Commuters = append(frame.Commuters, view)
	}
	return frame
}

// Bootstrap describes the world to a connecting observer.
func (w *World) Bootstrap() protocol.BootstrapResponse {
	g := w.router.Graph()
	return protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version,
		City:            w.cfg.City,
		Tick:            w.tick.Load(),
		Params: protocol.WorldParams{
			Seed:               w.cfg.Seed,
			MinutesPerTick:     w.cfg.Tuning.MinutesPerTick,
			InNetworkTolerance: w.cfg.Tuning.InNetworkTolerance,
			GraphDigest:        g.Digest(),
			VertexCount:        g.VertexCount(),
			EdgeCount:          g.EdgeCount(),
			HazardMinRadius:    w.field.MinRadius,
			HazardMaxRadius:    w.field.MaxRadius,
		},
	}
}
