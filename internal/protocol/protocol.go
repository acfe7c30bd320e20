// Package protocol defines the observer wire messages: JSON frames
// published once per tick to websocket subscribers for reporting and
// rendering. The simulation core never depends on subscribers being
// present.
package protocol

const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
	TypeError     = "ERROR"
)

// SubscribeMsg is the first message an observer must send.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// SendRoutes asks for commuter route trails in each frame.
	SendRoutes bool `json:"send_routes,omitempty"`
}

// ErrorMsg rejects a bad subscription or request.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// BootstrapResponse describes the running simulation to an observer.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	City            string      `json:"city"`
	Tick            uint64      `json:"tick"`
	Params          WorldParams `json:"params"`
}

type WorldParams struct {
	Seed               int64   `json:"seed"`
	MinutesPerTick     int     `json:"minutes_per_tick"`
	InNetworkTolerance float64 `json:"in_network_tolerance"`
	GraphDigest        string  `json:"graph_digest"`
	VertexCount        int     `json:"vertex_count"`
	EdgeCount          int     `json:"edge_count"`
	HazardMinRadius    float64 `json:"hazard_min_radius"`
	HazardMaxRadius    float64 `json:"hazard_max_radius"`
}

// FrameMsg is one per-tick observer frame.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Tick         uint64 `json:"tick"`
	ClockMinutes int    `json:"clock_minutes"`
	Day          int    `json:"day"`

	Hazard HazardState `json:"hazard"`
	Counts StateCounts `json:"counts"`
	Cache  CacheCounts `json:"cache"`

	Commuters []CommuterView `json:"commuters"`
}

type HazardState struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Radius  float64 `json:"radius"`
}

// StateCounts are the per-tick aggregates for reporting.
type StateCounts struct {
	Waiting    int `json:"waiting"`
	Evaluating int `json:"evaluating"`
	Evacuating int `json:"evacuating"`
	Arrived    int `json:"arrived"`
	Stranded   int `json:"stranded"`
}

type CacheCounts struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Len    int    `json:"len"`
}

// CommuterView is the render-facing slice of one commuter.
type CommuterView struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	State string  `json:"state"`

	Trail [][2]float64 `json:"trail,omitempty"`
}
