package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cityevac.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	subscribeSchema := compile("subscribe.schema.json")
	bootstrapSchema := compile("bootstrap.schema.json")
	frameSchema := compile("frame.schema.json")

	var sub any
	_ = json.Unmarshal([]byte(`{
	  "type":"SUBSCRIBE",
	  "protocol_version":"1.0",
	  "send_routes":true
	}`), &sub)
	validate(subscribeSchema, sub)

	var boot any
	_ = json.Unmarshal([]byte(`{
	  "protocol_version":"1.0",
	  "city":"valpo",
	  "tick":120,
	  "params":{
	    "seed":1337,
	    "minutes_per_tick":5,
	    "in_network_tolerance":100,
	    "graph_digest":"deadbeef",
	    "vertex_count":4213,
	    "edge_count":5120,
	    "hazard_min_radius":100,
	    "hazard_max_radius":1200
	  }
	}`), &boot)
	validate(bootstrapSchema, boot)

	var frame any
	_ = json.Unmarshal([]byte(`{
	  "type":"FRAME",
	  "protocol_version":"1.0",
	  "tick":120,
	  "clock_minutes":600,
	  "day":0,
	  "hazard":{"center_x":10.5,"center_y":-3.25,"radius":350},
	  "counts":{"waiting":40,"evaluating":2,"evacuating":30,"arrived":27,"stranded":1},
	  "cache":{"hits":211,"misses":34,"len":34},
	  "commuters":[
	    {"id":"c-1","x":1.5,"y":2.5,"state":"evacuating","trail":[[1.0,2.0],[1.5,2.5]]},
	    {"id":"c-2","x":0,"y":0,"state":"arrived"}
	  ]
	}`), &frame)
	validate(frameSchema, frame)
}

func TestFrameMsg_MarshalsAgainstSchema(t *testing.T) {
	schema, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "frame.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	frame := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            7,
		ClockMinutes:    35,
		Hazard:          protocol.HazardState{CenterX: 1, CenterY: 2, Radius: 300},
		Counts:          protocol.StateCounts{Waiting: 3},
		Cache:           protocol.CacheCounts{Hits: 1, Misses: 2, Len: 2},
		Commuters: []protocol.CommuterView{
			{ID: "c-1", X: 0, Y: 0, State: "waiting"},
		},
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		t.Fatalf("frame does not satisfy its schema: %v", err)
	}
}

func TestIsKnownCode(t *testing.T) {
	if !protocol.IsKnownCode(protocol.ErrProtoBadRequest) {
		t.Fatalf("known code rejected")
	}
	if protocol.IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code accepted")
	}
}
