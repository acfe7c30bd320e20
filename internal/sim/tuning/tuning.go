// Package tuning loads the simulation parameters from tuning.yaml.
// Validation failures here are deployment errors and abort startup.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	MinutesPerTick int `yaml:"minutes_per_tick"`
	TickBudget     int `yaml:"tick_budget"`
	NumCommuters   int `yaml:"num_commuters"`

	// InNetworkTolerance is the maximum distance between a query
	// position and its nearest road vertex for the position to count
	// as on the network.
	InNetworkTolerance float64 `yaml:"in_network_tolerance"`

	EvacCenters int `yaml:"evac_centers"`

	Hazard Hazard `yaml:"hazard"`

	// Decision is the deferred-evacuation distribution sampled once
	// per commuter at creation.
	Decision Decision `yaml:"decision"`

	// MaxRouteRetries bounds destination reselection when no route can
	// be found before a commuter gives up.
	MaxRouteRetries int `yaml:"max_route_retries"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	TrailCap           int `yaml:"trail_cap"`
}

type Hazard struct {
	InitialRadius   float64 `yaml:"initial_radius"`
	MinRadius       float64 `yaml:"min_radius"`
	MaxRadius       float64 `yaml:"max_radius"`
	Step            float64 `yaml:"step"`
	ChangePermille  int     `yaml:"change_permille"`
	CheckEveryTicks int     `yaml:"check_every_ticks"`

	ShrinkWeight int `yaml:"shrink_weight"`
	GrowWeight   int `yaml:"grow_weight"`
	KeepWeight   int `yaml:"keep_weight"`
}

// Decision holds the per-commuter deferral table. Permille values are
// population shares; the remainder up to 1000 never self-triggers
// without a grow notification.
type Decision struct {
	ShortMinutes      int `yaml:"short_minutes"`
	ShortPermille     int `yaml:"short_permille"`
	LongMinutes       int `yaml:"long_minutes"`
	LongPermille      int `yaml:"long_permille"`
	ImmediateMinutes  int `yaml:"immediate_minutes"`
	ImmediatePermille int `yaml:"immediate_permille"`
}

func Defaults() Tuning {
	return Tuning{
		MinutesPerTick:     5,
		TickBudget:         2000,
		NumCommuters:       100,
		InNetworkTolerance: 100,
		EvacCenters:        3,
		Hazard: Hazard{
			InitialRadius:   300,
			MinRadius:       100,
			MaxRadius:       1200,
			Step:            50,
			ChangePermille:  400,
			CheckEveryTicks: 4,
			ShrinkWeight:    3,
			GrowWeight:      4,
			KeepWeight:      3,
		},
		Decision: Decision{
			ShortMinutes:      30,
			ShortPermille:     300,
			LongMinutes:       60,
			LongPermille:      220,
			ImmediateMinutes:  5,
			ImmediatePermille: 110,
		},
		MaxRouteRetries:    5,
		SnapshotEveryTicks: 500,
		TrailCap:           256,
	}
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate rejects configurations that indicate a broken deployment.
func (t Tuning) Validate() error {
	if t.MinutesPerTick <= 0 {
		return fmt.Errorf("minutes_per_tick must be positive, got %d", t.MinutesPerTick)
	}
	if t.TickBudget <= 0 {
		return fmt.Errorf("tick_budget must be positive, got %d", t.TickBudget)
	}
	if t.NumCommuters < 0 {
		return fmt.Errorf("num_commuters must not be negative, got %d", t.NumCommuters)
	}
	if t.InNetworkTolerance <= 0 {
		return fmt.Errorf("in_network_tolerance must be positive, got %v", t.InNetworkTolerance)
	}
	if t.EvacCenters <= 0 {
		return fmt.Errorf("evac_centers must be positive, got %d", t.EvacCenters)
	}
	h := t.Hazard
	if h.MinRadius > h.MaxRadius {
		return fmt.Errorf("hazard radius bounds inverted: [%v, %v]", h.MinRadius, h.MaxRadius)
	}
	if h.InitialRadius < h.MinRadius || h.InitialRadius > h.MaxRadius {
		return fmt.Errorf("hazard initial_radius %v outside [%v, %v]", h.InitialRadius, h.MinRadius, h.MaxRadius)
	}
	if h.CheckEveryTicks <= 0 {
		return fmt.Errorf("hazard check_every_ticks must be positive, got %d", h.CheckEveryTicks)
	}
	if h.ChangePermille < 0 || h.ChangePermille > 1000 {
		return fmt.Errorf("hazard change_permille %d outside 0..1000", h.ChangePermille)
	}
	if h.ShrinkWeight < 0 || h.GrowWeight < 0 || h.KeepWeight < 0 {
		return fmt.Errorf("hazard outcome weights must not be negative")
	}
	d := t.Decision
	if d.ShortPermille < 0 || d.LongPermille < 0 || d.ImmediatePermille < 0 {
		return fmt.Errorf("decision permille shares must not be negative")
	}
	if d.ShortPermille+d.LongPermille+d.ImmediatePermille > 1000 {
		return fmt.Errorf("decision permille shares sum to %d, must not exceed 1000",
			d.ShortPermille+d.LongPermille+d.ImmediatePermille)
	}
	if t.MaxRouteRetries < 0 {
		return fmt.Errorf("max_route_retries must not be negative, got %d", t.MaxRouteRetries)
	}
	return nil
}
