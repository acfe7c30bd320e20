package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"cityevac.ai/internal/persistence/snapshot"
	"cityevac.ai/internal/sim/geom"
	"cityevac.ai/internal/sim/hazard"
	"cityevac.ai/internal/sim/roadnet"
	"cityevac.ai/internal/sim/tuning"
	"cityevac.ai/internal/sim/world"
)

// replay loads a snapshot, re-steps the simulation and verifies each
// tick's state digest against the recorded event log. A mismatch means
// the build is no longer deterministic against the recorded run.
func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		roadsPath  = flag.String("roads", "./configs/roads.json", "road segment geometry path")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d city=%s tick=%d seed=%d day=%d clock=%dmin commuters=%d arrived=%d stranded=%d hazard_r=%.1f\n",
		snap.Header.Version, snap.Header.City, snap.Header.Tick, snap.Seed,
		snap.Day, snap.ClockMinutes, len(snap.Commuters),
		snap.Counters.Arrived, snap.Counters.Stranded, snap.Hazard.Radius)

	if *eventsDir == "" {
		return
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if err := tune.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}

	segs, err := roadnet.LoadSegments(*roadsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load roads:", err)
		os.Exit(1)
	}
	router, err := roadnet.NewRouter(roadnet.BuildGraph(segs), tune.InNetworkTolerance)
	if err != nil {
		fmt.Fprintln(os.Stderr, "router:", err)
		os.Exit(1)
	}

	h := tune.Hazard
	field, err := hazard.New(
		geom.Point{X: snap.Hazard.Center.X, Y: snap.Hazard.Center.Y},
		snap.Hazard.Radius, snap.Hazard.MinRadius, snap.Hazard.MaxRadius, snap.Hazard.Step,
		h.ChangePermille,
		hazard.Weights{Shrink: h.ShrinkWeight, Grow: h.GrowWeight, Keep: h.KeepWeight})
	if err != nil {
		fmt.Fprintln(os.Stderr, "hazard:", err)
		os.Exit(1)
	}

	centers := make([]geom.Point, 0, len(snap.EvacCenters))
	for _, p := range snap.EvacCenters {
		centers = append(centers, geom.Point{X: p.X, Y: p.Y})
	}
	w, err := world.New(world.Config{
		City:        snap.Header.City,
		Seed:        snap.Seed,
		Tuning:      tune,
		EvacCenters: centers,
	}, router, field)
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}
	if err := w.ImportSnapshot(snap); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	startTick := w.CurrentTick()
	var checked uint64
	for _, path := range files {
		if err := replayFile(w, path, startTick, *toTick, &checked); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if *toTick != 0 && w.CurrentTick() >= *toTick {
			break
		}
	}
	fmt.Printf("replay ok: checked=%d ticks (from snapshot tick=%d)\n", checked, snap.Header.Tick)
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func replayFile(w *world.World, path string, startTick, toTick uint64, checked *uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		var entry world.TickLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Tick <= startTick {
			continue
		}
		if toTick != 0 && entry.Tick > toTick {
			return nil
		}
		if entry.Tick != w.CurrentTick()+1 {
			return fmt.Errorf("tick gap: world at %d, log entry %d (file=%s)",
				w.CurrentTick(), entry.Tick, filepath.Base(path))
		}

		tick, gotDigest := w.StepOnce()
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)",
				tick, entry.Tick, filepath.Base(path))
		}
		*checked++
		if gotDigest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
		}
	}
	return sc.Err()
}
