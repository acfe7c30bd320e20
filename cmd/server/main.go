package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistlog "cityevac.ai/internal/persistence/log"
	"cityevac.ai/internal/persistence/pathdb"
	"cityevac.ai/internal/persistence/snapshot"
	"cityevac.ai/internal/sim/demand"
	"cityevac.ai/internal/sim/geom"
	"cityevac.ai/internal/sim/hazard"
	"cityevac.ai/internal/sim/roadnet"
	"cityevac.ai/internal/sim/tuning"
	"cityevac.ai/internal/sim/world"
	"cityevac.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		city       = flag.String("city", "city_1", "city id (scopes the path cache and data dir)")
		seed       = flag.Int64("seed", 1337, "simulation seed (used only when starting a fresh session)")
		roadsPath  = flag.String("roads", "./configs/roads.json", "road segment geometry path")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")

		hazardX = flag.Float64("hazard_x", 0, "hazard center x coordinate")
		hazardY = flag.Float64("hazard_y", 0, "hazard center y coordinate")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cityDir := filepath.Join(*dataDir, "cities", *city)
	_ = os.MkdirAll(cityDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	segs, err := roadnet.LoadSegments(*roadsPath)
	if err != nil {
		logger.Fatalf("load roads: %v", err)
	}
	g := roadnet.BuildGraph(segs)
	logger.Printf("road graph: %d vertices, %d edges, digest=%s",
		g.VertexCount(), g.EdgeCount(), g.Digest()[:12])

	router, err := roadnet.NewRouter(g, tune.InNetworkTolerance)
	if err != nil {
		logger.Fatalf("router: %v", err)
	}

	// Durable path cache. A broken cache db degrades to cold-start route
	// computation; it must never take the session down.
	store, err := pathdb.Open(filepath.Join(cityDir, "paths.db"), *city, g.Digest())
	if err != nil {
		logger.Printf("path cache unavailable, routes will be recomputed: %v", err)
	} else {
		defer store.Close()
		entries, err := store.LoadAll()
		if err != nil {
			logger.Printf("path cache load: %v", err)
		} else {
			router.Preload(entries)
			logger.Printf("path cache: preloaded %d routes", len(entries))
		}
		router.SetStore(store)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(cityDir)
	}

	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		w, err = resumeWorld(snap, *city, tune, router)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	} else {
		w, err = freshWorld(*city, *seed, tune, router, geom.Point{X: *hazardX, Y: *hazardY}, logger)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(cityDir)
	defer tickLog.Close()
	w.SetTickLogger(tickLog)

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(cityDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	obsSrv := observer.NewServer(w, logger)
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// freshWorld builds a new session: hazard field from tuning, evac
// centers and commuter population generated from the graph and seed.
func freshWorld(city string, seed int64, tune tuning.Tuning, router *roadnet.Router, hazardCenter geom.Point, logger *log.Logger) (*world.World, error) {
	h := tune.Hazard
	field, err := hazard.New(hazardCenter,
		h.InitialRadius, h.MinRadius, h.MaxRadius, h.Step,
		h.ChangePermille,
		hazard.Weights{Shrink: h.ShrinkWeight, Grow: h.GrowWeight, Keep: h.KeepWeight})
	if err != nil {
		return nil, fmt.Errorf("hazard: %w", err)
	}

	centers, err := demand.EvacCenters(router.Graph(), tune.EvacCenters, hazardCenter)
	if err != nil {
		return nil, err
	}

	w, err := world.New(world.Config{
		City:        city,
		Seed:        seed,
		Tuning:      tune,
		EvacCenters: centers,
	}, router, field)
	if err != nil {
		return nil, err
	}

	spawns, err := demand.Generate(router.Graph(), tune.NumCommuters, seed)
	if err != nil {
		return nil, err
	}
	for _, sp := range spawns {
		if _, err := w.AddCommuter(sp.ID, sp.Origin); err != nil {
			return nil, err
		}
	}
	logger.Printf("fresh session: %d commuters, %d evac centers, hazard at (%.1f, %.1f) r=%.1f",
		len(spawns), len(centers), hazardCenter.X, hazardCenter.Y, h.InitialRadius)
	return w, nil
}

// resumeWorld rebuilds a session from a snapshot: hazard field and evac
// centers come from the snapshot so the resumed run continues the same
// trajectory.
func resumeWorld(snap snapshot.SnapshotV1, city string, tune tuning.Tuning, router *roadnet.Router) (*world.World, error) {
	h := tune.Hazard
	field, err := hazard.New(
		geom.Point{X: snap.Hazard.Center.X, Y: snap.Hazard.Center.Y},
		snap.Hazard.Radius, snap.Hazard.MinRadius, snap.Hazard.MaxRadius, snap.Hazard.Step,
		h.ChangePermille,
		hazard.Weights{Shrink: h.ShrinkWeight, Grow: h.GrowWeight, Keep: h.KeepWeight})
	if err != nil {
		return nil, fmt.Errorf("hazard: %w", err)
	}

	centers := make([]geom.Point, 0, len(snap.EvacCenters))
	for _, p := range snap.EvacCenters {
		centers = append(centers, geom.Point{X: p.X, Y: p.Y})
	}

	w, err := world.New(world.Config{
		City:        city,
		Seed:        snap.Seed,
		Tuning:      tune,
		EvacCenters: centers,
	}, router, field)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, err
	}
	return w, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(cityDir string) string {
	dir := filepath.Join(cityDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
