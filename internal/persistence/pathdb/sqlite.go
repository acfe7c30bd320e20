// Package pathdb is the durable path cache: computed routes keyed by
// vertex ids, scoped to one city and one road-graph digest, stored in
// SQLite. Writes go through a single writer goroutine so the world
// loop never blocks on I/O; WAL journaling keeps committed entries
// intact across a crash mid-write.
package pathdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"cityevac.ai/internal/sim/geom"
	"cityevac.ai/internal/sim/roadnet"
)

type Store struct {
	db *sql.DB

	city        string
	graphDigest string

	ch   chan row
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type row struct {
	key   roadnet.CacheKey
	route []byte
}

func Open(path, city, graphDigest string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if city == "" {
		return nil, fmt.Errorf("empty city id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// A cache is only valid for the graph it was computed against.
	// Rows from an older graph build are dead weight: drop them now.
	if _, err := db.Exec(
		`DELETE FROM routes WHERE city = ? AND graph_digest <> ?;`,
		city, graphDigest,
	); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:          db,
		city:        city,
		graphDigest: graphDigest,
		ch:          make(chan row, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS routes (
		city TEXT NOT NULL,
		graph_digest TEXT NOT NULL,
		o INTEGER NOT NULL,
		d INTEGER NOT NULL,
		hazard_vertex INTEGER NOT NULL,
		route_json TEXT NOT NULL,
		PRIMARY KEY (city, o, d, hazard_vertex)
	);`)
	return err
}

// LoadAll returns every cached route for this city and graph digest.
// Rows that fail to decode are skipped, not fatal.
func (s *Store) LoadAll() (map[roadnet.CacheKey]roadnet.Route, error) {
	rows, err := s.db.Query(
		`SELECT o, d, hazard_vertex, route_json FROM routes WHERE city = ? AND graph_digest = ?;`,
		s.city, s.graphDigest,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[roadnet.CacheKey]roadnet.Route)
	for rows.Next() {
		var o, d, hv int32
		var raw string
		if err := rows.Scan(&o, &d, &hv, &raw); err != nil {
			return nil, err
		}
		var pts []geom.Point
		if err := json.Unmarshal([]byte(raw), &pts); err != nil {
			continue
		}
		out[roadnet.CacheKey{O: o, D: d, HazardVertex: hv}] = roadnet.Route(pts)
	}
	return out, rows.Err()
}

// Put hands one committed cache entry to the writer goroutine. It
// implements roadnet.CacheStore and never blocks: if the buffer is
// full the entry is dropped (it can be recomputed; counted for the
// tick log).
func (s *Store) Put(key roadnet.CacheKey, route roadnet.Route) {
	if s.closed.Load() {
		return
	}
	raw, err := json.Marshal([]geom.Point(route))
	if err != nil {
		return
	}
	select {
	case s.ch <- row{key: key, route: raw}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports entries discarded because the write buffer was full.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

func (s *Store) loop() {
	for r := range s.ch {
		_, _ = s.db.Exec(
			`INSERT OR REPLACE INTO routes (city, graph_digest, o, d, hazard_vertex, route_json)
			 VALUES (?, ?, ?, ?, ?, ?);`,
			s.city, s.graphDigest, r.key.O, r.key.D, r.key.HazardVertex, string(r.route),
		)
	}
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
