// Package snapshot serializes full simulation state for resume and
// offline inspection: a JSON header line followed by a gob body,
// zstd-compressed, written via tmp-file + rename so a crash mid-write
// never clobbers the previous snapshot.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	City    string `json:"city"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed           int64  `json:"seed"`
	GraphDigest    string `json:"graph_digest"`
	MinutesPerTick int    `json:"minutes_per_tick"`

	ClockMinutes int `json:"clock_minutes"`
	Day          int `json:"day"`

	Hazard HazardV1 `json:"hazard"`

	EvacCenters []PointV1    `json:"evac_centers"`
	Commuters   []CommuterV1 `json:"commuters"`

	Counters CountersV1 `json:"counters"`
}

type PointV1 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type HazardV1 struct {
	Center    PointV1 `json:"center"`
	Radius    float64 `json:"radius"`
	MinRadius float64 `json:"min_radius"`
	MaxRadius float64 `json:"max_radius"`
	Step      float64 `json:"step"`
}

type CommuterV1 struct {
	ID              string    `json:"id"`
	Seq             uint64    `json:"seq"`
	Pos             PointV1   `json:"pos"`
	State           string    `json:"state"`
	DeferredMinutes int       `json:"deferred_minutes"`
	DeferralArmed   bool      `json:"deferral_armed"`
	Flagged         bool      `json:"flagged,omitempty"`
	Destination     *PointV1  `json:"destination,omitempty"`
	Route           []PointV1 `json:"route,omitempty"`
	Cursor          int       `json:"cursor"`
	Retries         int       `json:"retries"`
	Trail           []PointV1 `json:"trail,omitempty"`
}

type CountersV1 struct {
	Arrived   int    `json:"arrived"`
	Stranded  int    `json:"stranded"`
	NextSeq   uint64 `json:"next_seq"`
	GrowCount uint64 `json:"grow_count"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeTo(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	writeErr := func() error {
		hb, err := json.Marshal(snap.Header)
		if err != nil {
			return err
		}
		if _, err := bw.Write(hb); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
			return fmt.Errorf("gob encode: %w", err)
		}
		return bw.Flush()
	}()
	if writeErr != nil {
		_ = enc.Close()
		_ = f.Close()
		return writeErr
	}

	// Flush and close errors must fail the write: the caller only
	// renames the tmp file into place on a nil return.
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is advisory; the gob body carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
