package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// stateDigest fingerprints the full mutable world state at a tick.
// Two runs with the same seed and inputs must produce the same digest
// sequence; the determinism tests and the tick log rely on it.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	writeF64 := func(v float64) { writeU64(math.Float64bits(v)) }

	writeU64(nowTick)
	writeU64(uint64(w.clockMinutes))
	writeU64(uint64(w.day))
	writeF64(w.field.Radius)
	writeU64(uint64(w.arrived))
	writeU64(uint64(w.stranded))
	writeU64(w.growCount)

	for _, c := range w.sortedCommuters() {
		writeU64(c.Seq)
		writeU64(uint64(c.State))
		writeF64(c.Pos.X)
		writeF64(c.Pos.Y)
		writeU64(uint64(len(c.Route)))
		writeU64(uint64(c.Cursor))
		writeU64(uint64(c.Retries))
		writeU64(uint64(c.DeferredMinutes))
		if c.DeferralArmed {
			writeU64(1)
		} else {
			writeU64(0)
		}
		if c.Flagged {
			writeU64(1)
		} else {
			writeU64(0)
		}
		if c.Destination != nil {
			writeF64(c.Destination.X)
			writeF64(c.Destination.Y)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
