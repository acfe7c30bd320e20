package world

// Deterministic randomness: every draw is a splitmix-style hash of the
// world seed and the caller's coordinates (tick, commuter sequence).
// No math/rand and no shared stream, so two worlds with the same seed
// and action history produce identical draws in any evaluation order.

const (
	saltHazard      = 0xFA2E
	saltDeferral    = 0xD1CE
	saltDestination = 0xDE57
)

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (w *World) roll(n uint64, salt uint64) uint64 {
	v := uint64(w.cfg.Seed) ^ (n * 0x9e3779b97f4a7c15) ^ (salt * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
