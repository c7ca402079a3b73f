package cache

import (
	"os"
	"time"
)

const (
	fingerprintSeed       uint64 = 17
	fingerprintMultiplier uint64 = 23
)

// Fingerprint returns a cheap identity value for the file at path, derived from its
// size and last write time. Missing, unreadable paths and directories yield 0.
//
// Two files with the same size and modification time are indistinguishable.
func Fingerprint(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return fingerprintOf(info.Size(), info.ModTime())
}

// fingerprintOf relies on uint64 wraparound, so it is defined for every input.
func fingerprintOf(size int64, mod time.Time) uint64 {
	// 100ns ticks since the unix epoch
	ticks := uint64(mod.Unix())*1e7 + uint64(mod.Nanosecond()/100)

	h := fingerprintSeed
	h = h*fingerprintMultiplier + uint64(size)
	h = h*fingerprintMultiplier + ticks
	return h
}
