package engine

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Evaluator supplies the static score of a position, from the side to move's
// point of view. Results must lie strictly inside the tablebase range; the
// transposition table stores them without checking.
type Evaluator interface {
	Evaluate(key uint64) int
}

// HashEvaluator scores synthetic positions by hashing their key into
// [-Spread, Spread]. It is deterministic, so repeated searches of the same
// tree see the same evaluations.
type HashEvaluator struct {
	Spread int
	Seed   uint64
}

// NewHashEvaluator returns an evaluator with scores within ±600 centipawns.
func NewHashEvaluator() HashEvaluator {
	return HashEvaluator{Spread: 600}
}

func (h HashEvaluator) Evaluate(key uint64) int {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], key)
	binary.LittleEndian.PutUint64(buf[8:], h.Seed)
	span := uint64(2*h.Spread + 1)
	return ClampEval(int(xxhash.Sum64(buf[:])%span) - h.Spread)
}

// EvalEntry stores a cached static evaluation.
type EvalEntry struct {
	Key  uint64
	Eval int16
}

// EvalCache is a direct-mapped cache in front of an Evaluator. Each search
// worker owns one, so it needs no locking.
type EvalCache struct {
	entries []EvalEntry
	mask    uint64
}

// NewEvalCache creates an evaluation cache with the given size in MB.
func NewEvalCache(sizeMB int) *EvalCache {
	// Each entry is 16 bytes after padding
	entrySize := 16
	numEntries := (sizeMB * 1024 * 1024) / entrySize

	// Round down to power of 2
	size := 1
	for size*2 <= numEntries {
		size *= 2
	}

	return &EvalCache{
		entries: make([]EvalEntry, size),
		mask:    uint64(size - 1),
	}
}

// Probe looks up a cached evaluation. Key zero is never cached, since it is
// indistinguishable from an empty slot.
func (c *EvalCache) Probe(key uint64) (int, bool) {
	entry := &c.entries[key&c.mask]
	if key != 0 && entry.Key == key {
		return int(entry.Eval), true
	}
	return 0, false
}

// Store saves an evaluation in the cache.
func (c *EvalCache) Store(key uint64, eval int) {
	entry := &c.entries[key&c.mask]
	entry.Key = key
	entry.Eval = int16(eval)
}

// Clear clears the evaluation cache.
func (c *EvalCache) Clear() {
	clear(c.entries)
}
