package engine

import (
	"time"
)

// DefaultBenchDepth is the search depth used when bench gets no depth.
const DefaultBenchDepth = 6

// StartKey is the synthetic root selected by "position startpos".
const StartKey uint64 = 0x463B96181691FC9C

// benchRoots are the synthetic positions searched by Bench.
var benchRoots = []uint64{
	StartKey,
	0x9D39247E33776D41,
	0x2AF7398005AAA5C7,
	0x44DB015024623547,
	0x9C15F73E62A76AE2,
	0x75834465489C0C89,
	0x3290AC3A203001BF,
	0xE83A908FF2FB60CA,
}

// BenchResult summarizes a benchmark run.
type BenchResult struct {
	Nodes    uint64
	Time     time.Duration
	HashFull int // Highest permille seen after a root
}

// NPS returns nodes per second.
func (r BenchResult) NPS() uint64 {
	ms := r.Time.Milliseconds()
	if ms <= 0 {
		return r.Nodes * 1000
	}
	return r.Nodes * 1000 / uint64(ms)
}

// Bench clears the engine and searches every bench root to depth. The table
// is kept between roots, as a game would.
func (e *Engine) Bench(depth int) BenchResult {
	if depth <= 0 {
		depth = DefaultBenchDepth
	}

	e.Clear()

	var res BenchResult
	start := time.Now()
	for _, root := range benchRoots {
		e.Search(root, SearchLimits{Depth: depth})
		res.Nodes += e.Nodes()
		res.HashFull = max(res.HashFull, e.HashFull())
	}
	res.Time = time.Since(start)
	return res
}
