// Package engine drives parallel searches over the shared transposition
// table. The game tree is synthetic: a position is known only by its 64-bit
// key, and the children of a key are derived by hashing it with a move number.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/hailam/ttcache/internal/threads"
	"github.com/hailam/ttcache/internal/tt"
)

// SearchInfo contains information about the current search.
type SearchInfo struct {
	Depth    int
	Score    int
	Nodes    uint64
	Time     time.Duration
	PV       []tt.Move
	HashFull int // Permille of hash table used
}

// SearchLimits specifies constraints on the search.
type SearchLimits struct {
	Depth    int           // Maximum depth (0 = no limit)
	Nodes    uint64        // Maximum nodes (0 = no limit)
	MoveTime time.Duration // Time for this move (0 = no limit)
	Infinite bool          // Search until stopped
}

const (
	DefaultHashMB  = 16
	DefaultThreads = 1

	// Branching is the number of moves available in every position.
	Branching = 16

	evalCacheMB = 1
)

// Engine owns the transposition table and the worker pool. Workers share the
// table without locks; everything else they use is private.
//
// Search, Clear, SetHashSize, SetThreads and Close must be called from one
// goroutine at a time. Stop may be called concurrently with Search.
type Engine struct {
	tt        *tt.Table
	pool      *threads.Pool
	workers   []*Worker
	evaluator Evaluator
	stopFlag  atomic.Bool

	// Callbacks
	OnInfo func(SearchInfo)
}

// NewEngine creates an engine with a hashMB megabyte table searched by
// numThreads workers.
func NewEngine(hashMB, numThreads int, opts ...tt.Option) *Engine {
	e := &Engine{
		tt:        tt.New(opts...),
		pool:      threads.NewPool(numThreads),
		evaluator: NewHashEvaluator(),
	}
	e.buildWorkers()
	e.tt.Resize(hashMB, e.pool)
	return e
}

func (e *Engine) buildWorkers() {
	e.workers = make([]*Worker, e.pool.NumThreads())
	for i := range e.workers {
		e.workers[i] = NewWorker(i, e.tt, e.evaluator, &e.stopFlag)
	}
}

// SetEvaluator replaces the evaluation collaborator.
func (e *Engine) SetEvaluator(ev Evaluator) {
	e.evaluator = ev
	e.buildWorkers()
}

// SetHashSize resizes the transposition table, discarding its contents.
func (e *Engine) SetHashSize(mb int) {
	e.tt.Resize(mb, e.pool)
}

// SetThreads changes the number of search workers. The table is cleared so
// that its zeroing is spread over the new workers.
func (e *Engine) SetThreads(n int) {
	e.pool.Set(n)
	e.buildWorkers()
	e.tt.Clear(e.pool)
}

// HashSize returns the table size in megabytes.
func (e *Engine) HashSize() int {
	return e.tt.Megabytes()
}

// Threads returns the number of search workers.
func (e *Engine) Threads() int {
	return e.pool.NumThreads()
}

// HashFull returns the permille of the table used by the current search.
func (e *Engine) HashFull() int {
	return e.tt.HashFull()
}

// Nodes returns the number of nodes visited by all workers in the last search.
func (e *Engine) Nodes() uint64 {
	var n uint64
	for _, w := range e.workers {
		n += w.Nodes()
	}
	return n
}

// Clear clears the transposition table and the evaluation caches.
func (e *Engine) Clear() {
	e.tt.Clear(e.pool)
	for _, w := range e.workers {
		w.cache.Clear()
	}
}

// Stop stops the current search.
func (e *Engine) Stop() {
	e.stopFlag.Store(true)
}

// Close stops the workers and releases the table memory.
func (e *Engine) Close() {
	e.pool.Close()
	e.tt.Close()
}

// Search runs a Lazy SMP search from root: every worker iterates over the
// same tree and they cooperate only through the transposition table. The main
// worker enforces the limits and reports progress through OnInfo.
func (e *Engine) Search(root uint64, limits SearchLimits) tt.Move {
	e.stopFlag.Store(false)
	return e.search(root, limits)
}

// SearchAsync starts a search in the background and delivers the best move
// on the returned channel. A Stop issued after SearchAsync returns always
// ends the search.
func (e *Engine) SearchAsync(root uint64, limits SearchLimits) <-chan tt.Move {
	e.stopFlag.Store(false)
	result := make(chan tt.Move, 1)
	go func() {
		result <- e.search(root, limits)
	}()
	return result
}

func (e *Engine) search(root uint64, limits SearchLimits) tt.Move {
	e.tt.NewSearch()
	for _, w := range e.workers {
		w.Reset()
	}

	maxDepth := MaxPly - 1
	if limits.Depth > 0 {
		maxDepth = min(limits.Depth, MaxPly-1)
	}

	startTime := time.Now()
	main := e.workers[0]
	main.check = func() {
		if limits.Infinite {
			return
		}
		if limits.MoveTime > 0 && time.Since(startTime) >= limits.MoveTime {
			e.stopFlag.Store(true)
		}
		if limits.Nodes > 0 && e.Nodes() >= limits.Nodes {
			e.stopFlag.Store(true)
		}
	}
	main.onIteration = func(depth, score int) {
		elapsed := time.Since(startTime)
		if e.OnInfo != nil {
			e.OnInfo(SearchInfo{
				Depth:    depth,
				Score:    score,
				Nodes:    e.Nodes(),
				Time:     elapsed,
				PV:       e.PV(root, depth),
				HashFull: e.tt.HashFull(),
			})
		}

		// If we've used more than half the time, don't start another iteration
		if !limits.Infinite && limits.MoveTime > 0 && limits.MoveTime-elapsed < elapsed {
			e.stopFlag.Store(true)
		}
	}

	e.pool.RunOnAll(func(i int) {
		e.workers[i].Iterate(root, maxDepth)
		if i == 0 {
			e.stopFlag.Store(true)
		}
	})
	e.pool.WaitAll()

	return e.bestWorker().bestMove
}

// bestWorker picks the deepest completed result, preferring the main worker.
func (e *Engine) bestWorker() *Worker {
	best := e.workers[0]
	for _, w := range e.workers[1:] {
		if w.completedDepth > best.completedDepth && w.bestMove != tt.MoveNone {
			best = w
		}
	}
	return best
}

// PV follows best moves stored in the table from root, up to maxLen moves.
func (e *Engine) PV(root uint64, maxLen int) []tt.Move {
	var pv []tt.Move
	key := root
	for len(pv) < maxLen {
		tte, found := e.tt.Probe(key)
		if !found {
			break
		}
		m := tte.Move()
		if m == tt.MoveNone || int(m) > Branching {
			break
		}
		pv = append(pv, m)
		key = ChildKey(key, m)
	}
	return pv
}
