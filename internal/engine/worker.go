package engine

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/hailam/ttcache/internal/tt"
)

// maxQPly bounds the depth of the quiescence extension.
const maxQPly = 4

// Worker represents a search worker for parallel Lazy SMP search.
// Each worker has its own state but shares the transposition table.
type Worker struct {
	id int

	// Shared resources
	tt       *tt.Table
	eval     Evaluator
	stopFlag *atomic.Bool

	// Per-worker state
	cache *EvalCache
	nodes atomic.Uint64

	rootMove       tt.Move
	bestMove       tt.Move
	bestScore      int
	completedDepth int

	// Set on the main worker only
	check       func()
	onIteration func(depth, score int)
}

// NewWorker creates a new search worker.
func NewWorker(id int, table *tt.Table, eval Evaluator, stopFlag *atomic.Bool) *Worker {
	return &Worker{
		id:       id,
		tt:       table,
		eval:     eval,
		stopFlag: stopFlag,
		cache:    NewEvalCache(evalCacheMB),
	}
}

// Nodes returns the number of nodes searched by this worker.
func (w *Worker) Nodes() uint64 {
	return w.nodes.Load()
}

// Reset resets the worker for a new search.
func (w *Worker) Reset() {
	w.nodes.Store(0)
	w.rootMove = tt.MoveNone
	w.bestMove = tt.MoveNone
	w.bestScore = -ValueInfinite
	w.completedDepth = 0
	w.check = nil
	w.onIteration = nil
}

// Iterate runs iterative deepening from root until maxDepth or until the
// search is stopped. Helpers start one ply deeper on odd ids so that the
// workers spread over different depths.
func (w *Worker) Iterate(root uint64, maxDepth int) {
	for depth := 1 + w.id&1; depth <= maxDepth; depth++ {
		w.rootMove = tt.MoveNone
		score := w.search(root, depth, 0, -ValueInfinite, ValueInfinite, true)

		// Results of an interrupted iteration are discarded
		if w.stopped() {
			break
		}

		w.completedDepth = depth
		w.bestScore = score
		if w.rootMove != tt.MoveNone {
			w.bestMove = w.rootMove
		}

		if w.onIteration != nil {
			w.onIteration(depth, score)
		}

		// Forced outcome found
		if IsDecisive(score) {
			break
		}
	}

	// Safety fallback: every position has moves
	if w.bestMove == tt.MoveNone {
		w.bestMove = 1
	}
}

func (w *Worker) stopped() bool {
	return w.stopFlag.Load()
}

// visit counts a node and lets the main worker check its limits.
func (w *Worker) visit() {
	if w.nodes.Add(1)&1023 == 0 && w.check != nil {
		w.check()
	}
}

// ChildKey returns the key reached by playing m from key.
func ChildKey(key uint64, m tt.Move) uint64 {
	var buf [10]byte
	binary.LittleEndian.PutUint64(buf[:8], key)
	binary.LittleEndian.PutUint16(buf[8:], uint16(m))
	return xxhash.Sum64(buf[:])
}

// isMated reports whether the side to move has been checkmated.
func isMated(key uint64) bool {
	return key%251 == 0
}

// isTactical reports whether the move leading to key is searched in
// quiescence.
func isTactical(key uint64) bool {
	return key>>61 == 0
}

// ttCutoff reports whether a stored bound proves the value against beta.
func ttCutoff(b tt.Bound, v, beta int) bool {
	if v >= beta {
		return b&tt.BoundLower != 0
	}
	return b&tt.BoundUpper != 0
}

// orderMoves lists all moves with the table move first.
func orderMoves(moves *[Branching]tt.Move, ttMove tt.Move) {
	for i := range moves {
		moves[i] = tt.Move(i + 1)
	}
	if ttMove != tt.MoveNone && int(ttMove) <= Branching {
		moves[0], moves[ttMove-1] = moves[ttMove-1], moves[0]
	}
}

// evaluate returns the cached static evaluation of key.
func (w *Worker) evaluate(key uint64) int {
	if v, ok := w.cache.Probe(key); ok {
		return v
	}
	v := w.eval.Evaluate(key)
	w.cache.Store(key, v)
	return v
}

// search implements negamax with alpha-beta pruning and principal variation
// search.
func (w *Worker) search(key uint64, depth, ply, alpha, beta int, pvNode bool) int {
	if depth <= 0 {
		return w.qsearch(key, ply, 0, alpha, beta, pvNode)
	}

	w.visit()
	if w.stopped() {
		return ValueZero
	}
	if ply > 0 && isMated(key) {
		return MatedIn(ply)
	}
	if ply >= MaxPly-1 {
		return w.evaluate(key)
	}

	// Probe transposition table
	tte, found := w.tt.Probe(key)
	ttValue, ttMove, ttPv := ValueNone, tt.MoveNone, pvNode
	if found {
		ttValue = ValueFromTT(tte.Value(), ply, 0)
		ttMove = tte.Move()
		ttPv = ttPv || tte.IsPV()
	}

	if !pvNode && found && tte.Depth() >= depth && ttValue != ValueNone &&
		ttCutoff(tte.Bound(), ttValue, beta) {
		return ttValue
	}

	// Static evaluation, saved right away so other workers can reuse it
	var staticEval int
	if found && tte.Eval() != ValueNone {
		staticEval = tte.Eval()
	} else {
		staticEval = w.evaluate(key)
		if !found {
			tte.Save(key, ValueNone, ttPv, tt.BoundNone, tt.DepthUnsearched, tt.MoveNone, staticEval, w.tt.Generation())
		}
	}

	var moves [Branching]tt.Move
	orderMoves(&moves, ttMove)

	bestValue, bestMove := -ValueInfinite, tt.MoveNone
	for i, m := range moves {
		child := ChildKey(key, m)

		var score int
		if i == 0 {
			score = -w.search(child, depth-1, ply+1, -beta, -alpha, pvNode)
		} else {
			score = -w.search(child, depth-1, ply+1, -alpha-1, -alpha, false)
			if pvNode && score > alpha && score < beta {
				score = -w.search(child, depth-1, ply+1, -beta, -alpha, true)
			}
		}

		if w.stopped() {
			return ValueZero
		}

		if score > bestValue {
			bestValue = score
			if score > alpha {
				bestMove = m
				if ply == 0 {
					w.rootMove = m
				}
				// Beta cutoff
				if score >= beta {
					break
				}
				alpha = score
			}
		}
	}

	bound := tt.BoundUpper
	switch {
	case bestValue >= beta:
		bound = tt.BoundLower
	case pvNode && bestMove != tt.MoveNone:
		bound = tt.BoundExact
	}
	tte.Save(key, ValueToTT(bestValue, ply), ttPv, bound, depth, bestMove, staticEval, w.tt.Generation())

	return bestValue
}

// qsearch extends the search along tactical moves until the position is quiet.
func (w *Worker) qsearch(key uint64, ply, qply, alpha, beta int, pvNode bool) int {
	w.visit()
	if w.stopped() {
		return ValueZero
	}
	if isMated(key) {
		return MatedIn(ply)
	}
	if ply >= MaxPly-1 {
		return w.evaluate(key)
	}

	tte, found := w.tt.Probe(key)
	ttValue, ttPv := ValueNone, false
	if found {
		ttValue = ValueFromTT(tte.Value(), ply, 0)
		ttPv = tte.IsPV()
	}

	if !pvNode && found && tte.Depth() >= tt.DepthQS && ttValue != ValueNone &&
		ttCutoff(tte.Bound(), ttValue, beta) {
		return ttValue
	}

	staticEval := ValueNone
	if found {
		staticEval = tte.Eval()
	}
	if staticEval == ValueNone {
		staticEval = w.evaluate(key)
	}

	// Stand pat
	bestValue := staticEval
	if bestValue >= beta {
		if !found {
			tte.Save(key, ValueToTT(bestValue, ply), false, tt.BoundLower, tt.DepthUnsearched, tt.MoveNone, staticEval, w.tt.Generation())
		}
		return bestValue
	}
	alpha = max(alpha, bestValue)

	bestMove := tt.MoveNone
	if qply < maxQPly {
		for m := tt.Move(1); m <= Branching; m++ {
			child := ChildKey(key, m)
			if !isTactical(child) {
				continue
			}

			score := -w.qsearch(child, ply+1, qply+1, -beta, -alpha, pvNode)
			if w.stopped() {
				return ValueZero
			}

			if score > bestValue {
				bestValue = score
				if score > alpha {
					bestMove = m
					if score >= beta {
						break
					}
					alpha = score
				}
			}
		}
	}

	bound := tt.BoundUpper
	if bestValue >= beta {
		bound = tt.BoundLower
	}
	tte.Save(key, ValueToTT(bestValue, ply), pvNode || ttPv, bound, tt.DepthQS, bestMove, staticEval, w.tt.Generation())

	return bestValue
}
