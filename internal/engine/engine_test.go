package engine

import (
	"testing"

	"github.com/hailam/ttcache/internal/tt"
)

func newTestEngine(t *testing.T, hashMB, threads int) *Engine {
	t.Helper()
	eng := NewEngine(hashMB, threads)
	t.Cleanup(eng.Close)
	return eng
}

func validMove(m tt.Move) bool {
	return m >= 1 && int(m) <= Branching
}

func TestSearchBasic(t *testing.T) {
	eng := newTestEngine(t, 16, 1)

	var infos []SearchInfo
	eng.OnInfo = func(info SearchInfo) {
		infos = append(infos, info)
	}

	move := eng.Search(StartKey, SearchLimits{Depth: 5})
	if !validMove(move) {
		t.Fatalf("Search returned invalid move %d", move)
	}
	if eng.Nodes() == 0 {
		t.Error("Expected nodes to be counted")
	}

	if len(infos) == 0 {
		t.Fatal("Expected at least one info callback")
	}
	for i := 1; i < len(infos); i++ {
		if infos[i].Depth != infos[i-1].Depth+1 {
			t.Errorf("Info depths not consecutive: %d after %d", infos[i].Depth, infos[i-1].Depth)
		}
	}

	last := infos[len(infos)-1]
	if len(last.PV) == 0 {
		t.Fatal("Expected a principal variation")
	}
	if last.PV[0] != move {
		t.Errorf("PV starts with %d, best move is %d", last.PV[0], move)
	}
	t.Logf("Best move: %d score %s nodes %d", move, ScoreToString(last.Score), last.Nodes)
}

func TestSearchReusesTable(t *testing.T) {
	eng := newTestEngine(t, 16, 1)

	first := eng.Search(StartKey, SearchLimits{Depth: 6})
	firstNodes := eng.Nodes()

	second := eng.Search(StartKey, SearchLimits{Depth: 6})
	secondNodes := eng.Nodes()

	if !validMove(first) || !validMove(second) {
		t.Fatalf("Invalid moves %d, %d", first, second)
	}
	if secondNodes >= firstNodes {
		t.Errorf("Second search should benefit from the table: %d nodes, first %d", secondNodes, firstNodes)
	}
	t.Logf("Nodes: first %d, second %d", firstNodes, secondNodes)
}

func TestSearchFillsTable(t *testing.T) {
	eng := newTestEngine(t, 1, 1)

	if eng.HashFull() != 0 {
		t.Fatalf("Fresh table reports hashfull %d", eng.HashFull())
	}

	eng.Search(StartKey, SearchLimits{Depth: 6})
	if eng.HashFull() == 0 {
		t.Error("Expected hashfull > 0 after search")
	}

	eng.Clear()
	if eng.HashFull() != 0 {
		t.Errorf("Expected hashfull 0 after clear, got %d", eng.HashFull())
	}
}

func TestSearchNodeLimit(t *testing.T) {
	eng := newTestEngine(t, 16, 1)

	move := eng.Search(StartKey, SearchLimits{Nodes: 5000})
	if !validMove(move) {
		t.Fatalf("Search returned invalid move %d", move)
	}

	nodes := eng.Nodes()
	if nodes < 5000 || nodes > 5000+2048 {
		t.Errorf("Node limit not respected: %d nodes", nodes)
	}
}

type flatEvaluator int

func (f flatEvaluator) Evaluate(uint64) int { return int(f) }

func TestSetEvaluator(t *testing.T) {
	eng := newTestEngine(t, 1, 1)
	eng.SetEvaluator(flatEvaluator(37))

	var last SearchInfo
	eng.OnInfo = func(info SearchInfo) { last = info }

	if move := eng.Search(StartKey, SearchLimits{Depth: 3}); !validMove(move) {
		t.Fatalf("Search returned invalid move %d", move)
	}

	// Every leaf scores the same unless a mate is found
	if !IsDecisive(last.Score) && last.Score != 37 && last.Score != -37 {
		t.Errorf("Unexpected score %d with a flat evaluator", last.Score)
	}
}

func TestBench(t *testing.T) {
	eng := newTestEngine(t, 4, 1)

	res := eng.Bench(4)
	if res.Nodes == 0 {
		t.Error("Bench counted no nodes")
	}
	if res.HashFull == 0 {
		t.Error("Bench left the table empty")
	}
	t.Logf("Bench: %d nodes %d nps hashfull %d", res.Nodes, res.NPS(), res.HashFull)
}

func TestValueTT(t *testing.T) {
	testCases := []struct {
		name  string
		value int
		ply   int
	}{
		{"zero", 0, 7},
		{"positive", 250, 3},
		{"negative", -180, 12},
		{"mate", MateIn(11), 4},
		{"mated", MatedIn(9), 6},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stored := ValueToTT(tc.value, tc.ply)
			if got := ValueFromTT(stored, tc.ply, 0); got != tc.value {
				t.Errorf("Round trip of %d at ply %d gave %d", tc.value, tc.ply, got)
			}
		})
	}

	// Mate distances are stored relative to the node
	if got := ValueToTT(MateIn(10), 4); got != MateIn(6) {
		t.Errorf("ValueToTT(MateIn(10), 4) = %d, want %d", got, MateIn(6))
	}
	if got := ValueToTT(MatedIn(10), 4); got != MatedIn(6) {
		t.Errorf("ValueToTT(MatedIn(10), 4) = %d, want %d", got, MatedIn(6))
	}

	if got := ValueFromTT(ValueNone, 5, 0); got != ValueNone {
		t.Errorf("ValueNone should pass through, got %d", got)
	}

	// A mate that cannot be delivered before the fifty-move rule is downgraded
	if got := ValueFromTT(MateIn(30), 2, 80); got != ValueTBWinInMaxPly-1 {
		t.Errorf("Expected downgraded win, got %d", got)
	}
	if got := ValueFromTT(MatedIn(30), 2, 80); got != ValueTBLossInMaxPly+1 {
		t.Errorf("Expected downgraded loss, got %d", got)
	}
}

func TestHashEvaluator(t *testing.T) {
	ev := NewHashEvaluator()

	for key := uint64(0); key < 10000; key++ {
		v := ev.Evaluate(key * 0x9E3779B97F4A7C15)
		if v < -ev.Spread || v > ev.Spread {
			t.Fatalf("Evaluation %d out of range", v)
		}
		if IsDecisive(v) {
			t.Fatalf("Evaluation %d is decisive", v)
		}
	}

	if ev.Evaluate(42) != ev.Evaluate(42) {
		t.Error("Evaluation is not deterministic")
	}

	if got := ClampEval(ValueMate); got != ValueTBWinInMaxPly-1 {
		t.Errorf("ClampEval(ValueMate) = %d", got)
	}
	if got := ClampEval(-ValueMate); got != ValueTBLossInMaxPly+1 {
		t.Errorf("ClampEval(-ValueMate) = %d", got)
	}
}

func TestEvalCache(t *testing.T) {
	c := NewEvalCache(1) // 1MB

	key := uint64(0x1234567890ABCDEF)
	if _, found := c.Probe(key); found {
		t.Error("Expected cache miss on first probe")
	}

	c.Store(key, -37)
	v, found := c.Probe(key)
	if !found || v != -37 {
		t.Errorf("Expected hit with -37, got %d (found %v)", v, found)
	}

	c.Store(0, 12)
	if _, found := c.Probe(0); found {
		t.Error("Key zero must never hit")
	}

	c.Clear()
	if _, found := c.Probe(key); found {
		t.Error("Expected miss after clear")
	}
}

func TestScoreToString(t *testing.T) {
	testCases := map[int]string{
		0:          "0.00",
		105:        "1.05",
		-230:       "-2.30",
		MateIn(5):  "Mate in 3",
		MatedIn(4): "Mated in 2",
	}
	for score, want := range testCases {
		if got := ScoreToString(score); got != want {
			t.Errorf("ScoreToString(%d) = %q, want %q", score, got, want)
		}
	}
}

func TestChildKey(t *testing.T) {
	seen := make(map[uint64]bool)
	for m := tt.Move(1); m <= Branching; m++ {
		k := ChildKey(StartKey, m)
		if k != ChildKey(StartKey, m) {
			t.Fatal("ChildKey is not deterministic")
		}
		if seen[k] {
			t.Fatalf("Duplicate child key for move %d", m)
		}
		seen[k] = true
	}
}
