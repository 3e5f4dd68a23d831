package tt

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"

	"github.com/hailam/ttcache/internal/threads"
	"github.com/stretchr/testify/require"
)

// recordingPool runs every task inline and remembers which workers were used.
type recordingPool struct {
	n      int
	ran    []int
	waited []int
}

func (p *recordingPool) NumThreads() int { return p.n }

func (p *recordingPool) RunOnThread(i int, fn func()) {
	p.ran = append(p.ran, i)
	fn()
}

func (p *recordingPool) WaitOnThread(i int) {
	p.waited = append(p.waited, i)
}

// countingAllocator wraps HeapAllocator and tracks live allocations.
type countingAllocator struct {
	HeapAllocator
	allocs, frees int
	fail          bool
}

func (a *countingAllocator) Alloc(n int) ([]Cluster, error) {
	if a.fail {
		return nil, errors.New("out of memory")
	}
	a.allocs++
	return a.HeapAllocator.Alloc(n)
}

func (a *countingAllocator) Free(c []Cluster) {
	a.frees++
	a.HeapAllocator.Free(c)
}

func newTestTable(t *testing.T, mb int, opts ...Option) *Table {
	t.Helper()
	tbl := New(opts...)
	tbl.Resize(mb, &recordingPool{n: 1})
	t.Cleanup(tbl.Close)
	return tbl
}

// keyForCluster returns a key that maps to cluster i of a 1 MB table
// (2^15 clusters) and whose low 16 bits are low.
func keyForCluster(i int, low uint16) uint64 {
	return uint64(i)<<49 | uint64(low)
}

func uintptrOf(e *Entry) uintptr {
	return uintptr(unsafe.Pointer(e))
}

func requireZero(t *testing.T, tbl *Table) {
	t.Helper()
	for i := range tbl.table {
		if tbl.table[i] != (Cluster{}) {
			t.Fatalf("cluster %d not zero: %+v", i, tbl.table[i])
		}
	}
}

func TestResize(t *testing.T) {
	tbl := newTestTable(t, 1)

	require.EqualValues(t, 1024*1024/32, tbl.ClusterCount())
	require.Len(t, tbl.table, 1024*1024/32)
	require.Equal(t, 1, tbl.Megabytes())
	require.Zero(t, tbl.HashFull())
	requireZero(t, tbl)

	key := uint64(0x9E3779B97F4A7C15)
	e, found := tbl.Probe(key)
	require.False(t, found)
	e.Save(key, 42, false, BoundExact, 7, Move(3), 11, tbl.Generation())

	e, found = tbl.Probe(key)
	require.True(t, found)
	require.Equal(t, 42, e.Value())
	require.Equal(t, 11, e.Eval())
	require.Equal(t, 7, e.Depth())
	require.Equal(t, BoundExact, e.Bound())
	require.Equal(t, Move(3), e.Move())
	require.False(t, e.IsPV())
}

func TestResizeReleasesPrevious(t *testing.T) {
	alloc := &countingAllocator{}
	tbl := New(WithAllocator(alloc))
	pool := &recordingPool{n: 2}

	tbl.Resize(1, pool)
	require.Equal(t, 1, alloc.allocs)
	require.Zero(t, alloc.frees)

	e, _ := tbl.Probe(12345)
	e.Save(12345, 1, false, BoundExact, 4, MoveNone, 0, tbl.Generation())

	tbl.Resize(2, pool)
	require.Equal(t, 2, alloc.allocs)
	require.Equal(t, 1, alloc.frees)
	require.EqualValues(t, 2*1024*1024/32, tbl.ClusterCount())
	requireZero(t, tbl)

	tbl.Close()
	require.Equal(t, 2, alloc.frees)
	require.Zero(t, tbl.ClusterCount())
	require.Zero(t, tbl.HashFull())
}

func TestResizeAllocationFailure(t *testing.T) {
	var msg string
	fatalf := func(format string, args ...any) {
		msg = fmt.Sprintf(format, args...)
	}

	tbl := New(WithAllocator(&countingAllocator{fail: true}), WithFatalHandler(fatalf))
	tbl.Resize(64, &recordingPool{n: 1})

	require.Contains(t, msg, "Failed to allocate 64MB")
	require.Contains(t, msg, "64 MiB")
	require.Contains(t, msg, "out of memory")
	require.Zero(t, tbl.ClusterCount())

	msg = ""
	tbl = New(WithFatalHandler(fatalf))
	tbl.Resize(0, &recordingPool{n: 1})
	require.Contains(t, msg, "Failed to allocate 0MB")
}

func TestFirstEntryDeterministic(t *testing.T) {
	tbl := newTestTable(t, 1)

	for _, key := range []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x0123456789ABCDEF} {
		require.Same(t, tbl.FirstEntry(key), tbl.FirstEntry(key))
	}

	// Keys differing only in their low bits share a cluster.
	require.Same(t, tbl.FirstEntry(keyForCluster(9, 1)), tbl.FirstEntry(keyForCluster(9, 2)))
	require.Same(t, &tbl.table[9].entry[0], tbl.FirstEntry(keyForCluster(9, 1)))
	require.Same(t, &tbl.table[len(tbl.table)-1].entry[0], tbl.FirstEntry(0xFFFFFFFFFFFFFFFF))
}

func TestFirstEntryUniform(t *testing.T) {
	tbl := newTestTable(t, 1)

	// Sequential keys multiplied by an odd constant behave like Zobrist keys.
	const samples = 1 << 20
	counts := make([]int, tbl.ClusterCount())
	base := &tbl.table[0].entry[0]
	for i := uint64(0); i < samples; i++ {
		e := tbl.FirstEntry(i * 0x9E3779B97F4A7C15)
		idx := (uintptrOf(e) - uintptrOf(base)) / uintptr(clusterBytes)
		counts[idx]++
	}

	mean := samples / len(counts)
	for i, c := range counts {
		require.InDelta(t, mean, c, float64(mean), "cluster %d", i)
	}
}

func TestProbeZeroDepthMatch(t *testing.T) {
	tbl := newTestTable(t, 1)
	key := keyForCluster(5, 0x77)

	// A stored depth equal to DepthEntryOffset encodes as zero and is
	// indistinguishable from an empty slot.
	e, found := tbl.Probe(key)
	require.False(t, found)
	e.Save(key, 9, false, BoundExact, DepthEntryOffset, Move(1), 0, tbl.Generation())

	got, found := tbl.Probe(key)
	require.False(t, found)
	require.Same(t, e, got)
	require.Equal(t, 9, got.Value())
}

func TestProbeReplacement(t *testing.T) {
	tbl := newTestTable(t, 1)
	pool := &recordingPool{n: 1}

	t.Run("empty cluster picks first entry", func(t *testing.T) {
		key := keyForCluster(3, 0x10)
		e, found := tbl.Probe(key)
		require.False(t, found)
		require.Same(t, tbl.FirstEntry(key), e)
	})

	t.Run("shallowest entry", func(t *testing.T) {
		depths := []int{10, 5, 20}
		for i, d := range depths {
			key := keyForCluster(4, uint16(i+1))
			e, _ := tbl.Probe(key)
			e.Save(key, 0, false, BoundLower, d, MoveNone, 0, tbl.Generation())
		}
		e, found := tbl.Probe(keyForCluster(4, 99))
		require.False(t, found)
		require.Equal(t, 5, e.Depth())
	})

	t.Run("old entry", func(t *testing.T) {
		tbl.Clear(pool)
		old := keyForCluster(6, 1)
		e, _ := tbl.Probe(old)
		e.Save(old, 0, false, BoundLower, 20, MoveNone, 0, tbl.Generation())

		tbl.NewSearch()
		for i, d := range []int{10, 12} {
			key := keyForCluster(6, uint16(i+2))
			e, _ := tbl.Probe(key)
			e.Save(key, 0, false, BoundLower, d, MoveNone, 0, tbl.Generation())
		}

		e, found := tbl.Probe(keyForCluster(6, 99))
		require.False(t, found)
		require.Equal(t, uint16(1), e.Key16())
	})
}

func TestExactAlwaysOccupiesSlot(t *testing.T) {
	tbl := newTestTable(t, 1)

	for i := 1; i <= ClusterSize; i++ {
		key := keyForCluster(11, uint16(i))
		e, _ := tbl.Probe(key)
		e.Save(key, i, true, BoundExact, 100, Move(i), 0, tbl.Generation())
	}

	key := keyForCluster(11, 500)
	e, found := tbl.Probe(key)
	require.False(t, found)
	e.Save(key, -3, false, BoundExact, 1, MoveNone, 0, tbl.Generation())

	e, found = tbl.Probe(key)
	require.True(t, found)
	require.Equal(t, -3, e.Value())
}

func TestHashFull(t *testing.T) {
	tbl := newTestTable(t, 1)
	require.Zero(t, tbl.HashFull())

	tbl.NewSearch()
	for i := 0; i < 300; i++ {
		key := keyForCluster(i*3, 0xBEEF)
		e, _ := tbl.Probe(key)
		e.Save(key, 0, false, BoundExact, 4, MoveNone, 0, tbl.Generation())
	}
	require.Equal(t, 100, tbl.HashFull())

	// Entries outside the sample are not counted.
	key := keyForCluster(5000, 0xBEEF)
	e, _ := tbl.Probe(key)
	e.Save(key, 0, false, BoundExact, 4, MoveNone, 0, tbl.Generation())
	require.Equal(t, 100, tbl.HashFull())

	// Entries from older searches are not counted either.
	tbl.NewSearch()
	require.Zero(t, tbl.HashFull())

	tbl.Clear(&recordingPool{n: 4})
	require.Zero(t, tbl.HashFull())
}

func TestClearStripes(t *testing.T) {
	for _, count := range []int{1, 7, 1000, 32768} {
		for n := 1; n <= min(count, 64); n++ {
			seen := make([]int, count)
			for i := 0; i < n; i++ {
				start, end := stripe(i, n, count)
				require.LessOrEqual(t, start, end)
				for j := start; j < end; j++ {
					seen[j]++
				}
			}
			for j, c := range seen {
				require.Equal(t, 1, c, "count %d workers %d cluster %d", count, n, j)
			}
		}
	}
}

func TestClearDispatchesEveryWorker(t *testing.T) {
	tbl := newTestTable(t, 1)

	for _, n := range []int{1, 3, 8, 17} {
		fill(tbl)
		pool := &recordingPool{n: n}
		tbl.Clear(pool)

		require.Len(t, pool.ran, n)
		require.Len(t, pool.waited, n)
		for i := 0; i < n; i++ {
			require.Equal(t, i, pool.ran[i])
			require.Equal(t, i, pool.waited[i])
		}
		requireZero(t, tbl)
		require.Zero(t, tbl.Generation())
	}
}

func TestClearParallel(t *testing.T) {
	tbl := newTestTable(t, 4)

	for _, n := range []int{1, 2, 5, 16} {
		pool := threads.NewPool(n)
		fill(tbl)
		tbl.Clear(pool)
		requireZero(t, tbl)
		pool.Close()
	}
}

// fill writes a non-zero entry into every slot.
func fill(tbl *Table) {
	for i := range tbl.table {
		for j := range tbl.table[i].entry {
			tbl.table[i].entry[j] = Entry{key16: 1, depth8: 9, genBound8: 3, move16: 2, value16: 1, eval16: 1}
		}
	}
}
