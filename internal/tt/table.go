// Package tt implements the shared transposition table: a fixed-size array of
// cache-line friendly clusters probed and written by every search worker
// without locks.
package tt

import (
	"log"
	"math/bits"
	"unsafe"

	"github.com/dustin/go-humanize"
)

// ClusterSize is the number of entries per cluster.
const ClusterSize = 3

// Cluster groups ClusterSize entries so that a lookup touches one cache line.
// Two clusters fit in a 64-byte line.
type Cluster struct {
	entry   [ClusterSize]Entry
	padding [2]byte
}

// Compile-time check that a cluster is exactly 32 bytes.
var _ [32]byte = [unsafe.Sizeof(Cluster{})]byte{}

const clusterBytes = int(unsafe.Sizeof(Cluster{}))

// hashFullSample is the number of clusters inspected by HashFull.
const hashFullSample = 1000

// ThreadPool is the worker pool used for parallel clearing.
type ThreadPool interface {
	NumThreads() int
	RunOnThread(i int, fn func())
	WaitOnThread(i int)
}

// Table is the transposition table. It owns its cluster memory exclusively;
// Resize frees the previous allocation before installing a new one.
type Table struct {
	table        []Cluster
	clusterCount uint64
	megabytes    int
	generation8  uint8

	allocator Allocator
	fatalf    func(format string, args ...any)
}

// New creates an unallocated table. Call Resize before probing.
func New(opts ...Option) *Table {
	t := &Table{
		allocator: defaultAllocator{},
		fatalf:    log.Fatalf,
	}
	for _, op := range opts {
		op.apply(t)
	}
	return t
}

// Resize sets the size of the table in megabytes and zeroes it. Failing to
// allocate is fatal: the search cannot run without its table.
func (t *Table) Resize(mbSize int, threads ThreadPool) {
	t.free()

	count := 0
	if mbSize > 0 {
		count = mbSize * 1024 * 1024 / clusterBytes
	}

	clusters, err := t.allocator.Alloc(count)
	if err == nil && len(clusters) != count {
		err = errShortAlloc
	}
	if err != nil || count == 0 {
		if err == nil {
			err = errEmptyTable
		}
		t.fatalf("Failed to allocate %dMB (%s) for transposition table: %v",
			mbSize, humanize.IBytes(uint64(max(mbSize, 0))<<20), err)
		return
	}

	t.table = clusters
	t.clusterCount = uint64(count)
	t.megabytes = mbSize

	t.Clear(threads)
}

// Clear zeroes the whole table in parallel. Each worker zeroes one contiguous
// stripe; Clear returns only after every worker has finished.
func (t *Table) Clear(threads ThreadPool) {
	t.generation8 = 0

	threadCount := threads.NumThreads()
	if threadCount < 1 {
		clear(t.table)
		return
	}

	for i := 0; i < threadCount; i++ {
		start, end := stripe(i, threadCount, len(t.table))
		threads.RunOnThread(i, func() {
			clear(t.table[start:end])
		})
	}

	for i := 0; i < threadCount; i++ {
		threads.WaitOnThread(i)
	}
}

// stripe returns the half-open cluster range zeroed by worker i of n. The
// last worker takes the remainder of the division.
func stripe(i, n, count int) (start, end int) {
	stride := count / n
	start = stride * i
	if i+1 != n {
		return start, start + stride
	}
	return start, count
}

// NewSearch advances the generation. It is called once per search by the
// search driver, never while workers are probing.
func (t *Table) NewSearch() {
	t.generation8 += GenerationDelta
}

// Generation returns the current generation to pass to Entry.Save.
func (t *Table) Generation() uint8 {
	return t.generation8
}

// cluster maps a key to its cluster using the high word of key*clusterCount,
// which spreads uniform keys evenly over any cluster count.
func (t *Table) cluster(key uint64) *Cluster {
	hi, _ := bits.Mul64(key, t.clusterCount)
	return &t.table[hi]
}

// FirstEntry returns the first entry of the cluster the key maps to.
func (t *Table) FirstEntry(key uint64) *Entry {
	return &t.cluster(key).entry[0]
}

// Probe looks up key in the table. It returns the matching entry and whether
// it is occupied. Otherwise it returns false and the least valuable entry of
// the cluster, to be overwritten by Save. An entry's value for replacement is
// its depth minus twice its relative age; the first lowest entry wins ties.
func (t *Table) Probe(key uint64) (*Entry, bool) {
	c := t.cluster(key)
	key16 := uint16(key) // Use the low 16 bits as key inside the cluster

	for i := range c.entry {
		if c.entry[i].key16 == key16 {
			return &c.entry[i], c.entry[i].depth8 != 0
		}
	}

	replace := &c.entry[0]
	for i := 1; i < ClusterSize; i++ {
		if replace.replaceValue(t.generation8) > c.entry[i].replaceValue(t.generation8) {
			replace = &c.entry[i]
		}
	}
	return replace, false
}

// HashFull returns an approximation of the table occupation in permille,
// sampled from the first 1000 clusters. Only entries of the current
// generation are counted.
func (t *Table) HashFull() int {
	sample := min(hashFullSample, len(t.table))
	if sample == 0 {
		return 0
	}

	cnt := 0
	for i := 0; i < sample; i++ {
		for j := range t.table[i].entry {
			e := &t.table[i].entry[j]
			if e.depth8 != 0 && e.genBound8&GenerationMask == t.generation8 {
				cnt++
			}
		}
	}

	return cnt * 1000 / (sample * ClusterSize)
}

// ClusterCount returns the number of clusters currently allocated.
func (t *Table) ClusterCount() uint64 {
	return t.clusterCount
}

// Megabytes returns the size passed to the last successful Resize.
func (t *Table) Megabytes() int {
	return t.megabytes
}

// Close releases the table memory. The table must be resized before reuse.
func (t *Table) Close() {
	t.free()
}

func (t *Table) free() {
	if t.table != nil {
		t.allocator.Free(t.table)
	}
	t.table = nil
	t.clusterCount = 0
	t.megabytes = 0
	t.generation8 = 0
}
