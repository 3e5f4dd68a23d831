package tt

import "errors"

var (
	errEmptyTable = errors.New("table would hold no clusters")
	errShortAlloc = errors.New("allocator returned fewer clusters than requested")
)

// Allocator provides and releases cluster memory for a Table. The table calls
// Free exactly once for every slice returned by Alloc, before it allocates
// again and when it is closed.
type Allocator interface {
	// Alloc returns a zeroed slice equivalent to make([]Cluster, n).
	Alloc(n int) ([]Cluster, error)

	// Free releases memory previously returned by Alloc.
	Free(c []Cluster)
}

// HeapAllocator allocates clusters on the Go heap and leaves release to the
// garbage collector.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(n int) ([]Cluster, error) {
	if n <= 0 {
		return nil, errEmptyTable
	}
	return make([]Cluster, n), nil
}

func (HeapAllocator) Free([]Cluster) {}
