//go:build unix

package tt

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Large pages are 2 MiB on the platforms that support them; mappings are
// rounded up to that size so the kernel can back them with huge pages.
const largePageSize = 2 << 20

// defaultAllocator maps anonymous memory outside the Go heap. Clusters hold
// no pointers, so the garbage collector never needs to scan them.
type defaultAllocator struct{}

func mappingSize(n int) int {
	return (n*clusterBytes + largePageSize - 1) &^ (largePageSize - 1)
}

func (defaultAllocator) Alloc(n int) ([]Cluster, error) {
	if n <= 0 {
		return nil, errEmptyTable
	}

	size := mappingSize(n)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	adviseLargePages(b)

	return unsafe.Slice((*Cluster)(unsafe.Pointer(unsafe.SliceData(b))), n), nil
}

func (defaultAllocator) Free(c []Cluster) {
	if len(c) == 0 {
		return
	}
	// Munmap identifies the mapping by its base and capacity.
	b := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(c))), mappingSize(len(c)))
	_ = unix.Munmap(b)
}
