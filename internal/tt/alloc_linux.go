package tt

import "golang.org/x/sys/unix"

// adviseLargePages asks for transparent huge pages. Failure only costs TLB
// misses, so it is ignored.
func adviseLargePages(b []byte) {
	_ = unix.Madvise(b, unix.MADV_HUGEPAGE)
}
