//go:build !unix

package tt

type defaultAllocator = HeapAllocator
