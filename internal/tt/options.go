package tt

// Option configures a Table when it is created.
type Option interface {
	apply(t *Table)
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(t *Table) {
	t.allocator = op.allocator
}

// WithAllocator specifies the Allocator used for cluster memory.
func WithAllocator(allocator Allocator) Option {
	return allocatorOption{allocator}
}

type fatalOption struct {
	fatalf func(format string, args ...any)
}

func (op fatalOption) apply(t *Table) {
	t.fatalf = op.fatalf
}

// WithFatalHandler replaces the handler invoked when Resize cannot allocate.
// The default is log.Fatalf, which reports on stderr and exits the process.
// If the handler returns, the table is left unallocated.
func WithFatalHandler(fatalf func(format string, args ...any)) Option {
	return fatalOption{fatalf}
}
