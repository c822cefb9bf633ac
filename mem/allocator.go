package mem

// Allocator hands out and reclaims physical page frames. Two mutually
// exclusive strategies implement it: Sharded keeps one freelist per core
// and steals between cores, Cow keeps one global freelist with per-frame
// reference counts for copy-on-write sharing. A kernel build configures
// exactly one of them; the virtual-memory and process layers depend only
// on this interface.
type Allocator interface {
	// Alloc returns the address of a free frame, or util.ErrOutOfMemory
	// when no frame exists anywhere. Exhaustion is recoverable: callers
	// fail the higher-level operation instead of crashing.
	Alloc() (uintptr, error)

	// Free returns a frame obtained from Alloc. A misaligned or
	// out-of-range address panics.
	Free(pa uintptr)
}
