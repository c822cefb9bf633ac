package util

import "errors"

// Recoverable conditions, returned up the caller chain. Everything else in
// the kernel core treats failure as a contract violation and panics.
var (
	// ErrOutOfMemory means no free frame exists anywhere. Callers are
	// expected to fail the higher-level operation, not crash.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrNotCowPage means the faulting page is not marked copy-on-write,
	// so the fault is not ours to handle.
	ErrNotCowPage = errors.New("not a copy-on-write page")

	// ErrNotMapped means the virtual address has no page table entry.
	ErrNotMapped = errors.New("address not mapped")
)

type KernError struct {
	Message string
	Err     error
}

func (e *KernError) Error() string {
	return e.Message
}

func (e *KernError) Unwrap() error {
	return e.Err
}
