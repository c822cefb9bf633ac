package ksync

import (
	"runtime"
	"sync/atomic"
)

// NCPU is the number of simulated cores.
const NCPU = 8

var nextCore atomic.Uint64

// Pin models push_off: it disables migration off the caller's core and
// returns that core's id, which stays valid until the matching Unpin. The
// simulator has no real interrupts, so cores are dealt round-robin; the
// caller keeps the id in a local for the pinned window.
func Pin() int {
	return int(nextCore.Add(1)-1) % NCPU
}

// Unpin models pop_off.
func Unpin() {}

// SpinLock is a test-and-set busy-wait lock. Critical sections must be
// short and must never span disk I/O or a page copy; use SleepLock for
// anything long-latency.
type SpinLock struct {
	locked atomic.Bool
}

func (l *SpinLock) Acquire() {
	for !l.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *SpinLock) Release() {
	if !l.locked.Load() {
		panic("spinlock: release of unheld lock")
	}
	l.locked.Store(false)
}

// TryAcquire acquires the lock if it is free and reports whether it did.
func (l *SpinLock) TryAcquire() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Holding reports whether the lock is held.
func (l *SpinLock) Holding() bool {
	return l.locked.Load()
}
