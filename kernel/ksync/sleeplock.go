package ksync

import "sync/atomic"

// SleepLock is a blocking lock: Acquire suspends the calling goroutine
// instead of spinning, so it can be held across long-latency operations
// like a disk transfer.
type SleepLock struct {
	sem    chan struct{}
	locked atomic.Bool
}

func NewSleepLock() *SleepLock {
	return &SleepLock{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free.
func (l *SleepLock) Acquire() {
	l.sem <- struct{}{}
	l.locked.Store(true)
}

func (l *SleepLock) Release() {
	if !l.locked.Load() {
		panic("sleeplock: release of unheld lock")
	}
	l.locked.Store(false)
	<-l.sem
}

// Holding reports whether the lock is held. Callers use it to enforce
// the "caller must hold the buffer lock" contract.
func (l *SleepLock) Holding() bool {
	return l.locked.Load()
}
