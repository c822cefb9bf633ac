package mem

import (
	"github.com/jobala/kerno/kernel/ksync"
	"github.com/jobala/kerno/util"
)

type shard struct {
	lock     ksync.SpinLock
	freelist int // head frame number, -1 when empty
	count    int // always equals the list length
}

// Sharded keeps one freelist per core and steals half a donor's frames
// when the local list runs dry.
type Sharded struct {
	mem    *Memory
	next   []int // freelist links by frame number, -1 ends a list
	shards [ksync.NCPU]shard
}

func NewSharded(mem *Memory) *Sharded {
	a := &Sharded{
		mem:  mem,
		next: make([]int, mem.NFrames()),
	}
	for i := range a.shards {
		a.shards[i].freelist = -1
	}

	// hand every managed frame out round-robin across the cores
	for fn := range mem.NFrames() {
		a.freeOn(fn%ksync.NCPU, mem.frameAddr(fn))
	}
	return a
}

// Alloc pops a frame off the calling core's freelist, stealing from
// another core when the local list is empty.
func (a *Sharded) Alloc() (uintptr, error) {
	id := ksync.Pin()
	defer ksync.Unpin()
	return a.allocOn(id)
}

// Free pushes the frame onto the calling core's freelist.
func (a *Sharded) Free(pa uintptr) {
	id := ksync.Pin()
	defer ksync.Unpin()
	a.freeOn(id, pa)
}

func (a *Sharded) allocOn(id int) (uintptr, error) {
	local := &a.shards[id]

	local.lock.Acquire()
	if local.freelist == -1 {
		// Local list is dry. Release it, then rescan every core in
		// ascending id order, re-acquiring the local lock at its own
		// position so the global lock order stays fixed even when two
		// cores steal from each other simultaneously.
		local.lock.Release()

		donor := -1
		for i := range ksync.NCPU {
			if i == id {
				local.lock.Acquire()
				continue
			}
			a.shards[i].lock.Acquire()
			if a.shards[i].count != 0 {
				donor = i
				break
			}
			a.shards[i].lock.Release()
		}
		if donor != -1 && donor < id {
			// the scan stopped before reaching id; acquiring it now
			// still respects the ascending order
			local.lock.Acquire()
		}

		if donor != -1 {
			a.steal(id, donor)
			a.shards[donor].lock.Release()
		}
	}

	// Pop the local list. Even without a donor it may have been
	// replenished by a concurrent free while the lock was dropped.
	fn := local.freelist
	if fn == -1 {
		local.lock.Release()
		return 0, util.ErrOutOfMemory
	}
	local.freelist = a.next[fn]
	local.count--
	local.lock.Release()

	a.mem.fill(fn, allocJunk)
	return a.mem.frameAddr(fn), nil
}

// steal moves ceil(donor count / 2) frames from the donor's list onto the
// local one. Both shard locks are held; the donor's count is nonzero.
func (a *Sharded) steal(id, donor int) {
	d := &a.shards[donor]
	n := (d.count + 1) / 2

	head := d.freelist
	tail := head
	for range n - 1 {
		tail = a.next[tail]
	}
	d.freelist = a.next[tail]
	d.count -= n

	// append rather than overwrite: frames freed locally since the empty
	// check must not leak
	local := &a.shards[id]
	a.next[tail] = local.freelist
	local.freelist = head
	local.count += n
}

func (a *Sharded) freeOn(id int, pa uintptr) {
	fn := a.mem.frameIndex(pa) // panics on a bad address

	a.mem.fill(fn, freeJunk)

	s := &a.shards[id]
	s.lock.Acquire()
	a.next[fn] = s.freelist
	s.freelist = fn
	s.count++
	s.lock.Release()
}

// FreeFrames reports the total number of free frames across all cores.
func (a *Sharded) FreeFrames() int {
	total := 0
	for i := range a.shards {
		a.shards[i].lock.Acquire()
		total += a.shards[i].count
		a.shards[i].lock.Release()
	}
	return total
}
