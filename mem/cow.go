package mem

import (
	"github.com/jobala/kerno/kernel/ksync"
	"github.com/jobala/kerno/util"
	"github.com/jobala/kerno/vm"
)

// Cow is the shared-refcounted allocator: one global freelist plus a
// per-frame reference count, letting several page table entries share one
// frame read-only until a write fault forces a private copy.
type Cow struct {
	mem      *Memory
	lock     ksync.SpinLock
	freelist int
	next     []int
	refcnt   []int
}

func NewCow(mem *Memory) *Cow {
	a := &Cow{
		mem:      mem,
		freelist: -1,
		next:     make([]int, mem.NFrames()),
		refcnt:   make([]int, mem.NFrames()),
	}

	// every frame starts with one reference held by the boot identity
	// mapping, then is handed over to the free list
	for fn := range mem.NFrames() {
		a.refcnt[fn] = 1
		a.Free(mem.frameAddr(fn))
	}
	return a
}

func (a *Cow) Alloc() (uintptr, error) {
	a.lock.Acquire()
	fn := a.freelist
	if fn == -1 {
		a.lock.Release()
		return 0, util.ErrOutOfMemory
	}
	a.freelist = a.next[fn]
	a.refcnt[fn] = 1
	a.lock.Release()

	a.mem.fill(fn, allocJunk)
	return a.mem.frameAddr(fn), nil
}

// Free drops one reference to the frame. The frame only returns to the
// free list once the last reference is gone; a frame with remaining
// references stays allocated.
func (a *Cow) Free(pa uintptr) {
	fn := a.mem.frameIndex(pa) // panics on a bad address

	a.lock.Acquire()
	if a.refcnt[fn] == 0 {
		a.lock.Release()
		panic("kfree: frame already free")
	}
	a.refcnt[fn]--
	if a.refcnt[fn] > 0 {
		a.lock.Release()
		return
	}
	a.lock.Release()

	// The count hit zero, so nothing can reach the frame anymore; the
	// junk fill runs without the lock held.
	a.mem.fill(fn, freeJunk)

	a.lock.Acquire()
	a.next[fn] = a.freelist
	a.freelist = fn
	a.lock.Release()
}

// AddRef records another owner of the frame, e.g. when process
// duplication points a second page table entry at an already-mapped frame.
func (a *Cow) AddRef(pa uintptr) {
	fn := a.mem.frameIndex(pa)

	a.lock.Acquire()
	if a.refcnt[fn] == 0 {
		a.lock.Release()
		panic("addref: frame is free")
	}
	a.refcnt[fn]++
	a.lock.Release()
}

// FreeFrames reports the number of frames on the free list.
func (a *Cow) FreeFrames() int {
	a.lock.Acquire()
	n := 0
	for fn := a.freelist; fn != -1; fn = a.next[fn] {
		n++
	}
	a.lock.Release()
	return n
}

func (a *Cow) refCount(pa uintptr) int {
	fn := a.mem.frameIndex(pa)

	a.lock.Acquire()
	rc := a.refcnt[fn]
	a.lock.Release()
	return rc
}

// OnWrite handles a write fault on a copy-on-write page: the sole owner
// gets the mapping flipped writable in place, a sharer gets a private
// copy. On success the caller retries the faulting instruction.
func (a *Cow) OnWrite(pt *vm.PageTable, va uintptr) error {
	pte := pt.Walk(va, false)
	if pte == nil || !pte.Has(vm.PteV) {
		return util.ErrNotMapped
	}
	if !pte.Has(vm.PteCow) {
		// not ours to handle
		return util.ErrNotCowPage
	}

	pa := pte.PA()

	if a.refCount(pa) == 1 {
		// no sharing exists; make the mapping writable in place
		pte.Set(vm.PteW)
		pte.Clear(vm.PteCow)
		return nil
	}

	npa, err := a.Alloc()
	if err != nil {
		return err
	}

	// the byte copy runs without any spinlock held; a concurrent fault
	// on another sharer makes its own private copy
	copy(a.mem.Page(npa), a.mem.Page(pa))

	flags := pte.Flags()
	*pte = vm.Pa2Pte(npa) | ((flags | vm.PteW) &^ vm.PteCow)

	// drop the faulting entry's reference to the shared frame
	a.Free(pa)
	return nil
}
