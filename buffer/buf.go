package buffer

import (
	"github.com/jobala/kerno/kernel/ksync"
	"github.com/jobala/kerno/storage/disk"
)

const (
	// NBUF is the default size of the buffer pool.
	NBUF = 30

	// NBUCKET is the number of hash buckets sharding the cache index.
	NBUCKET = 13
)

// Buf is one cache slot: the in-memory copy of one disk block plus the
// metadata gating its reuse. A caller that has it checked out (refcnt > 0,
// lock held) has exclusive use of Data until Brelse.
type Buf struct {
	dev     uint32
	blockno uint32
	valid   bool // payload has been loaded from disk
	refcnt  int  // active holders; nonzero pins the buffer in place

	// lock guards Data and is the only lock in this core that may be
	// held across disk I/O.
	lock *ksync.SleepLock

	// intrusive bucket-list links, indices into Cache.bufs
	next int
	prev int
	id   int

	Data [disk.BlockSize]byte
}

func (b *Buf) Dev() uint32 {
	return b.dev
}

func (b *Buf) Blockno() uint32 {
	return b.blockno
}
