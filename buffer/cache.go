// The buffer cache holds cached copies of disk block contents and is the
// kernel's single synchronization point for shared on-disk data.
//
// The index is sharded into NBUCKET independently locked buckets keyed by
// blockno. The common paths (block already cached, free buffer in the same
// bucket) take exactly one bucket spinlock. Only cross-bucket reclamation
// takes the global eviction lock, and it acquires bucket locks in ascending
// index order everywhere, which is the sole deadlock-avoidance mechanism.
package buffer

import (
	"fmt"

	"github.com/jobala/kerno/kernel/ksync"
	"github.com/jobala/kerno/storage/disk"
)

type bucket struct {
	lock ksync.SpinLock
	head int // index of this bucket's list sentinel in Cache.bufs
}

type Cache struct {
	// eviction serializes any operation that inspects or moves buffers
	// across more than one bucket. Always acquired before the bucket
	// locks it spans, never the reverse.
	eviction ksync.SpinLock
	buckets  [NBUCKET]bucket

	// bufs holds nbuf buffer records followed by NBUCKET sentinel
	// records, so every bucket list is circular and linked by index
	// with no pointer aliasing.
	bufs []Buf
	nbuf int

	sched *disk.Scheduler
}

func New(nbuf int, sched *disk.Scheduler) *Cache {
	c := &Cache{
		bufs:  make([]Buf, nbuf+NBUCKET),
		nbuf:  nbuf,
		sched: sched,
	}

	for i := range c.bufs {
		c.bufs[i].id = i
	}

	for i := range NBUCKET {
		sentinel := nbuf + i
		c.buckets[i].head = sentinel
		c.bufs[sentinel].next = sentinel
		c.bufs[sentinel].prev = sentinel
	}

	// distribute the pool round-robin across buckets
	for i := range nbuf {
		c.bufs[i].lock = ksync.NewSleepLock()
		c.insertHead(i%NBUCKET, i)
	}

	return c
}

// insertHead splices buffer id in at the MRU end of bucket idx.
// Caller holds the bucket's spinlock.
func (c *Cache) insertHead(idx, id int) {
	head := c.buckets[idx].head
	b := &c.bufs[id]

	b.next = c.bufs[head].next
	b.prev = head
	c.bufs[b.next].prev = id
	c.bufs[head].next = id
}

// unlink removes buffer id from its bucket list.
// Caller holds the bucket's spinlock.
func (c *Cache) unlink(id int) {
	b := &c.bufs[id]
	c.bufs[b.prev].next = b.next
	c.bufs[b.next].prev = b.prev
}

// bget returns a locked buffer for the block, allocating one if the block
// is not cached.
func (c *Cache) bget(dev, blockno uint32) *Buf {
	idx := int(blockno % NBUCKET)
	head := c.buckets[idx].head

	c.buckets[idx].lock.Acquire()

	// Is the block already cached?
	for i := c.bufs[head].next; i != head; i = c.bufs[i].next {
		b := &c.bufs[i]
		if b.dev == dev && b.blockno == blockno {
			b.refcnt++
			c.buckets[idx].lock.Release()
			b.lock.Acquire()
			return b
		}
	}

	// Not cached. Prefer a free buffer in the same bucket, scanning from
	// the least-recently-used end, so no cross-bucket work is needed.
	for i := c.bufs[head].prev; i != head; i = c.bufs[i].prev {
		b := &c.bufs[i]
		if b.refcnt == 0 {
			c.repurpose(b, dev, blockno)
			c.buckets[idx].lock.Release()
			b.lock.Acquire()
			return b
		}
	}

	// No free buffer in our bucket. Drop its lock before contending
	// globally, then serialize with concurrent evictions.
	c.buckets[idx].lock.Release()
	c.eviction.Acquire()

	// Scan every bucket in ascending index order for a free buffer,
	// keeping our own bucket's lock once its position is reached.
	victim := -1
	victimBkt := -1
	holdingIdx := false
	for i := range NBUCKET {
		c.buckets[i].lock.Acquire()
		if i == idx {
			holdingIdx = true
		}

		h := c.buckets[i].head
		for j := c.bufs[h].prev; j != h; j = c.bufs[j].prev {
			if c.bufs[j].refcnt == 0 {
				victim = j
				victimBkt = i
				break
			}
		}
		if victim != -1 {
			break
		}

		if i != idx {
			c.buckets[i].lock.Release()
		}
	}
	if !holdingIdx {
		// the victim turned up below idx, so acquiring idx now still
		// respects the ascending order
		c.buckets[idx].lock.Acquire()
	}

	// Our bucket was unlocked while we waited for the eviction lock:
	// another thread may have inserted the wanted block meanwhile.
	for i := c.bufs[head].next; i != head; i = c.bufs[i].next {
		b := &c.bufs[i]
		if b.dev == dev && b.blockno == blockno {
			b.refcnt++
			if victimBkt != -1 && victimBkt != idx {
				c.buckets[victimBkt].lock.Release()
			}
			c.buckets[idx].lock.Release()
			c.eviction.Release()
			b.lock.Acquire()
			return b
		}
	}

	// ...or released a buffer into our bucket, which also makes the
	// cross-bucket migration unnecessary.
	for i := c.bufs[head].prev; i != head; i = c.bufs[i].prev {
		b := &c.bufs[i]
		if b.refcnt == 0 {
			c.repurpose(b, dev, blockno)
			if victimBkt != -1 && victimBkt != idx {
				c.buckets[victimBkt].lock.Release()
			}
			c.buckets[idx].lock.Release()
			c.eviction.Release()
			b.lock.Acquire()
			return b
		}
	}

	if victim == -1 {
		panic("bget: no buffers")
	}

	// Migrate the victim from its donor bucket into ours.
	b := &c.bufs[victim]
	c.unlink(victim)
	c.insertHead(idx, victim)
	c.repurpose(b, dev, blockno)

	c.buckets[victimBkt].lock.Release()
	c.buckets[idx].lock.Release()
	c.eviction.Release()
	b.lock.Acquire()
	return b
}

// repurpose hands a free buffer over to a new block. Caller holds the
// bucket spinlock and has verified refcnt == 0.
func (c *Cache) repurpose(b *Buf, dev, blockno uint32) {
	b.dev = dev
	b.blockno = blockno
	b.valid = false
	b.refcnt = 1
}

// Bread returns a locked buffer with the contents of the indicated block.
func (c *Cache) Bread(dev, blockno uint32) *Buf {
	b := c.bget(dev, blockno)
	if !b.valid {
		if err := c.sched.Read(b.dev, b.blockno, b.Data[:]); err != nil {
			panic(fmt.Sprintf("bread: %v", err))
		}
		b.valid = true
	}
	return b
}

// Bwrite writes b's payload to disk. The caller must hold b's lock.
func (c *Cache) Bwrite(b *Buf) {
	if !b.lock.Holding() {
		panic("bwrite")
	}
	if err := c.sched.Write(b.dev, b.blockno, b.Data[:]); err != nil {
		panic(fmt.Sprintf("bwrite: %v", err))
	}
}

// Brelse releases a locked buffer and, once unreferenced, moves it to the
// most-recently-used end of its bucket so eviction scans see true LRU
// order. Callers must not touch the payload afterwards.
func (c *Cache) Brelse(b *Buf) {
	if !b.lock.Holding() {
		panic("brelse")
	}
	b.lock.Release()

	idx := int(b.blockno % NBUCKET)
	c.buckets[idx].lock.Acquire()
	b.refcnt--
	if b.refcnt == 0 {
		// no one is waiting for it
		c.unlink(b.id)
		c.insertHead(idx, b.id)
	}
	c.buckets[idx].lock.Release()
}

// Bpin keeps the buffer from being reclaimed without holding its lock.
func (c *Cache) Bpin(b *Buf) {
	idx := int(b.blockno % NBUCKET)
	c.buckets[idx].lock.Acquire()
	b.refcnt++
	c.buckets[idx].lock.Release()
}

func (c *Cache) Bunpin(b *Buf) {
	idx := int(b.blockno % NBUCKET)
	c.buckets[idx].lock.Acquire()
	b.refcnt--
	c.buckets[idx].lock.Release()
}
