package buffer

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/jobala/kerno/storage/disk"
	"github.com/jobala/kerno/util"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestBufferCache(t *testing.T) {
	t.Run("reads a block from disk", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(NBUF, sched)

		data := make([]byte, disk.BlockSize)
		copy(data, []byte("hello, world!"))
		assert.NoError(t, sched.Write(1, 7, data))

		b := cache.Bread(1, 7)
		assert.Equal(t, data, b.Data[:])
		assert.Equal(t, uint32(1), b.Dev())
		assert.Equal(t, uint32(7), b.Blockno())
		assert.True(t, b.valid)
		cache.Brelse(b)

		assert.Equal(t, 0, b.refcnt)
	})

	t.Run("repeated reads hit the same buffer", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(NBUF, sched)

		first := cache.Bread(1, 3)
		cache.Brelse(first)

		second := cache.Bread(1, 3)
		cache.Brelse(second)

		assert.Same(t, first, second)
	})

	t.Run("concurrent holders of one block are serialized", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(NBUF, sched)

		// counter is guarded only by the buffer's blocking lock, so the
		// final value proves at most one holder at a time
		counter := 0

		var g errgroup.Group
		for range 20 {
			g.Go(func() error {
				b := cache.Bread(1, 5)
				counter++
				cache.Brelse(b)
				return nil
			})
		}

		assert.NoError(t, g.Wait())
		assert.Equal(t, 20, counter)

		b := cache.Bread(1, 5)
		assert.Equal(t, 1, b.refcnt)
		cache.Brelse(b)
	})

	t.Run("a referenced buffer is never repurposed", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(3, sched)

		held := cache.Bread(1, 1)

		// churn through every other buffer many times over
		for blockno := uint32(2); blockno < 20; blockno++ {
			b := cache.Bread(1, blockno)
			cache.Brelse(b)
		}

		assert.Equal(t, uint32(1), held.Dev())
		assert.Equal(t, uint32(1), held.Blockno())
		assert.True(t, held.valid)
		cache.Brelse(held)
	})

	t.Run("eviction migrates a buffer across buckets", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(1, sched)

		// the single buffer starts in bucket 0; reading block 5 must
		// steal it into bucket 5
		b := cache.Bread(1, 5)
		assert.Equal(t, uint32(5), b.Blockno())
		cache.Brelse(b)

		head := cache.buckets[5].head
		assert.Equal(t, b.id, cache.bufs[head].next)
	})

	t.Run("concurrent cold reads terminate without deadlock", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(NBUF, sched)

		// more threads than any one bucket has free buffers, all cold
		var g errgroup.Group
		for i := range 26 {
			blockno := uint32(i)
			g.Go(func() error {
				for round := range uint32(10) {
					b := cache.Bread(1, blockno+26*round)
					cache.Brelse(b)
				}
				return nil
			})
		}
		assert.NoError(t, g.Wait())

		for i := range cache.nbuf {
			assert.Equal(t, 0, cache.bufs[i].refcnt)
		}
	})

	t.Run("written pattern survives eviction", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(3, sched)

		type record struct {
			Name string
			Seq  int
		}

		payload, err := util.ToByteSlice(record{Name: "journal", Seq: 42})
		assert.NoError(t, err)

		b := cache.Bread(1, 1)
		copy(b.Data[:], payload)
		cache.Bwrite(b)
		cache.Brelse(b)

		// force the buffer out of the cache
		for blockno := uint32(2); blockno < 10; blockno++ {
			other := cache.Bread(1, blockno)
			cache.Brelse(other)
		}

		b = cache.Bread(1, 1)
		got, err := util.ToStruct[record](b.Data[:])
		assert.NoError(t, err)
		assert.Equal(t, record{Name: "journal", Seq: 42}, got)
		cache.Brelse(b)
	})

	t.Run("write without the buffer lock panics", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(NBUF, sched)

		b := cache.Bread(1, 2)
		cache.Brelse(b)

		assert.PanicsWithValue(t, "bwrite", func() { cache.Bwrite(b) })
		assert.PanicsWithValue(t, "brelse", func() { cache.Brelse(b) })
	})

	t.Run("pinned buffer blocks reclamation until unpinned", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(1, sched)

		b := cache.Bread(1, 1)
		cache.Bpin(b)
		cache.Brelse(b)
		assert.Equal(t, 1, b.refcnt)

		// the only buffer is pinned, so a cold read has nothing to take
		assert.PanicsWithValue(t, "bget: no buffers", func() { cache.Bread(1, 2) })

		cache.Bunpin(b)
		assert.Equal(t, 0, b.refcnt)
	})

	t.Run("exhausts after exactly nbuf unreleased reads", func(t *testing.T) {
		sched := createScheduler(t)
		cache := New(30, sched)

		seen := map[*Buf]bool{}
		for blockno := uint32(1); blockno <= 30; blockno++ {
			b := cache.Bread(1, blockno)
			assert.False(t, seen[b])
			seen[b] = true
		}
		assert.Len(t, seen, 30)

		assert.PanicsWithValue(t, "bget: no buffers", func() { cache.Bread(1, 31) })
	})
}

func createScheduler(t *testing.T) *disk.Scheduler {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating backing file\n%v", err))
	}

	_ = os.Truncate(file.Name(), disk.BlockSize*64)
	t.Cleanup(func() {
		_ = os.Remove(file.Name())
	})

	return disk.NewScheduler(disk.NewManager(file))
}
