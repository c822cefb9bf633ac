package disk

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager(t *testing.T) {
	t.Run("round-trips a block", func(t *testing.T) {
		file := createBackingFile(t)
		dm := NewManager(file)

		data := make([]byte, BlockSize)
		copy(data, []byte("hello, world!"))

		assert.NoError(t, dm.writeBlock(1, 7, data))

		got, err := dm.readBlock(1, 7)
		assert.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("same blockno on different devices stays distinct", func(t *testing.T) {
		file := createBackingFile(t)
		dm := NewManager(file)

		first := make([]byte, BlockSize)
		second := make([]byte, BlockSize)
		copy(first, []byte("device one"))
		copy(second, []byte("device two"))

		assert.NoError(t, dm.writeBlock(1, 3, first))
		assert.NoError(t, dm.writeBlock(2, 3, second))

		got, err := dm.readBlock(1, 3)
		assert.NoError(t, err)
		assert.Equal(t, first, got)

		got, err = dm.readBlock(2, 3)
		assert.NoError(t, err)
		assert.Equal(t, second, got)
	})

	t.Run("recycles freed slots", func(t *testing.T) {
		file := createBackingFile(t)
		dm := NewManager(file)

		data := make([]byte, BlockSize)
		assert.NoError(t, dm.writeBlock(1, 1, data))

		offset := dm.blocks[blockKey{1, 1}]
		dm.freeBlock(1, 1)

		assert.NoError(t, dm.writeBlock(1, 2, data))
		assert.Equal(t, offset, dm.blocks[blockKey{1, 2}])
	})

	t.Run("grows the backing file past capacity", func(t *testing.T) {
		file := createBackingFile(t)
		dm := NewManager(file)
		dm.blockCapacity = 2

		data := make([]byte, BlockSize)
		for blockno := range uint32(3) {
			assert.NoError(t, dm.writeBlock(1, blockno, data))
		}

		fileInfo, err := os.Stat(file.Name())
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, fileInfo.Size(), int64(BlockSize)*3)
	})
}

func createBackingFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating backing file\n%v", err))
	}

	_ = os.Truncate(file.Name(), BlockSize*defaultBlockCapacity)
	t.Cleanup(func() {
		_ = os.Remove(file.Name())
	})
	return file
}
