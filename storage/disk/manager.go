package disk

import (
	"fmt"
	"os"
	"sync"
)

// BlockSize is the unit of transfer between the cache and the block store.
const BlockSize = 1024

const defaultBlockCapacity = 64

type blockKey struct {
	dev     uint32
	blockno uint32
}

// Manager is a file-backed block store. Blocks are addressed by
// (device, block number); file offsets are assigned on first touch and
// recycled through a free-slot list.
type Manager struct {
	// mu guards the offset map and free-slot bookkeeping; the file
	// transfers themselves run outside it, WriteAt/ReadAt are safe to
	// use concurrently.
	mu            sync.Mutex
	dbFile        *os.File
	blocks        map[blockKey]int
	freeSlots     []int
	blockCapacity int
}

func NewManager(file *os.File) *Manager {
	return &Manager{
		dbFile:        file,
		blockCapacity: defaultBlockCapacity,
		freeSlots:     []int{},
		blocks:        map[blockKey]int{},
	}
}

func (dm *Manager) writeBlock(dev, blockno uint32, data []byte) error {
	offset, err := dm.offsetFor(dev, blockno)
	if err != nil {
		return err
	}

	if _, err := dm.dbFile.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("error writing at offset %d: %v", offset, err)
	}

	return nil
}

func (dm *Manager) readBlock(dev, blockno uint32) ([]byte, error) {
	offset, err := dm.offsetFor(dev, blockno)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, BlockSize)
	if _, err := dm.dbFile.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("error reading from offset %d: %v", offset, err)
	}

	return buf, nil
}

// offsetFor resolves a block's file offset, assigning one on first touch.
func (dm *Manager) offsetFor(dev, blockno uint32) (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	key := blockKey{dev, blockno}
	offset, found := dm.blocks[key]

	if !found {
		var err error
		offset, err = dm.allocateBlock()
		if err != nil {
			return -1, err
		}
		dm.blocks[key] = offset
	}

	return offset, nil
}

func (dm *Manager) freeBlock(dev, blockno uint32) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	key := blockKey{dev, blockno}
	if offset, ok := dm.blocks[key]; ok {
		dm.freeSlots = append(dm.freeSlots, offset)
		delete(dm.blocks, key)
	}
}

func (dm *Manager) allocateBlock() (int, error) {
	if len(dm.freeSlots) > 0 {
		offset := dm.freeSlots[0]
		dm.freeSlots = dm.freeSlots[1:]

		return offset, nil
	}

	if len(dm.blocks)+1 > dm.blockCapacity {
		dm.blockCapacity *= 2
		if err := os.Truncate(dm.dbFile.Name(), int64(dm.blockCapacity)*BlockSize); err != nil {
			return -1, fmt.Errorf("error resizing backing file: %v", err)
		}
	}

	return len(dm.blocks) * BlockSize, nil
}
