package mem

const (
	// PageSize is the size of one physical frame.
	PageSize = 4096

	// KernBase is where simulated physical memory starts, matching the
	// qemu virt layout. Address 0 therefore never names a valid frame.
	KernBase = uintptr(0x8000_0000)
)

const (
	freeJunk  = 0x01 // fills freed frames to make dangling reuse detectable
	allocJunk = 0x05 // fills fresh allocations so callers can't rely on old content
)

// Memory is the managed physical-frame arena. Frames are addressed by
// simulated physical addresses in [KernBase, PhysTop).
type Memory struct {
	arena   []byte
	nframes int
}

func NewMemory(nframes int) *Memory {
	return &Memory{
		arena:   make([]byte, nframes*PageSize),
		nframes: nframes,
	}
}

func (m *Memory) NFrames() int {
	return m.nframes
}

func (m *Memory) PhysTop() uintptr {
	return KernBase + uintptr(m.nframes)*PageSize
}

// Page returns the payload of the frame at pa.
func (m *Memory) Page(pa uintptr) []byte {
	fn := m.frameIndex(pa)
	return m.arena[fn*PageSize : (fn+1)*PageSize]
}

// frameIndex validates pa and converts it to a frame number. A misaligned
// or out-of-range address is memory-corruption evidence.
func (m *Memory) frameIndex(pa uintptr) int {
	if pa%PageSize != 0 || pa < KernBase || pa >= m.PhysTop() {
		panic("invalid physical address")
	}
	return int((pa - KernBase) / PageSize)
}

func (m *Memory) frameAddr(fn int) uintptr {
	return KernBase + uintptr(fn)*PageSize
}

func (m *Memory) fill(fn int, junk byte) {
	page := m.arena[fn*PageSize : (fn+1)*PageSize]
	for i := range page {
		page[i] = junk
	}
}
