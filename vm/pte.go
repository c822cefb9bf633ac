package vm

// PageSize is the unit a page table entry maps.
const PageSize = 4096

// PTE is an sv39-style page table entry: flag bits in the low ten bits,
// physical page number from bit 10 up.
type PTE uint64

const (
	PteV PTE = 1 << 0 // valid
	PteR PTE = 1 << 1 // readable
	PteW PTE = 1 << 2 // writable
	PteX PTE = 1 << 3 // executable
	PteU PTE = 1 << 4 // user-accessible

	// PteCow is a software (RSW) bit marking a frame shared
	// copy-on-write: writes fault until the sharing is broken.
	PteCow PTE = 1 << 8
)

const flagMask = PTE(0x3ff)

func Pa2Pte(pa uintptr) PTE {
	return PTE(pa>>12) << 10
}

func (p PTE) PA() uintptr {
	return uintptr(p>>10) << 12
}

func (p PTE) Flags() PTE {
	return p & flagMask
}

func (p PTE) Has(f PTE) bool {
	return p&f != 0
}

func (p *PTE) Set(f PTE) {
	*p |= f
}

func (p *PTE) Clear(f PTE) {
	*p &^= f
}
