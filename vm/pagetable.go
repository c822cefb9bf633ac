package vm

// PageTable is a minimal stand-in for the kernel's page-table walker,
// which lives outside this core. It resolves page-aligned virtual
// addresses to entries; the multi-level radix walk is not modeled.
type PageTable struct {
	entries map[uintptr]*PTE
}

func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[uintptr]*PTE)}
}

// Walk returns the entry for the page containing va. When the page has no
// entry, a fresh empty one is installed if alloc is set, otherwise Walk
// returns nil.
func (pt *PageTable) Walk(va uintptr, alloc bool) *PTE {
	va &^= uintptr(PageSize - 1)

	if pte, ok := pt.entries[va]; ok {
		return pte
	}
	if !alloc {
		return nil
	}

	pte := new(PTE)
	pt.entries[va] = pte
	return pte
}

// Map installs a present mapping from va to pa with the given flags.
func (pt *PageTable) Map(va, pa uintptr, perm PTE) {
	pte := pt.Walk(va, true)
	if pte.Has(PteV) {
		panic("remap")
	}
	*pte = Pa2Pte(pa) | perm | PteV
}
