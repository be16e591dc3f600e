package kmalloc

// findHeader returns the header owning ptr, mirroring find_header()'s
// inclusive range check (including its one-byte-past-the-end slack, kept
// intentionally rather than tightened). It returns nil if ptr does not fall
// within any known block.
func findHeader(ptr uintptr) *blockHeader {
	for current := head; current != nil; current = current.next {
		if ptr >= current.start && ptr <= current.start+current.size+1 {
			return current
		}
	}
	return nil
}
