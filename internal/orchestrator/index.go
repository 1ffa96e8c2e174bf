package orchestrator

// jobIndex is the bijection between opaque job ids issued by the rendering
// network and stable slot indices. Jobs may be created dynamically, so ids
// are bound to the lowest unbound eligible slot the first time they appear.
type jobIndex struct {
	byJob  map[string]int
	bySlot map[int]string
}

func newJobIndex() *jobIndex {
	return &jobIndex{
		byJob:  make(map[string]int),
		bySlot: make(map[int]string),
	}
}

// bind records the pairing. Rebinding either side is refused so the
// bijection can never silently degrade into a many-to-one mapping.
func (ix *jobIndex) bind(jobID string, slot int) bool {
	if jobID == "" || slot < 0 {
		return false
	}
	if _, taken := ix.byJob[jobID]; taken {
		return false
	}
	if _, taken := ix.bySlot[slot]; taken {
		return false
	}
	ix.byJob[jobID] = slot
	ix.bySlot[slot] = jobID
	return true
}

// slotFor resolves a job id to its slot index.
func (ix *jobIndex) slotFor(jobID string) (int, bool) {
	slot, ok := ix.byJob[jobID]
	return slot, ok
}

// jobFor resolves a slot index to its job id.
func (ix *jobIndex) jobFor(slot int) (string, bool) {
	id, ok := ix.bySlot[slot]
	return id, ok
}

// bound reports whether the slot already has a job.
func (ix *jobIndex) bound(slot int) bool {
	_, ok := ix.bySlot[slot]
	return ok
}

// len returns the number of bound pairs.
func (ix *jobIndex) len() int {
	return len(ix.byJob)
}
