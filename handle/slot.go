package handle

// Slot holds at most one handle. Replacing or clearing it releases the
// previous occupant right after the new one is installed.
//
// Slot is not safe for concurrent use; its owner serializes access.
type Slot struct {
	reg *Registry
	cur *Handle
}

func NewSlot(reg *Registry) Slot {
	return Slot{reg: reg}
}

func (s *Slot) Get() *Handle { return s.cur }

func (s *Slot) Set(h *Handle) {
	prev := s.cur
	s.cur = h
	if prev != nil && prev != h {
		s.reg.Release(prev)
	}
}

func (s *Slot) Clear() { s.Set(nil) }
