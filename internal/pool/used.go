package pool

// UsedIDSet remembers recently shown candidate ids. When it reaches its cap
// it is cleared wholesale, so it biases selection away from repeats without
// excluding anything forever.
type UsedIDSet struct {
	cap int
	ids map[string]struct{}
}

// NewUsedIDSet creates a set holding at most capacity ids.
func NewUsedIDSet(capacity int) *UsedIDSet {
	if capacity <= 0 {
		capacity = 50
	}
	return &UsedIDSet{cap: capacity, ids: make(map[string]struct{}, capacity)}
}

// Add records id, clearing the set first if it is full.
func (s *UsedIDSet) Add(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	if len(s.ids) >= s.cap {
		s.ids = make(map[string]struct{}, s.cap)
	}
	s.ids[id] = struct{}{}
}

// Contains reports whether id was recently shown.
func (s *UsedIDSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of remembered ids.
func (s *UsedIDSet) Len() int {
	return len(s.ids)
}
