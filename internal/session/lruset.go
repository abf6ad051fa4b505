package session

import "container/list"

// lruSet is a bounded set of strings with least-recently-inserted eviction,
// used to track a session's seen request ids without unbounded growth
// (spec §4.M: "max tracked request ids per session, bounded set with LRU
// eviction"). Grounded in the teacher's internal/tool/registry.Registry[T]
// map-plus-lock idiom, adapted with a container/list ring for eviction
// order since the teacher has no direct LRU analog.
type lruSet struct {
	cap     int
	order   *list.List
	entries map[string]*list.Element
}

func newLRUSet(capacity int) *lruSet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &lruSet{
		cap:     capacity,
		order:   list.New(),
		entries: map[string]*list.Element{},
	}
}

// addIfAbsent returns false if id was already present (spec invariant I2:
// a request id is accepted iff it was not previously used on this
// session). On success, id is recorded and, if the set is over capacity,
// the least-recently-inserted id is evicted.
func (s *lruSet) addIfAbsent(id string) bool {
	if _, exists := s.entries[id]; exists {
		return false
	}
	el := s.order.PushBack(id)
	s.entries[id] = el
	if s.order.Len() > s.cap {
		oldest := s.order.Front()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(string))
		}
	}
	return true
}

func (s *lruSet) len() int { return s.order.Len() }
