package dedup

import (
	"encoding/json"
	"slices"
)

// idSet is an insertion-ordered set of ids.
type idSet struct {
	order []string
	index map[string]struct{}
}

func newIDSet(ids []string) *idSet {
	s := &idSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *idSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// add reports whether id was new.
func (s *idSet) add(id string) bool {
	if id == "" || s.has(id) {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *idSet) len() int { return len(s.order) }

// keepNewest drops all but the n most recently added ids.
func (s *idSet) keepNewest(n int) int {
	drop := len(s.order) - n
	if drop <= 0 {
		return 0
	}
	for _, id := range s.order[:drop] {
		delete(s.index, id)
	}
	s.order = slices.Clone(s.order[drop:])
	return drop
}

func (s *idSet) marshal() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

// encode serializes the set, trimming first when the result would exceed maxBytes.
// It returns the number of ids trimmed.
func (s *idSet) encode(maxBytes, keep int) ([]byte, int, error) {
	b, err := s.marshal()
	if err != nil {
		return nil, 0, err
	}
	if len(b) <= maxBytes {
		return b, 0, nil
	}
	dropped := s.keepNewest(keep)
	b, err = s.marshal()
	return b, dropped, err
}

func decodeIDs(b []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
