package config

// MemoryStore keeps values in a map. Persist is a no-op that only clears the
// dirty set, which makes it the store of choice for tests.
type MemoryStore struct {
	values    map[string]any
	persisted map[string]any
	dirty     map[string]struct{}
}

// NewMemoryStore seeds a store from flat or nested initial values.
func NewMemoryStore(initial map[string]any) *MemoryStore {
	s := &MemoryStore{
		values:    make(map[string]any),
		persisted: make(map[string]any),
		dirty:     make(map[string]struct{}),
	}
	flatten("", initial, s.values)
	return s
}

func (s *MemoryStore) Value(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key string, v any, persist bool) error {
	s.values[key] = v
	if persist {
		s.dirty[key] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Remove(key string) bool {
	_, ok := s.values[key]
	delete(s.values, key)
	delete(s.dirty, key)
	return ok
}

func (s *MemoryStore) Clear() {
	s.values = make(map[string]any)
	s.dirty = make(map[string]struct{})
}

func (s *MemoryStore) Keys() []string {
	set := make(map[string]struct{}, len(s.values))
	for k := range s.values {
		set[k] = struct{}{}
	}
	return sortedKeys(set)
}

// Persist snapshots dirty values into Persisted.
func (s *MemoryStore) Persist() error {
	for k := range s.dirty {
		if v, ok := s.values[k]; ok {
			s.persisted[k] = v
		}
	}
	s.dirty = make(map[string]struct{})
	return nil
}

// Persisted returns what the last Persist calls wrote.
func (s *MemoryStore) Persisted() map[string]any {
	out := make(map[string]any, len(s.persisted))
	for k, v := range s.persisted {
		out[k] = v
	}
	return out
}
