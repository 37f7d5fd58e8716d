package variables

import (
	"sort"
)

// Names that are always resolvable without being set by a test unit.
const (
	TestRunHash  = "testRunHash"
	RandomHash   = "random.hash"
	RandomNumber = "random.number"
	DateTimeNow  = "dateTime.now"
)

// Predefined returns the variable names a test unit may read before any
// unit has written them.
func Predefined() []string {
	return []string{TestRunHash, RandomHash, RandomNumber, DateTimeNow}
}

// Store holds the values threaded between the test units of one run.
// A run owns exactly one Store and hands it to units one at a time,
// so it is not synchronized.
type Store struct {
	values map[string]any
}

// NewStore creates an empty variable store
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Set stores a value with the given key
func (s *Store) Set(key string, value any) {
	s.values[key] = value
}

// Get retrieves a value by key
func (s *Store) Get(key string) (any, bool) {
	val, ok := s.values[key]
	return val, ok
}

// Merge copies every entry of values into the store, overwriting existing keys.
func (s *Store) Merge(values map[string]any) {
	for k, v := range values {
		s.values[k] = v
	}
}

// Names returns the stored keys in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Len() int { return len(s.values) }
