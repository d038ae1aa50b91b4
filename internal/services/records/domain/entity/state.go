// Package entity implements the generic record reducer shared by every
// manager: id assignment, existence checks and an optional secondary
// uniqueness key.
package entity

import (
	"slices"
	"strings"
)

// Schema describes how the reducer reads and writes a record type.
type Schema[T any] struct {
	// Name prefixes command types, as in "user.create".
	Name string
	ID   func(T) uint64
	// SetID stamps the assigned id onto a record.
	SetID func(*T, uint64)
	// Key returns the secondary uniqueness key. Nil when the record has none.
	Key func(T) string
	// ConflictMessage is reported when a key is already taken.
	ConflictMessage string
	// Validate rejects malformed records before they are journaled.
	Validate func(T) error
}

// State is the in-memory table for one record type.
type State[T any] struct {
	NextID  uint64
	Records map[uint64]T
	Keys    map[string]uint64
}

// NewState returns an empty table whose first id is 1.
func NewState[T any]() *State[T] {
	return &State[T]{
		NextID:  1,
		Records: make(map[uint64]T),
		Keys:    make(map[string]uint64),
	}
}

// Find returns the record with id.
func (s *State[T]) Find(id uint64) (T, bool) {
	record, ok := s.Records[id]
	return record, ok
}

// FindByKey returns the record owning key. Keys compare case-insensitively.
func (s *State[T]) FindByKey(key string) (T, bool) {
	id, ok := s.Keys[NormalizeKey(key)]
	if !ok {
		var zero T
		return zero, false
	}
	return s.Find(id)
}

// All returns every live record in ascending id order, which is the order
// they were created in. The result is never nil.
func (s *State[T]) All() []T {
	ids := s.ids()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Records[id])
	}
	return out
}

// Len returns the number of live records.
func (s *State[T]) Len() int {
	return len(s.Records)
}

func (s *State[T]) ids() []uint64 {
	ids := make([]uint64, 0, len(s.Records))
	for id := range s.Records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NormalizeKey folds a uniqueness key to its indexed form.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
