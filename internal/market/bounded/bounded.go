// Package bounded implements the fixed-capacity "keep the last N" lists the
// ledger uses for its derived indexes.
//
// Lists are plain slices. Every mutating function returns a fresh slice and
// never writes into the backing array of its input, so a list shared between
// a committed snapshot and a staged copy of it can be mutated on the staged
// side without affecting the committed one.
package bounded

import (
	"errors"
	"slices"
)

// Policy decides what happens when a push would exceed a list's capacity.
type Policy int

const (
	// EvictOldest drops the oldest entry to make room.
	EvictOldest Policy = iota
	// RejectNew refuses the push with ErrFull.
	RejectNew
)

func (p Policy) String() string {
	switch p {
	case EvictOldest:
		return "evict_oldest"
	case RejectNew:
		return "reject_new"
	default:
		return "unknown"
	}
}

// ErrFull is returned by Push on a RejectNew list at capacity.
var ErrFull = errors.New("bounded list full")

// Bound names the capacity and overflow policy of one index.
type Bound struct {
	Cap    int
	Policy Policy
}

// Push appends v. At capacity the oldest entries are evicted or the push is
// rejected, according to b.Policy.
func Push[T any](list []T, b Bound, v T) ([]T, error) {
	if b.Cap <= 0 {
		return list, ErrFull
	}
	if len(list) >= b.Cap {
		if b.Policy == RejectNew {
			return list, ErrFull
		}
		keep := list[len(list)-b.Cap+1:]
		out := make([]T, 0, b.Cap)
		out = append(out, keep...)
		return append(out, v), nil
	}
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	return append(out, v), nil
}

// PushUnique is Push that leaves the list untouched when v is already in it.
func PushUnique[T comparable](list []T, b Bound, v T) ([]T, error) {
	if slices.Contains(list, v) {
		return list, nil
	}
	return Push(list, b, v)
}

// Remove returns the list without any occurrence of v.
func Remove[T comparable](list []T, v T) []T {
	if !slices.Contains(list, v) {
		return list
	}
	out := make([]T, 0, len(list)-1)
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Move removes v from one list and pushes it onto another. The source list is
// returned unchanged if the push fails.
func Move[T comparable](from, to []T, b Bound, v T) (newFrom, newTo []T, err error) {
	newTo, err = PushUnique(to, b, v)
	if err != nil {
		return from, to, err
	}
	return Remove(from, v), newTo, nil
}
