// Package ordering holds the dense position rules shared by every ordered
// collection in Kanvo: boards of a user, favourites of a user and tasks of a
// section.
//
// Clients always talk in display order (top of the list first). Storage keeps
// the inverse: the bottom item has position 0 and the top item has position
// N-1, so a display list is rebuilt by sorting positions descending. Reindex
// and DisplayOrder are the only two places that know about that inversion.
package ordering

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateItem is returned when a display list names an item twice.
	ErrDuplicateItem = errors.New("duplicate item in ordered list")
	// ErrEmptyID is returned when a display list contains a blank id.
	ErrEmptyID = errors.New("empty item id in ordered list")
	// ErrIndexOutOfRange is returned by Move and Transfer for a bad source index.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Assignment is the stored position computed for one member of a scope.
type Assignment struct {
	ID       string
	Position int
}

// Item is a persisted member of a scope as read back from storage.
type Item struct {
	ID       string
	Position int
}

// Reindex converts a complete scope given in display order into stored
// positions. The last displayed item receives 0 and the first receives
// len(displayOrder)-1. The input slice is not modified.
func Reindex(displayOrder []string) []Assignment {
	n := len(displayOrder)
	out := make([]Assignment, n)
	for i := range displayOrder {
		out[i] = Assignment{ID: displayOrder[n-1-i], Position: i}
	}
	return out
}

// Validate reports whether displayOrder can be reindexed into a dense scope.
func Validate(displayOrder []string) error {
	seen := make(map[string]struct{}, len(displayOrder))
	for i, id := range displayOrder {
		if id == "" {
			return fmt.Errorf("%w at index %d", ErrEmptyID, i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// DisplayOrder returns the ids of items sorted by position descending.
// Duplicate positions, which a partially applied batch can leave behind,
// keep their relative input order.
func DisplayOrder(items []Item) []string {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position > sorted[j].Position })
	ids := make([]string, len(sorted))
	for i, it := range sorted {
		ids[i] = it.ID
	}
	return ids
}

// Compact renumbers items densely while keeping their stored order
// (ascending position, stable on ties). It is the reindex used after an item
// left the scope. For distinct positions it equals Reindex(DisplayOrder(items)).
func Compact(items []Item) []Assignment {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	out := make([]Assignment, len(sorted))
	for i, it := range sorted {
		out[i] = Assignment{ID: it.ID, Position: i}
	}
	return out
}

// Changed filters assignments down to those whose position differs from the
// currently stored one. Unknown ids are always kept.
func Changed(assignments []Assignment, current []Item) []Assignment {
	stored := make(map[string]int, len(current))
	for _, it := range current {
		stored[it.ID] = it.Position
	}
	out := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		if pos, ok := stored[a.ID]; ok && pos == a.Position {
			continue
		}
		out = append(out, a)
	}
	return out
}

// IsDense reports whether positions is a permutation of 0..len(positions)-1.
func IsDense(positions []int) bool {
	seen := make([]bool, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(positions) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

// Move returns a copy of list with the element at from removed and
// re-inserted at to. A destination past the end appends.
func Move[T any](list []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(list) {
		return nil, fmt.Errorf("%w: source %d of %d", ErrIndexOutOfRange, from, len(list))
	}
	out := make([]T, 0, len(list))
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)
	return insertAt(out, list[from], to), nil
}

// Transfer removes the element at from in src and inserts it at to in dst.
// Both results are fresh slices; the inputs are left untouched.
func Transfer[T any](src, dst []T, from, to int) ([]T, []T, error) {
	if from < 0 || from >= len(src) {
		return nil, nil, fmt.Errorf("%w: source %d of %d", ErrIndexOutOfRange, from, len(src))
	}
	moved := src[from]
	newSrc := make([]T, 0, len(src)-1)
	newSrc = append(newSrc, src[:from]...)
	newSrc = append(newSrc, src[from+1:]...)
	newDst := make([]T, len(dst), len(dst)+1)
	copy(newDst, dst)
	return newSrc, insertAt(newDst, moved, to), nil
}

func insertAt[T any](list []T, item T, at int) []T {
	if at < 0 {
		at = 0
	}
	if at >= len(list) {
		return append(list, item)
	}
	list = append(list, item)
	copy(list[at+1:], list[at:len(list)-1])
	list[at] = item
	return list
}
