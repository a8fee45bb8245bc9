// Package ordering maintains dense 1-based position sequences for the active
// members of a sibling set (lists within a project, cards within a list).
// Callers read the current order inside a transaction, compute the new
// placement here, and apply it as a batch of position updates.
package ordering

import (
	"errors"
	"fmt"
)

var (
	// ErrUnchanged signals a reorder or move that would leave the sequence
	// exactly as it is. Callers reject it so stale clients notice.
	ErrUnchanged = errors.New("order did not change")

	// ErrCountMismatch signals a reorder request that does not cover the
	// active sibling set exactly once.
	ErrCountMismatch = errors.New("ordered ids must include every active item exactly once")
)

// UnknownIDError reports an id in a reorder request that is not an active
// sibling.
type UnknownIDError struct {
	ID string
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown id in requested order: %s", e.ID)
}

// DuplicateIDError reports an id supplied more than once in a reorder request.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id in requested order: %s", e.ID)
}

// Placement maps entity id to its new 1-based position.
type Placement map[string]int

// NextPosition returns the append position for a sibling set with the given
// number of active members.
func NextPosition(activeCount int) int {
	return activeCount + 1
}

// Positions assigns each id its 1-based index in the given order.
func Positions(order []string) Placement {
	placement := make(Placement, len(order))
	for index, id := range order {
		placement[id] = index + 1
	}
	return placement
}

// Reorder validates that requested is a permutation of current and returns the
// full new placement. Returns ErrCountMismatch, UnknownIDError, or
// DuplicateIDError on a bad set, and ErrUnchanged when requested equals
// current.
func Reorder(current, requested []string) (Placement, error) {
	if len(requested) != len(current) {
		return nil, ErrCountMismatch
	}

	known := make(map[string]bool, len(current))
	for _, id := range current {
		known[id] = true
	}

	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if !known[id] {
			return nil, &UnknownIDError{ID: id}
		}
		if seen[id] {
			return nil, &DuplicateIDError{ID: id}
		}
		seen[id] = true
	}

	if Same(current, requested) {
		return nil, ErrUnchanged
	}
	return Positions(requested), nil
}

// Remove returns order without id. The result is a fresh slice.
func Remove(order []string, id string) []string {
	result := make([]string, 0, len(order))
	for _, item := range order {
		if item != id {
			result = append(result, item)
		}
	}
	return result
}

// Insert places id into order at the requested 1-based position and returns
// the new sequence. A position of 0 or below clamps to the front; a position
// past the end clamps to an append. The requested position is advisory, never
// an error.
func Insert(order []string, id string, position int) []string {
	index := position - 1
	if index < 0 {
		index = 0
	}
	if index > len(order) {
		index = len(order)
	}

	result := make([]string, 0, len(order)+1)
	result = append(result, order[:index]...)
	result = append(result, id)
	result = append(result, order[index:]...)
	return result
}

// Same reports whether two orders are identical.
func Same(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
