package domain

import (
	"fmt"

	"github.com/priyankagnana/Kanvo/ordering"
)

// ReservedIDPrefix starts the row keys of scope markers. No board, section
// or task id may use it.
const ReservedIDPrefix = "scope~"

// ScopeKind names one of the ordered collections.
type ScopeKind string

const (
	ScopeBoards     ScopeKind = "boards"
	ScopeFavourites ScopeKind = "favourites"
	ScopeTasks      ScopeKind = "tasks"
)

// Scope identifies one ordered collection. Owner is the user id for boards
// and favourites and the board id for tasks; Section is set only for tasks.
type Scope struct {
	Kind    ScopeKind `json:"kind"`
	Owner   string    `json:"ownerId"`
	Section string    `json:"scopeId,omitempty"`
}

func BoardsScope(userID string) Scope     { return Scope{Kind: ScopeBoards, Owner: userID} }
func FavouritesScope(userID string) Scope { return Scope{Kind: ScopeFavourites, Owner: userID} }
func TasksScope(boardID, sectionID string) Scope {
	return Scope{Kind: ScopeTasks, Owner: boardID, Section: sectionID}
}

// Validate checks that the scope is addressable.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeBoards, ScopeFavourites:
		if s.Owner == "" {
			return invalid("%s scope without owner", s.Kind)
		}
	case ScopeTasks:
		if s.Owner == "" || s.Section == "" {
			return invalid("tasks scope needs board and section")
		}
	default:
		return invalid("unknown scope kind %q", s.Kind)
	}
	return nil
}

func (s Scope) String() string {
	if s.Kind == ScopeTasks {
		return fmt.Sprintf("%s/%s/%s", s.Kind, s.Owner, s.Section)
	}
	return fmt.Sprintf("%s/%s", s.Kind, s.Owner)
}

// ScopeBatch carries position assignments for members of one scope. Reorders
// send the whole scope, compactions only the rows that move. When
// ExpectedVersion is set the write is rejected with ErrConcurrencyConflict
// unless the scope is still at that version.
type ScopeBatch struct {
	Scope           Scope
	Assignments     []ordering.Assignment
	ExpectedVersion *int64
	// UserID owns the scope. Boards and favourites default to Scope.Owner;
	// tasks batches set it so a later repair can notify the board's owner.
	UserID string
}

// User returns the user owning the batch's scope, empty when unknown.
func (b ScopeBatch) User() string {
	if b.UserID != "" || b.Scope.Kind == ScopeTasks {
		return b.UserID
	}
	return b.Scope.Owner
}

// ScopeVersions maps each written scope to its version after the write.
type ScopeVersions map[Scope]int64
