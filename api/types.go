package api

import (
	"context"

	"github.com/priyankagnana/Kanvo/domain"
)

// Boards abstracts board writes and the two board orderings.
type Boards interface {
	Create(ctx context.Context, userID string) (domain.Board, error)
	Update(ctx context.Context, userID, boardID string, upd domain.BoardUpdate) (domain.Board, error)
	Delete(ctx context.Context, userID, boardID string) error
	ReorderBoards(ctx context.Context, userID string, req domain.ReorderRequest) (int64, error)
	ReorderFavourites(ctx context.Context, userID string, req domain.ReorderRequest) (int64, error)
}

// BoardViews serves board reads, possibly through a cache.
type BoardViews interface {
	List(ctx context.Context, userID string) (domain.BoardList, error)
	Favourites(ctx context.Context, userID string) (domain.BoardList, error)
	Get(ctx context.Context, userID, boardID string) (domain.BoardDetail, error)
}

// Sections abstracts section handling.
type Sections interface {
	Create(ctx context.Context, userID, boardID string) (domain.SectionDetail, error)
	Rename(ctx context.Context, userID, boardID, sectionID, title string) (domain.Section, error)
	Delete(ctx context.Context, userID, boardID, sectionID string) error
}

// Tasks abstracts task handling and task drags.
type Tasks interface {
	Create(ctx context.Context, userID, boardID, sectionID string) (domain.Task, error)
	Update(ctx context.Context, userID, boardID, taskID string, upd domain.TaskUpdate) (domain.Task, error)
	Delete(ctx context.Context, userID, boardID, taskID string) error
	UpdatePositions(ctx context.Context, userID, boardID string, upd domain.PositionUpdate) (domain.ScopeVersions, error)
	Search(ctx context.Context, userID, boardID string, q domain.TaskQuery) (domain.TaskPage, error)
}

// Evictor drops cached views after a write.
type Evictor interface {
	Evict(ctx context.Context, userID string, boardIDs ...string)
	EvictBoard(ctx context.Context, userID, boardID string)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate reorder requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the request fails.
	Remove(ctx context.Context, userID, key string) error
}

// Services bundles everything the handlers call. Views defaults to Boards
// when it implements BoardViews. Cache, Deduper, Updates and Stream are
// optional; without Updates changes are published to Stream directly.
type Services struct {
	Boards   Boards
	Views    BoardViews
	Sections Sections
	Tasks    Tasks
	Cache    Evictor
	Deduper  Deduper
	Updates  Publisher
	Stream   *UpdateBroker
}
