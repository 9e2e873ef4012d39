package domain

import "time"

const (
	DefaultBoardIcon        = "📃"
	DefaultBoardTitle       = "Untitled"
	DefaultBoardDescription = "Add description here"
)

// Board is a kanban board owned by a single user. Position orders the
// user's boards, FavouritePosition orders the favourite subset; both use the
// stored (bottom-up) convention of package ordering.
type Board struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user"`
	Icon              string    `json:"icon"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Position          int       `json:"position"`
	Favourite         bool      `json:"favourite"`
	FavouritePosition int       `json:"favouritePosition"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// BoardUpdate carries a partial board edit. FavouritePosition is never read
// from clients; the favourites synchronizer fills it in.
type BoardUpdate struct {
	Icon              *string `json:"icon,omitempty"`
	Title             *string `json:"title,omitempty"`
	Description       *string `json:"description,omitempty"`
	Favourite         *bool   `json:"favourite,omitempty"`
	FavouritePosition *int    `json:"-"`
}

// Empty reports whether the update touches no field at all.
func (u BoardUpdate) Empty() bool {
	return u.Icon == nil && u.Title == nil && u.Description == nil && u.Favourite == nil && u.FavouritePosition == nil
}

func (u BoardUpdate) apply(b *Board) {
	if u.Icon != nil {
		b.Icon = *u.Icon
	}
	if u.Title != nil {
		b.Title = *u.Title
	}
	if u.Description != nil {
		b.Description = *u.Description
	}
	if u.Favourite != nil {
		b.Favourite = *u.Favourite
	}
	if u.FavouritePosition != nil {
		b.FavouritePosition = *u.FavouritePosition
	}
}

// BoardDetail is the full board fetch: sections in creation order, each with
// its tasks in display order.
type BoardDetail struct {
	Board
	Sections []SectionDetail `json:"sections"`
}

// Section is a column of a board. Sections themselves are not reordered.
type Section struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// SectionDetail is a section with its tasks in display order.
type SectionDetail struct {
	Section
	Tasks   []Task `json:"tasks"`
	Version int64  `json:"version"`
}

// ReorderRequest is a complete or partial scope in display order.
// Version, when set, must match the scope's stored version.
type ReorderRequest struct {
	IDs     []string
	Version *int64
}
