package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/ordering"
)

// BoardList is an ordered board scope together with its version.
type BoardList struct {
	Boards  []Board `json:"boards"`
	Version int64   `json:"version"`
}

// BoardService implements board CRUD and the two board orderings.
type BoardService struct {
	store      Store
	reindexer  *Reindexer
	favourites favouritesSync
	now        func() time.Time
	newID      func() string
}

// NewBoardService wires a BoardService.
func NewBoardService(store Store, reindexer *Reindexer) *BoardService {
	return &BoardService{
		store:      store,
		reindexer:  reindexer,
		favourites: favouritesSync{store: store, reindexer: reindexer},
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Create adds a board on top of the user's list.
func (s *BoardService) Create(ctx context.Context, userID string) (Board, error) {
	if userID == "" {
		return Board{}, invalid("missing user")
	}
	boards, err := s.store.ListBoards(ctx, userID)
	if err != nil {
		return Board{}, err
	}
	now := s.now().UTC()
	b := Board{
		ID:          s.newID(),
		UserID:      userID,
		Icon:        DefaultBoardIcon,
		Title:       DefaultBoardTitle,
		Description: DefaultBoardDescription,
		Position:    len(boards),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertBoard(ctx, b); err != nil {
		return Board{}, err
	}
	log.WithFields(log.Fields{"userId": userID, "boardId": b.ID, "position": b.Position}).Info("board created")
	return b, nil
}

// List returns the user's boards in display order.
func (s *BoardService) List(ctx context.Context, userID string) (BoardList, error) {
	boards, err := s.store.ListBoards(ctx, userID)
	if err != nil {
		return BoardList{}, err
	}
	version, err := s.store.ScopeVersion(ctx, BoardsScope(userID))
	if err != nil {
		return BoardList{}, err
	}
	return BoardList{Boards: byDisplayOrder(boards, boardPosition), Version: version}, nil
}

// Favourites returns the user's favourite boards in display order.
func (s *BoardService) Favourites(ctx context.Context, userID string) (BoardList, error) {
	boards, err := s.store.ListBoards(ctx, userID)
	if err != nil {
		return BoardList{}, err
	}
	favs := boards[:0:0]
	for _, b := range boards {
		if b.Favourite {
			favs = append(favs, b)
		}
	}
	version, err := s.store.ScopeVersion(ctx, FavouritesScope(userID))
	if err != nil {
		return BoardList{}, err
	}
	return BoardList{Boards: byDisplayOrder(favs, boardFavouritePosition), Version: version}, nil
}

// Get returns a board with its sections in creation order and each
// section's tasks in display order.
func (s *BoardService) Get(ctx context.Context, userID, boardID string) (BoardDetail, error) {
	b, err := s.store.GetBoard(ctx, userID, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	sections, err := s.store.ListSections(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].CreatedAt.Before(sections[j].CreatedAt) })

	bySection := make(map[string][]Task, len(sections))
	for _, t := range tasks {
		bySection[t.SectionID] = append(bySection[t.SectionID], t)
	}
	detail := BoardDetail{Board: b, Sections: make([]SectionDetail, 0, len(sections))}
	for _, sec := range sections {
		version, err := s.store.ScopeVersion(ctx, TasksScope(boardID, sec.ID))
		if err != nil {
			return BoardDetail{}, err
		}
		detail.Sections = append(detail.Sections, SectionDetail{
			Section: sec,
			Tasks:   byDisplayOrder(bySection[sec.ID], taskPosition),
			Version: version,
		})
	}
	return detail, nil
}

// Update applies a partial edit. A favourite toggle runs the favourites
// synchronizer before the board row is written.
func (s *BoardService) Update(ctx context.Context, userID, boardID string, upd BoardUpdate) (Board, error) {
	current, err := s.store.GetBoard(ctx, userID, boardID)
	if err != nil {
		return Board{}, err
	}
	if upd.Title != nil && *upd.Title == "" {
		title := DefaultBoardTitle
		upd.Title = &title
	}
	if upd.Description != nil && *upd.Description == "" {
		desc := DefaultBoardDescription
		upd.Description = &desc
	}
	upd.FavouritePosition = nil
	if err := s.favourites.prepare(ctx, current, &upd); err != nil {
		return Board{}, err
	}
	if upd.Empty() {
		return current, nil
	}
	next := current
	upd.apply(&next)
	next.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBoard(ctx, next); err != nil {
		return Board{}, err
	}
	return next, nil
}

// Delete removes a board with its sections and tasks and closes the gaps it
// leaves in the favourites and boards scopes.
func (s *BoardService) Delete(ctx context.Context, userID, boardID string) error {
	b, err := s.store.GetBoard(ctx, userID, boardID)
	if err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTasks(ctx, boardID, taskIDs(tasks)); err != nil {
		return err
	}
	sections, err := s.store.ListSections(ctx, boardID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSections(ctx, boardID, sectionIDs(sections)); err != nil {
		return err
	}
	if b.Favourite {
		if err := s.favourites.compactWithout(ctx, userID, boardID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteBoard(ctx, userID, boardID); err != nil {
		return err
	}
	batch, err := compactionBatch(ctx, s.store, BoardsScope(userID), boardID)
	if err != nil {
		return err
	}
	if len(batch.Assignments) > 0 {
		if _, err := s.reindexer.Apply(ctx, batch); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"userId": userID, "boardId": boardID, "tasks": len(tasks), "sections": len(sections)}).Info("board deleted")
	return nil
}

// ReorderBoards persists the user's complete board list given in display
// order and returns the new scope version.
func (s *BoardService) ReorderBoards(ctx context.Context, userID string, req ReorderRequest) (int64, error) {
	return s.reorder(ctx, BoardsScope(userID), req)
}

// ReorderFavourites persists the user's complete favourites list given in
// display order and returns the new scope version.
func (s *BoardService) ReorderFavourites(ctx context.Context, userID string, req ReorderRequest) (int64, error) {
	return s.reorder(ctx, FavouritesScope(userID), req)
}

func (s *BoardService) reorder(ctx context.Context, scope Scope, req ReorderRequest) (int64, error) {
	batch, err := FromDisplayOrder(scope, req.IDs, req.Version)
	if err != nil {
		return 0, err
	}
	versions, err := s.reindexer.Apply(ctx, batch)
	if err != nil {
		return 0, err
	}
	return versions[scope], nil
}

// byDisplayOrder sorts list by position descending, stable on ties.
func byDisplayOrder[T any](list []T, key func(T) (string, int)) []T {
	items := make([]ordering.Item, len(list))
	index := make(map[string]T, len(list))
	for i, v := range list {
		id, pos := key(v)
		items[i] = ordering.Item{ID: id, Position: pos}
		index[id] = v
	}
	out := make([]T, 0, len(list))
	for _, id := range ordering.DisplayOrder(items) {
		out = append(out, index[id])
	}
	return out
}

func boardPosition(b Board) (string, int)          { return b.ID, b.Position }
func boardFavouritePosition(b Board) (string, int) { return b.ID, b.FavouritePosition }
func taskPosition(t Task) (string, int)            { return t.ID, t.Position }

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func sectionIDs(sections []Section) []string {
	ids := make([]string, len(sections))
	for i, s := range sections {
		ids[i] = s.ID
	}
	return ids
}
