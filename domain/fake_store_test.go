package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/priyankagnana/Kanvo/ordering"
)

type fakeStore struct {
	mu       sync.Mutex
	boards   map[string]Board
	sections map[string]Section
	tasks    map[string]Task
	versions map[Scope]int64

	// failAfterRows makes the next WritePositions commit that many rows and
	// then fail with a PartialWriteError. Negative disables it.
	failAfterRows int
	writeErr      error
	writes        [][]ScopeBatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		boards:        map[string]Board{},
		sections:      map[string]Section{},
		tasks:         map[string]Task{},
		versions:      map[Scope]int64{},
		failAfterRows: -1,
	}
}

func (f *fakeStore) ListBoards(ctx context.Context, userID string) ([]Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Board
	for _, b := range f.boards {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sortByID(out, func(b Board) string { return b.ID })
	return out, nil
}

func (f *fakeStore) GetBoard(ctx context.Context, userID, boardID string) (Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[boardID]
	if !ok || b.UserID != userID {
		return Board{}, notFound("board", boardID)
	}
	return b, nil
}

func (f *fakeStore) InsertBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[b.ID]; ok {
		return fmt.Errorf("board %s exists: %w", b.ID, ErrConcurrencyConflict)
	}
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) UpdateBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[b.ID]; !ok {
		return notFound("board", b.ID)
	}
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) DeleteBoard(ctx context.Context, userID, boardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, boardID)
	return nil
}

func (f *fakeStore) ListSections(ctx context.Context, boardID string) ([]Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Section
	for _, s := range f.sections {
		if s.BoardID == boardID {
			out = append(out, s)
		}
	}
	sortByID(out, func(s Section) string { return s.ID })
	return out, nil
}

func (f *fakeStore) GetSection(ctx context.Context, boardID, sectionID string) (Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sections[sectionID]
	if !ok || s.BoardID != boardID {
		return Section{}, notFound("section", sectionID)
	}
	return s, nil
}

func (f *fakeStore) InsertSection(ctx context.Context, s Section) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sections[s.ID] = s
	return nil
}

func (f *fakeStore) UpdateSection(ctx context.Context, s Section) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sections[s.ID] = s
	return nil
}

func (f *fakeStore) DeleteSections(ctx context.Context, boardID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.sections, id)
		delete(f.versions, TasksScope(boardID, id))
	}
	return nil
}

func (f *fakeStore) ListTasks(ctx context.Context, boardID string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Task
	for _, t := range f.tasks {
		if t.BoardID == boardID {
			out = append(out, t)
		}
	}
	sortByID(out, func(t Task) string { return t.ID })
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, boardID, taskID string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok || t.BoardID != boardID {
		return Task{}, notFound("task", taskID)
	}
	return t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[t.ID]; !ok {
		return notFound("task", t.ID)
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTasks(ctx context.Context, boardID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.tasks, id)
	}
	return nil
}

func (f *fakeStore) ScopeVersion(ctx context.Context, scope Scope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[scope], nil
}

func (f *fakeStore) WritePositions(ctx context.Context, batches []ScopeBatch) (ScopeVersions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, batches)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	total := 0
	for _, b := range batches {
		if b.ExpectedVersion != nil && *b.ExpectedVersion != f.versions[b.Scope] {
			return nil, fmt.Errorf("scope %s at version %d: %w", b.Scope, f.versions[b.Scope], ErrConcurrencyConflict)
		}
		for _, a := range b.Assignments {
			if !f.member(b.Scope, a.ID) {
				return nil, notFound("item", a.ID)
			}
		}
		total += len(b.Assignments)
	}

	written := 0
	versions := ScopeVersions{}
	for _, b := range batches {
		for _, a := range b.Assignments {
			if f.failAfterRows >= 0 && written == f.failAfterRows {
				f.failAfterRows = -1
				return nil, &PartialWriteError{Committed: written, Total: total, Err: errors.New("transaction chunk failed")}
			}
			f.apply(b.Scope, a)
			written++
		}
		f.versions[b.Scope]++
		versions[b.Scope] = f.versions[b.Scope]
	}
	return versions, nil
}

func (f *fakeStore) member(scope Scope, id string) bool {
	switch scope.Kind {
	case ScopeBoards, ScopeFavourites:
		b, ok := f.boards[id]
		return ok && b.UserID == scope.Owner
	default:
		t, ok := f.tasks[id]
		return ok && t.BoardID == scope.Owner
	}
}

func (f *fakeStore) apply(scope Scope, a ordering.Assignment) {
	switch scope.Kind {
	case ScopeBoards:
		b := f.boards[a.ID]
		b.Position = a.Position
		f.boards[a.ID] = b
	case ScopeFavourites:
		b := f.boards[a.ID]
		b.FavouritePosition = a.Position
		f.boards[a.ID] = b
	case ScopeTasks:
		t := f.tasks[a.ID]
		t.Position = a.Position
		t.SectionID = scope.Section
		f.tasks[a.ID] = t
	}
}

func sortByID[T any](list []T, id func(T) string) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && id(list[j]) < id(list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

type fakeRepairQueue struct {
	mu     sync.Mutex
	scopes []Scope
	users  []string
	err    error
}

func (q *fakeRepairQueue) EnqueueRepair(ctx context.Context, userID string, scope Scope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.scopes = append(q.scopes, scope)
	q.users = append(q.users, userID)
	return nil
}

// seedBoards stores boards for user u with the given display order, so the
// first id ends up with the highest position.
func (f *fakeStore) seedBoards(userID string, displayOrder ...string) {
	for _, a := range ordering.Reindex(displayOrder) {
		f.boards[a.ID] = Board{ID: a.ID, UserID: userID, Title: a.ID, Position: a.Position}
	}
}

// seedTasks stores tasks of one section in the given display order.
func (f *fakeStore) seedTasks(boardID, sectionID string, displayOrder ...string) {
	if _, ok := f.sections[sectionID]; !ok {
		f.sections[sectionID] = Section{ID: sectionID, BoardID: boardID}
	}
	for _, a := range ordering.Reindex(displayOrder) {
		f.tasks[a.ID] = Task{ID: a.ID, BoardID: boardID, SectionID: sectionID, Title: a.ID, Position: a.Position, Priority: PriorityMedium, Status: StatusTodo}
	}
}

func (f *fakeStore) favourite(boardID string, pos int) {
	b := f.boards[boardID]
	b.Favourite = true
	b.FavouritePosition = pos
	f.boards[boardID] = b
}

func (f *fakeStore) sectionDisplay(boardID, sectionID string) []string {
	var items []ordering.Item
	for _, t := range f.tasks {
		if t.BoardID == boardID && t.SectionID == sectionID {
			items = append(items, ordering.Item{ID: t.ID, Position: t.Position})
		}
	}
	sortByID(items, func(it ordering.Item) string { return it.ID })
	return ordering.DisplayOrder(items)
}

func (f *fakeStore) sectionPositions(boardID, sectionID string) []int {
	var out []int
	for _, t := range f.tasks {
		if t.BoardID == boardID && t.SectionID == sectionID {
			out = append(out, t.Position)
		}
	}
	return out
}

func (f *fakeStore) favouritePositions(userID string) map[string]int {
	out := map[string]int{}
	for _, b := range f.boards {
		if b.UserID == userID && b.Favourite {
			out[b.ID] = b.FavouritePosition
		}
	}
	return out
}
