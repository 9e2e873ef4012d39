package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/priyankagnana/Kanvo/domain"
	"github.com/priyankagnana/Kanvo/ordering"
)

func seedBoards(t *testing.T, ft fakeTables, userID string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		ft.boards.seed(fromBoard(domain.Board{ID: id, UserID: userID, Title: id, Position: len(ids) - 1 - i}))
	}
}

func seedTasks(t *testing.T, ft fakeTables, boardID, sectionID string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		ent, err := fromTask(domain.Task{ID: id, BoardID: boardID, SectionID: sectionID, Title: id, Position: len(ids) - 1 - i})
		if err != nil {
			t.Fatalf("encode task: %v", err)
		}
		ft.tasks.seed(ent)
	}
}

func assignments(ids ...string) []ordering.Assignment {
	return ordering.Reindex(ids)
}

func versionPtr(v int64) *int64 { return &v }

func TestWritePositionsBumpsScopeVersion(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1", "b2", "b3")
	scope := domain.BoardsScope("u1")

	versions, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b3", "b1", "b2")}})
	if err != nil {
		t.Fatalf("write positions: %v", err)
	}
	if versions[scope] != 1 {
		t.Fatalf("expected version 1, got %v", versions)
	}

	boards, err := s.ListBoards(ctx, "u1")
	if err != nil {
		t.Fatalf("list boards: %v", err)
	}
	got := map[string]int{}
	for _, b := range boards {
		got[b.ID] = b.Position
	}
	if want := map[string]int{"b3": 2, "b1": 1, "b2": 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected positions: %v", got)
	}

	versions, err = s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b1", "b2", "b3"), ExpectedVersion: versionPtr(1)}})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if versions[scope] != 2 {
		t.Fatalf("expected version 2, got %v", versions)
	}
	if v, err := s.ScopeVersion(ctx, scope); err != nil || v != 2 {
		t.Fatalf("scope version = %d, %v", v, err)
	}
}

func TestWritePositionsFavouritesTouchOnlyFavouritePosition(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1", "b2")

	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: domain.FavouritesScope("u1"), Assignments: assignments("b2", "b1")}}); err != nil {
		t.Fatalf("write positions: %v", err)
	}
	b2, err := s.GetBoard(ctx, "u1", "b2")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if b2.FavouritePosition != 1 || b2.Position != 0 {
		t.Fatalf("unexpected board positions: %+v", b2)
	}
	if v, _ := s.ScopeVersion(ctx, domain.BoardsScope("u1")); v != 0 {
		t.Fatalf("boards scope must not be bumped, got %d", v)
	}
}

func TestWritePositionsRejectsStaleVersionBeforeWriting(t *testing.T) {
	s, ft := newTestStorage()
	seedBoards(t, ft, "u1", "b1", "b2")

	_, err := s.WritePositions(context.Background(), []domain.ScopeBatch{{
		Scope:           domain.BoardsScope("u1"),
		Assignments:     assignments("b2", "b1"),
		ExpectedVersion: versionPtr(5),
	}})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(ft.boards.txns) != 0 {
		t.Fatalf("expected no transactions, got %d", len(ft.boards.txns))
	}
}

func manyTaskIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%03d", i)
	}
	return ids
}

func TestWritePositionsChunksLargeScopes(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	ids := manyTaskIDs(150)
	seedTasks(t, ft, "b1", "s1", ids...)

	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: domain.TasksScope("b1", "s1"), Assignments: assignments(reversed...)}}); err != nil {
		t.Fatalf("write positions: %v", err)
	}
	if len(ft.tasks.txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(ft.tasks.txns))
	}
	if n := len(ft.tasks.txns[0]); n != maxTransactionActions {
		t.Fatalf("first transaction has %d actions", n)
	}
	if n := len(ft.tasks.txns[1]); n != 51 {
		t.Fatalf("second transaction has %d actions", n)
	}

	tasks, err := s.ListTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 150 {
		t.Fatalf("expected 150 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		var idx int
		fmt.Sscanf(task.ID, "t%03d", &idx)
		if task.Position != idx {
			t.Fatalf("task %s at %d", task.ID, task.Position)
		}
	}
}

func TestWritePositionsReportsPartialWrite(t *testing.T) {
	s, ft := newTestStorage()
	ids := manyTaskIDs(150)
	seedTasks(t, ft, "b1", "s1", ids...)
	ft.tasks.failTxn = 1

	_, err := s.WritePositions(context.Background(), []domain.ScopeBatch{{Scope: domain.TasksScope("b1", "s1"), Assignments: assignments(ids...)}})
	var partial *domain.PartialWriteError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial write error, got %v", err)
	}
	if partial.Committed != 99 || partial.Total != 150 {
		t.Fatalf("unexpected counts: %+v", partial)
	}
	if v, _ := s.ScopeVersion(context.Background(), domain.TasksScope("b1", "s1")); v != 1 {
		t.Fatalf("version travels with the first chunk, got %d", v)
	}
}

func TestWritePositionsRetriesMarkerRace(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1", "b2")
	scope := domain.BoardsScope("u1")
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b1", "b2")}}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	_, markerKey := scopeKeys(scope)
	ft.boards.beforeTxn = func(f *fakeTable, index int) {
		if index == 1 {
			f.bumpMarker("u1", markerKey)
		}
	}
	versions, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b2", "b1")}})
	if err != nil {
		t.Fatalf("write after race: %v", err)
	}
	if versions[scope] != 2 {
		t.Fatalf("expected version 2, got %v", versions)
	}
	if len(ft.boards.txns) != 3 {
		t.Fatalf("expected one retried transaction, got %d total", len(ft.boards.txns))
	}
}

func TestWritePositionsMarkerRaceWithExpectedVersionConflicts(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1", "b2")
	scope := domain.BoardsScope("u1")
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b1", "b2")}}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	_, markerKey := scopeKeys(scope)
	ft.boards.beforeTxn = func(f *fakeTable, index int) {
		if index == 1 {
			f.bumpMarker("u1", markerKey)
		}
	}
	_, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b2", "b1"), ExpectedVersion: versionPtr(1)}})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(ft.boards.txns) != 2 {
		t.Fatalf("versioned writes must not retry, got %d transactions", len(ft.boards.txns))
	}
}

func TestWritePositionsRetriesWhenMarkerCreatedConcurrently(t *testing.T) {
	s, ft := newTestStorage()
	seedBoards(t, ft, "u1", "b1", "b2")
	scope := domain.BoardsScope("u1")
	pk, rk := scopeKeys(scope)
	ft.boards.beforeTxn = func(f *fakeTable, index int) {
		if index == 0 {
			f.seed(scopeEntity{entityKeys: entityKeys{PartitionKey: pk, RowKey: rk}, Kind: kindScope, Version: 7, VersionType: edmInt64})
		}
	}

	versions, err := s.WritePositions(context.Background(), []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b2", "b1")}})
	if err != nil {
		t.Fatalf("write positions: %v", err)
	}
	if versions[scope] != 8 {
		t.Fatalf("expected version 8, got %v", versions)
	}
}

func TestWritePositionsGivesUpAfterRepeatedRaces(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1")
	scope := domain.BoardsScope("u1")
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b1")}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, markerKey := scopeKeys(scope)
	ft.boards.beforeTxn = func(f *fakeTable, index int) { f.bumpMarker("u1", markerKey) }

	_, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("b1")}})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got, want := len(ft.boards.txns), 1+1+s.maxConflictRetries; got != want {
		t.Fatalf("expected %d transactions, got %d", want, got)
	}
}

func TestWritePositionsUnknownMemberWritesNothing(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1", "b2")

	_, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: domain.BoardsScope("u1"), Assignments: assignments("ghost", "b1", "b2")}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	b1, err := s.GetBoard(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if b1.Position != 1 {
		t.Fatalf("b1 moved to %d", b1.Position)
	}
	if v, _ := s.ScopeVersion(ctx, domain.BoardsScope("u1")); v != 0 {
		t.Fatalf("version bumped to %d", v)
	}
}

func TestWritePositionsMovesTaskAcrossSections(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedTasks(t, ft, "b1", "s1", "t1", "t2")
	seedTasks(t, ft, "b1", "s2", "t3")

	from, to := domain.TasksScope("b1", "s1"), domain.TasksScope("b1", "s2")
	versions, err := s.WritePositions(ctx, []domain.ScopeBatch{
		{Scope: from, Assignments: assignments("t2")},
		{Scope: to, Assignments: assignments("t1", "t3")},
	})
	if err != nil {
		t.Fatalf("write positions: %v", err)
	}
	if versions[from] != 1 || versions[to] != 1 {
		t.Fatalf("unexpected versions: %v", versions)
	}
	if len(ft.tasks.txns) != 1 {
		t.Fatalf("cross-section move must be one transaction, got %d", len(ft.tasks.txns))
	}

	moved, err := s.GetTask(ctx, "b1", "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if moved.SectionID != "s2" || moved.Position != 1 {
		t.Fatalf("unexpected moved task: %+v", moved)
	}
	left, _ := s.GetTask(ctx, "b1", "t2")
	if left.SectionID != "s1" || left.Position != 0 {
		t.Fatalf("unexpected remaining task: %+v", left)
	}
}

func TestWritePositionsRejectsMixedPartitions(t *testing.T) {
	s, _ := newTestStorage()
	ctx := context.Background()

	cases := map[string][]domain.ScopeBatch{
		"two users":        {{Scope: domain.BoardsScope("u1")}, {Scope: domain.BoardsScope("u2")}},
		"boards and tasks": {{Scope: domain.BoardsScope("b1")}, {Scope: domain.TasksScope("b1", "s1")}},
		"unknown kind":     {{Scope: domain.Scope{Kind: "columns", Owner: "u1"}}},
	}
	for name, batches := range cases {
		if _, err := s.WritePositions(ctx, batches); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestWritePositionsRefusesScopeMarkerRows(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1")
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: domain.BoardsScope("u1"), Assignments: assignments("b1")}}); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	batch := domain.ScopeBatch{Scope: domain.BoardsScope("u1"), Assignments: assignments("b1", scopeRowPrefix+"boards")}
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{batch}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if v, err := s.ScopeVersion(ctx, domain.BoardsScope("u1")); err != nil || v != 1 {
		t.Fatalf("marker changed: %d %v", v, err)
	}
}

func TestScopeRowsAreHiddenFromReads(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	seedBoards(t, ft, "u1", "b1", "b2")
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: domain.BoardsScope("u1"), Assignments: assignments("b1", "b2")}}); err != nil {
		t.Fatalf("write positions: %v", err)
	}

	boards, err := s.ListBoards(ctx, "u1")
	if err != nil {
		t.Fatalf("list boards: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("expected 2 boards, got %d", len(boards))
	}
	_, rk := scopeKeys(domain.BoardsScope("u1"))
	if _, err := s.GetBoard(ctx, "u1", rk); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for marker row, got %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s, _ := newTestStorage()
	ctx := context.Background()
	created := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	due := created.Add(72 * time.Hour)
	task := domain.Task{
		ID:        "t1",
		BoardID:   "b1",
		SectionID: "s1",
		Title:     "Write docs",
		Content:   "<p>draft</p>",
		Position:  3,
		Priority:  domain.PriorityHigh,
		Status:    domain.StatusInProgress,
		Tags:      []string{"docs", "q2"},
		DueDate:   &due,
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	got, err := s.GetTask(ctx, "b1", "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !reflect.DeepEqual(got, task) {
		t.Fatalf("unexpected task:\n got %#v\nwant %#v", got, task)
	}
	if err := s.InsertTask(ctx, task); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("duplicate insert should conflict, got %v", err)
	}
}

func TestDeleteSectionsDropsScopeMarkers(t *testing.T) {
	s, ft := newTestStorage()
	ctx := context.Background()
	ft.sections.seed(fromSection(domain.Section{ID: "s1", BoardID: "b1", Title: "Todo"}))
	seedTasks(t, ft, "b1", "s1", "t1")
	scope := domain.TasksScope("b1", "s1")
	if _, err := s.WritePositions(ctx, []domain.ScopeBatch{{Scope: scope, Assignments: assignments("t1")}}); err != nil {
		t.Fatalf("write positions: %v", err)
	}

	if err := s.DeleteSections(ctx, "b1", []string{"s1"}); err != nil {
		t.Fatalf("delete sections: %v", err)
	}
	if _, err := s.GetSection(ctx, "b1", "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected section to be gone, got %v", err)
	}
	pk, rk := scopeKeys(scope)
	if ft.tasks.row(pk, rk) != nil {
		t.Fatalf("scope marker should be deleted")
	}
	if v, err := s.ScopeVersion(ctx, scope); err != nil || v != 0 {
		t.Fatalf("expected fresh scope, got %d, %v", v, err)
	}
}

func TestDeleteMissingBoard(t *testing.T) {
	s, _ := newTestStorage()
	if err := s.DeleteBoard(context.Background(), "u1", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
