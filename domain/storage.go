package domain

import "context"

// BoardStore persists boards, partitioned by owner.
type BoardStore interface {
	ListBoards(ctx context.Context, userID string) ([]Board, error)
	GetBoard(ctx context.Context, userID, boardID string) (Board, error)
	InsertBoard(ctx context.Context, b Board) error
	UpdateBoard(ctx context.Context, b Board) error
	DeleteBoard(ctx context.Context, userID, boardID string) error
}

// SectionStore persists sections, partitioned by board.
type SectionStore interface {
	ListSections(ctx context.Context, boardID string) ([]Section, error)
	GetSection(ctx context.Context, boardID, sectionID string) (Section, error)
	InsertSection(ctx context.Context, s Section) error
	UpdateSection(ctx context.Context, s Section) error
	DeleteSections(ctx context.Context, boardID string, sectionIDs []string) error
}

// TaskStore persists tasks, partitioned by board.
type TaskStore interface {
	ListTasks(ctx context.Context, boardID string) ([]Task, error)
	GetTask(ctx context.Context, boardID, taskID string) (Task, error)
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
	DeleteTasks(ctx context.Context, boardID string, taskIDs []string) error
}

// PositionWriter applies position batches. All batches of one call must
// share an owner. Implementations return *PartialWriteError when a write
// committed only a prefix of the rows.
type PositionWriter interface {
	WritePositions(ctx context.Context, batches []ScopeBatch) (ScopeVersions, error)
	ScopeVersion(ctx context.Context, scope Scope) (int64, error)
}

// Store is everything the services need from persistence.
type Store interface {
	BoardStore
	SectionStore
	TaskStore
	PositionWriter
}

// RepairQueue schedules an asynchronous compaction of a scope owned by
// userID.
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, userID string, scope Scope) error
}
