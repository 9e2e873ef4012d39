package client

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/domain"
)

// FieldWriter persists single field edits.
type FieldWriter interface {
	UpdateBoard(ctx context.Context, boardID string, fields map[string]any) (domain.Board, error)
	UpdateTask(ctx context.Context, boardID, taskID string, fields map[string]any) (domain.Task, error)
}

// Editor debounces typed edits of board and task fields, one timer per
// field of each item.
type Editor struct {
	ctx    context.Context
	writer FieldWriter
	sched  *Scheduler[any]

	// OnError receives failed writes.
	OnError func(key string, err error)
}

func NewEditor(ctx context.Context, w FieldWriter) *Editor {
	return &Editor{ctx: ctx, writer: w, sched: NewScheduler[any](DefaultDebounce)}
}

// BoardFieldKey names the edit stream of one board field.
func BoardFieldKey(boardID, field string) string {
	return "board/" + boardID + "/" + field
}

// TaskFieldKey names the edit stream of one task field.
func TaskFieldKey(boardID, taskID, field string) string {
	return "task/" + boardID + "/" + taskID + "/" + field
}

// EditBoard schedules a write of one board field.
func (e *Editor) EditBoard(boardID, field string, value any) {
	key := BoardFieldKey(boardID, field)
	e.sched.Schedule(key, value, func(v any) {
		_, err := e.writer.UpdateBoard(e.ctx, boardID, map[string]any{field: v})
		e.report(key, err)
	}, 0)
}

// EditTask schedules a write of one task field.
func (e *Editor) EditTask(boardID, taskID, field string, value any) {
	key := TaskFieldKey(boardID, taskID, field)
	e.sched.Schedule(key, value, func(v any) {
		_, err := e.writer.UpdateTask(e.ctx, boardID, taskID, map[string]any{field: v})
		e.report(key, err)
	}, 0)
}

// Flush writes all pending edits now.
func (e *Editor) Flush() int { return e.sched.Flush() }

// Close drops the pending network writes and returns their latest values
// keyed by field key, for the caller's local store.
func (e *Editor) Close() map[string]any { return e.sched.Close() }

func (e *Editor) report(key string, err error) {
	if err == nil {
		return
	}
	log.WithError(err).WithField("field", key[strings.LastIndex(key, "/")+1:]).Warn("field write failed")
	if e.OnError != nil {
		e.OnError(key, err)
	}
}
