package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/priyankagnana/Kanvo/domain"
)

type fieldWrite struct {
	boardID, taskID string
	fields          map[string]any
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []fieldWrite
	err    error
}

func (w *recordingWriter) UpdateBoard(ctx context.Context, boardID string, fields map[string]any) (domain.Board, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, fieldWrite{boardID: boardID, fields: fields})
	return domain.Board{ID: boardID}, w.err
}

func (w *recordingWriter) UpdateTask(ctx context.Context, boardID, taskID string, fields map[string]any) (domain.Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, fieldWrite{boardID: boardID, taskID: taskID, fields: fields})
	return domain.Task{ID: taskID}, w.err
}

func TestEditorWritesEachFieldSeparately(t *testing.T) {
	w := &recordingWriter{}
	e := NewEditor(context.Background(), w)
	e.EditTask("b1", "t1", "title", "Ship")
	e.EditTask("b1", "t1", "content", "Notes")
	e.EditTask("b1", "t1", "title", "Ship it")
	e.EditBoard("b1", "description", "Q3")

	require.Equal(t, 3, e.Flush())
	require.Len(t, w.writes, 3)
	byField := map[string]any{}
	for _, wr := range w.writes {
		for k, v := range wr.fields {
			byField[k] = v
		}
	}
	require.Equal(t, map[string]any{"title": "Ship it", "content": "Notes", "description": "Q3"}, byField)
}

func TestEditorCloseKeepsValuesLocal(t *testing.T) {
	w := &recordingWriter{}
	e := NewEditor(context.Background(), w)
	e.EditBoard("b1", "title", "Roadmap")

	latest := e.Close()
	require.Equal(t, map[string]any{BoardFieldKey("b1", "title"): "Roadmap"}, latest)
	require.Empty(t, w.writes)
}

func TestEditorReportsFailures(t *testing.T) {
	w := &recordingWriter{err: errors.New("offline")}
	e := NewEditor(context.Background(), w)
	var failed []string
	e.OnError = func(key string, err error) { failed = append(failed, key) }
	e.EditTask("b1", "t1", "status", "completed")

	e.Flush()
	require.Equal(t, []string{TaskFieldKey("b1", "t1", "status")}, failed)
}
