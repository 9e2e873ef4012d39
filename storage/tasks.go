package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/priyankagnana/Kanvo/domain"
)

// ListTasks retrieves every task of a board across all its sections.
func (s *Storage) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	tasks, err := listPartition(ctx, s.tasks, boardID, decodeTask)
	return tasks, mapError(err, "list tasks")
}

func (s *Storage) GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error) {
	if isScopeRowKey(taskID) {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	ent, err := s.tasks.GetEntity(ctx, boardID, taskID, nil)
	if err != nil {
		return domain.Task{}, mapError(err, "task "+taskID)
	}
	return decodeTask(ent.Value)
}

func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := fromTask(t)
	if err != nil {
		return err
	}
	payload, err := encode(ent)
	if err == nil {
		_, err = s.tasks.AddEntity(ctx, payload, nil)
	}
	return mapError(err, "insert task "+t.ID)
}

func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	ent, err := fromTask(t)
	if err != nil {
		return err
	}
	payload, err := encode(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	}
	return mapError(err, "update task "+t.ID)
}

func (s *Storage) DeleteTasks(ctx context.Context, boardID string, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	return deleteRows(ctx, s.tasks, boardID, taskIDs)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
