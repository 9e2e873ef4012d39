package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/priyankagnana/Kanvo/domain"
)

// ListBoards retrieves all boards of the provided user.
func (s *Storage) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	boards, err := listPartition(ctx, s.boards, userID, decodeBoard)
	return boards, mapError(err, "list boards")
}

// GetBoard retrieves one board of the user.
func (s *Storage) GetBoard(ctx context.Context, userID, boardID string) (domain.Board, error) {
	if isScopeRowKey(boardID) {
		return domain.Board{}, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	ent, err := s.boards.GetEntity(ctx, userID, boardID, nil)
	if err != nil {
		return domain.Board{}, mapError(err, "board "+boardID)
	}
	return decodeBoard(ent.Value)
}

// InsertBoard adds a new board row.
func (s *Storage) InsertBoard(ctx context.Context, b domain.Board) error {
	payload, err := encode(fromBoard(b))
	if err == nil {
		_, err = s.boards.AddEntity(ctx, payload, nil)
	}
	return mapError(err, "insert board "+b.ID)
}

// UpdateBoard replaces the stored board row.
func (s *Storage) UpdateBoard(ctx context.Context, b domain.Board) error {
	payload, err := encode(fromBoard(b))
	if err == nil {
		et := azcore.ETagAny
		_, err = s.boards.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	}
	return mapError(err, "update board "+b.ID)
}

// DeleteBoard removes the board row.
func (s *Storage) DeleteBoard(ctx context.Context, userID, boardID string) error {
	_, err := s.boards.DeleteEntity(ctx, userID, boardID, nil)
	return mapError(err, "delete board "+boardID)
}
