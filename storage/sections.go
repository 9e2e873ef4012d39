package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/priyankagnana/Kanvo/domain"
)

func (s *Storage) ListSections(ctx context.Context, boardID string) ([]domain.Section, error) {
	sections, err := listPartition(ctx, s.sections, boardID, decodeSection)
	return sections, mapError(err, "list sections")
}

func (s *Storage) GetSection(ctx context.Context, boardID, sectionID string) (domain.Section, error) {
	if isScopeRowKey(sectionID) {
		return domain.Section{}, fmt.Errorf("section %s: %w", sectionID, domain.ErrNotFound)
	}
	ent, err := s.sections.GetEntity(ctx, boardID, sectionID, nil)
	if err != nil {
		return domain.Section{}, mapError(err, "section "+sectionID)
	}
	return decodeSection(ent.Value)
}

func (s *Storage) InsertSection(ctx context.Context, sec domain.Section) error {
	payload, err := encode(fromSection(sec))
	if err == nil {
		_, err = s.sections.AddEntity(ctx, payload, nil)
	}
	return mapError(err, "insert section "+sec.ID)
}

func (s *Storage) UpdateSection(ctx context.Context, sec domain.Section) error {
	payload, err := encode(fromSection(sec))
	if err == nil {
		et := azcore.ETagAny
		_, err = s.sections.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	}
	return mapError(err, "update section "+sec.ID)
}

// DeleteSections removes the section rows and the version markers of their
// task scopes. Markers live in the tasks table under the same board.
func (s *Storage) DeleteSections(ctx context.Context, boardID string, sectionIDs []string) error {
	if len(sectionIDs) == 0 {
		return nil
	}
	if err := deleteRows(ctx, s.sections, boardID, sectionIDs); err != nil {
		return err
	}
	for _, id := range sectionIDs {
		_, rk := scopeKeys(domain.TasksScope(boardID, id))
		if _, err := s.tasks.DeleteEntity(ctx, boardID, rk, nil); err != nil {
			if err = mapError(err, "delete scope marker"); !isNotFound(err) {
				return err
			}
		}
	}
	return nil
}
