package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// SectionService manages the columns of a board.
type SectionService struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewSectionService wires a SectionService.
func NewSectionService(store Store) *SectionService {
	return &SectionService{store: store, now: time.Now, newID: uuid.NewString}
}

// Create appends an empty section to the board.
func (s *SectionService) Create(ctx context.Context, userID, boardID string) (SectionDetail, error) {
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return SectionDetail{}, err
	}
	sec := Section{ID: s.newID(), BoardID: boardID, CreatedAt: s.now().UTC()}
	if err := s.store.InsertSection(ctx, sec); err != nil {
		return SectionDetail{}, err
	}
	return SectionDetail{Section: sec, Tasks: []Task{}}, nil
}

// Rename changes the section title.
func (s *SectionService) Rename(ctx context.Context, userID, boardID, sectionID, title string) (Section, error) {
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return Section{}, err
	}
	sec, err := s.store.GetSection(ctx, boardID, sectionID)
	if err != nil {
		return Section{}, err
	}
	sec.Title = title
	if err := s.store.UpdateSection(ctx, sec); err != nil {
		return Section{}, err
	}
	return sec, nil
}

// Delete removes the section and every task in it.
func (s *SectionService) Delete(ctx context.Context, userID, boardID, sectionID string) error {
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return err
	}
	if _, err := s.store.GetSection(ctx, boardID, sectionID); err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return err
	}
	var ids []string
	for _, t := range tasks {
		if t.SectionID == sectionID {
			ids = append(ids, t.ID)
		}
	}
	if err := s.store.DeleteTasks(ctx, boardID, ids); err != nil {
		return err
	}
	if err := s.store.DeleteSections(ctx, boardID, []string{sectionID}); err != nil {
		return err
	}
	log.WithFields(log.Fields{"boardId": boardID, "sectionId": sectionID, "tasks": len(ids)}).Info("section deleted")
	return nil
}
