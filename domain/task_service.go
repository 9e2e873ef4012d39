package domain

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskService manages tasks and their per-section ordering.
type TaskService struct {
	store     Store
	reindexer *Reindexer
	now       func() time.Time
	newID     func() string
}

// NewTaskService wires a TaskService.
func NewTaskService(store Store, reindexer *Reindexer) *TaskService {
	return &TaskService{store: store, reindexer: reindexer, now: time.Now, newID: uuid.NewString}
}

// Create adds an empty task on top of the section.
func (s *TaskService) Create(ctx context.Context, userID, boardID, sectionID string) (Task, error) {
	if sectionID == "" {
		return Task{}, invalid("sectionId is required")
	}
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return Task{}, err
	}
	if _, err := s.store.GetSection(ctx, boardID, sectionID); err != nil {
		return Task{}, err
	}
	existing, err := scopeItems(ctx, s.store, TasksScope(boardID, sectionID), "")
	if err != nil {
		return Task{}, err
	}
	now := s.now().UTC()
	t := Task{
		ID:        s.newID(),
		BoardID:   boardID,
		SectionID: sectionID,
		Position:  len(existing),
		Priority:  PriorityMedium,
		Status:    StatusTodo,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Update applies a partial edit. Position and section only change through
// UpdatePositions.
func (s *TaskService) Update(ctx context.Context, userID, boardID, taskID string, upd TaskUpdate) (Task, error) {
	if upd.Priority != nil && !upd.Priority.Valid() {
		return Task{}, invalid("unknown priority %q", *upd.Priority)
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return Task{}, invalid("unknown status %q", *upd.Status)
	}
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return Task{}, err
	}
	t, err := s.store.GetTask(ctx, boardID, taskID)
	if err != nil {
		return Task{}, err
	}
	if upd.Empty() {
		return t, nil
	}
	upd.apply(&t)
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Delete removes a task and compacts the section it belonged to.
func (s *TaskService) Delete(ctx context.Context, userID, boardID, taskID string) error {
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return err
	}
	t, err := s.store.GetTask(ctx, boardID, taskID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTasks(ctx, boardID, []string{taskID}); err != nil {
		return err
	}
	batch, err := compactionBatch(ctx, s.store, TasksScope(boardID, t.SectionID), taskID)
	if err != nil {
		return err
	}
	if len(batch.Assignments) == 0 {
		return nil
	}
	batch.UserID = userID
	_, err = s.reindexer.Apply(ctx, batch)
	return err
}

// UpdatePositions persists the result of a task drag. A drag inside one
// section reindexes the destination list only. A drag across sections
// reindexes both lists in a single write and moves every listed task into
// the section of its list.
func (s *TaskService) UpdatePositions(ctx context.Context, userID, boardID string, upd PositionUpdate) (ScopeVersions, error) {
	if upd.DestinationSectionID == "" {
		return nil, invalid("destinationSectionId is required")
	}
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return nil, err
	}
	dest, err := FromDisplayOrder(TasksScope(boardID, upd.DestinationSectionID), upd.DestinationList, upd.DestinationVersion)
	if err != nil {
		return nil, err
	}
	dest.UserID = userID
	batches := []ScopeBatch{dest}
	if upd.ResourceSectionID != "" && upd.CrossSection() {
		res, err := FromDisplayOrder(TasksScope(boardID, upd.ResourceSectionID), upd.ResourceList, upd.ResourceVersion)
		if err != nil {
			return nil, err
		}
		res.UserID = userID
		if id, ok := overlap(upd.ResourceList, upd.DestinationList); ok {
			return nil, invalid("task %s listed in both sections", id)
		}
		if _, err := s.store.GetSection(ctx, boardID, upd.ResourceSectionID); err != nil {
			return nil, err
		}
		batches = []ScopeBatch{res, dest}
	}
	if _, err := s.store.GetSection(ctx, boardID, upd.DestinationSectionID); err != nil {
		return nil, err
	}
	versions, err := s.reindexer.Apply(ctx, batches...)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"boardId":      boardID,
		"crossSection": len(batches) > 1,
		"destination":  upd.DestinationSectionID,
		"items":        len(upd.DestinationList) + len(upd.ResourceList),
	}).Debug("task positions updated")
	return versions, nil
}

// Search filters the board's tasks and returns one page of them.
func (s *TaskService) Search(ctx context.Context, userID, boardID string, q TaskQuery) (TaskPage, error) {
	if _, err := s.store.GetBoard(ctx, userID, boardID); err != nil {
		return TaskPage{}, err
	}
	sections, err := s.store.ListSections(ctx, boardID)
	if err != nil {
		return TaskPage{}, err
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return TaskPage{}, err
	}
	known := make(map[string]struct{}, len(sections))
	for _, sec := range sections {
		known[sec.ID] = struct{}{}
	}
	needle := strings.ToLower(q.Search)
	matched := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := known[t.SectionID]; !ok {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(t.Title), needle) && !strings.Contains(strings.ToLower(t.Content), needle) {
			continue
		}
		if q.Priority != "" && t.Priority != q.Priority {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.Tag != "" && !hasTag(t.Tags, q.Tag) {
			continue
		}
		matched = append(matched, t)
	}
	sortTasks(matched, q.Sort)

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	total := len(matched)
	from := (page - 1) * limit
	if from > total {
		from = total
	}
	to := from + limit
	if to > total {
		to = total
	}
	return TaskPage{
		Tasks: matched[from:to],
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

var priorityRank = map[Priority]int{PriorityLow: 0, PriorityMedium: 1, PriorityHigh: 2}

func sortTasks(tasks []Task, by string) {
	var less func(a, b Task) bool
	switch by {
	case "title":
		less = func(a, b Task) bool { return a.Title < b.Title }
	case "createdAt":
		less = func(a, b Task) bool { return a.CreatedAt.After(b.CreatedAt) }
	case "updatedAt":
		less = func(a, b Task) bool { return a.UpdatedAt.After(b.UpdatedAt) }
	case "dueDate":
		// tasks without a due date go last
		less = func(a, b Task) bool {
			if a.DueDate == nil || b.DueDate == nil {
				return a.DueDate != nil && b.DueDate == nil
			}
			return a.DueDate.Before(*b.DueDate)
		}
	case "priority":
		less = func(a, b Task) bool { return priorityRank[a.Priority] < priorityRank[b.Priority] }
	default:
		less = func(a, b Task) bool { return a.Position < b.Position }
	}
	sort.SliceStable(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func overlap(a, b []string) (string, bool) {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return id, true
		}
	}
	return "", false
}
