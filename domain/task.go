package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is a card inside a section. Position is dense within its section.
type Task struct {
	ID        string     `json:"id"`
	BoardID   string     `json:"board"`
	SectionID string     `json:"section"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Position  int        `json:"position"`
	Priority  Priority   `json:"priority"`
	Status    Status     `json:"status"`
	Tags      []string   `json:"tags"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// OptionalTime distinguishes an absent JSON field from an explicit null.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

// TaskUpdate carries a partial task edit.
type TaskUpdate struct {
	Title    *string      `json:"title,omitempty"`
	Content  *string      `json:"content,omitempty"`
	Priority *Priority    `json:"priority,omitempty"`
	Status   *Status      `json:"status,omitempty"`
	Tags     *[]string    `json:"tags,omitempty"`
	DueDate  OptionalTime `json:"dueDate"`
}

// Empty reports whether the update touches no field.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Content == nil && u.Priority == nil && u.Status == nil && u.Tags == nil && !u.DueDate.Set
}

func (u TaskUpdate) apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Content != nil {
		t.Content = *u.Content
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), (*u.Tags)...)
	}
	if u.DueDate.Set {
		t.DueDate = u.DueDate.Value
	}
}

// PositionUpdate is the drop result of a task drag. Both lists are in display
// order. When the two section ids are equal only DestinationList is written.
type PositionUpdate struct {
	ResourceList         []string
	DestinationList      []string
	ResourceSectionID    string
	DestinationSectionID string
	ResourceVersion      *int64
	DestinationVersion   *int64
}

// CrossSection reports whether the drag moved a task between sections.
func (p PositionUpdate) CrossSection() bool {
	return p.ResourceSectionID != p.DestinationSectionID
}

// TaskQuery filters the tasks of one board.
type TaskQuery struct {
	Search   string
	Priority Priority
	Status   Status
	Tag      string
	Sort     string
	Page     int
	Limit    int
}

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// Pagination describes the slice of a search result returned.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// TaskPage is one page of a task search.
type TaskPage struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}
