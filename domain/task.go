package domain

import (
	"slices"
	"time"
)

// Status is the progress state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Next returns the following status in the pending -> in-progress -> completed
// cycle. Unknown values restart the cycle at pending.
func (s Status) Next() Status {
	switch s {
	case StatusPending:
		return StatusInProgress
	case StatusInProgress:
		return StatusCompleted
	default:
		return StatusPending
	}
}

// Priority is the importance of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single to-do item in the persisted collection.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	UserID      string     `json:"userId"`
	SharedWith  []string   `json:"sharedWith"`
}

// VisibleTo reports whether the task is owned by or shared with u.
func (t Task) VisibleTo(u User) bool {
	if t.UserID == u.ID {
		return true
	}
	return u.Email != "" && slices.Contains(t.SharedWith, u.Email)
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	c.SharedWith = append([]string{}, t.SharedWith...)
	return c
}

// Equal compares two tasks field by field, time values by instant.
func (t Task) Equal(o Task) bool {
	if t.ID != o.ID || t.Title != o.Title || t.Description != o.Description ||
		t.Status != o.Status || t.Priority != o.Priority || t.UserID != o.UserID {
		return false
	}
	if !t.CreatedAt.Equal(o.CreatedAt) || !t.UpdatedAt.Equal(o.UpdatedAt) {
		return false
	}
	if (t.DueDate == nil) != (o.DueDate == nil) {
		return false
	}
	if t.DueDate != nil && !t.DueDate.Equal(*o.DueDate) {
		return false
	}
	return slices.Equal(t.SharedWith, o.SharedWith)
}

// TaskInput carries the caller supplied fields of a new task.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// TaskPatch carries partial updates for a task. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	// ClearDueDate removes the due date; it wins over DueDate.
	ClearDueDate bool     `json:"clearDueDate,omitempty"`
	SharedWith   []string `json:"sharedWith,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.DueDate == nil && !p.ClearDueDate && p.SharedWith == nil
}

// Apply merges the patch into t. It never touches ID, UserID or CreatedAt.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := CalendarDate(*p.DueDate)
		t.DueDate = &d
	}
	if p.SharedWith != nil {
		t.SharedWith = append([]string{}, p.SharedWith...)
	}
}

// CalendarDate truncates t to midnight UTC of its calendar day.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
