// Package query derives filtered, paginated views of a task collection. It has
// no storage or identity dependencies.
package query

import (
	"strings"
	"time"

	"todofy/domain"
)

// DueBucket groups tasks by due date relative to the current day.
type DueBucket string

const (
	DueToday    DueBucket = "today"
	DueOverdue  DueBucket = "overdue"
	DueUpcoming DueBucket = "upcoming"
)

// Criteria holds the active filter predicates. Zero fields match everything.
type Criteria struct {
	Status   domain.Status   `json:"status,omitempty"`
	Priority domain.Priority `json:"priority,omitempty"`
	Due      DueBucket       `json:"dueDate,omitempty"`
	Search   string          `json:"search,omitempty"`
}

// Validate rejects enum values that no task can carry.
func (c Criteria) Validate() error {
	if c.Status != "" && !c.Status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown status " + string(c.Status)}
	}
	if c.Priority != "" && !c.Priority.Valid() {
		return &domain.ValidationError{Field: "priority", Reason: "unknown priority " + string(c.Priority)}
	}
	switch c.Due {
	case "", DueToday, DueOverdue, DueUpcoming:
	default:
		return &domain.ValidationError{Field: "dueDate", Reason: "unknown due date bucket " + string(c.Due)}
	}
	return nil
}

// Filter returns the tasks matching every supplied criterion. now fixes the
// current calendar day for due date buckets. The input slice is not modified.
func Filter(tasks []domain.Task, c Criteria, now time.Time) []domain.Task {
	search := strings.ToLower(strings.TrimSpace(c.Search))
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if c.Status != "" && t.Status != c.Status {
			continue
		}
		if c.Priority != "" && t.Priority != c.Priority {
			continue
		}
		if c.Due != "" && !inBucket(t.DueDate, c.Due, today) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// inBucket reports whether due falls in bucket b. Tasks without a due date are
// not filtered out by any bucket.
func inBucket(due *time.Time, b DueBucket, today time.Time) bool {
	if due == nil {
		return true
	}
	day := domain.CalendarDate(due.UTC())
	switch b {
	case DueToday:
		return day.Equal(today)
	case DueOverdue:
		return day.Before(today)
	case DueUpcoming:
		return day.After(today)
	}
	// unknown buckets do not filter
	return true
}
