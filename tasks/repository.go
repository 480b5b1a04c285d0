// Package tasks owns the persisted task collection and the per-viewer
// visibility rules over it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todofy/domain"
	"todofy/storage"
)

const defaultMaxAttempts = 5

// Notifier receives user facing messages. Delivery is fire-and-forget.
type Notifier interface {
	Notify(message string, severity domain.Severity)
}

// Repository is the single writer of the task collection record. Every
// mutation is one read-modify-write of the whole collection; mutations are
// serialized in process and, when the store is storage.Versioned, made
// conditional on the version that was read.
type Repository struct {
	store       storage.Store
	notifier    Notifier
	logger      *log.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts int

	mu sync.Mutex
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator replaces the task id allocator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Repository) { r.newID = fn }
}

// WithMaxAttempts bounds retries of a mutation after concurrency conflicts.
func WithMaxAttempts(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewRepository(store storage.Store, notifier Notifier, logger *log.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Repository{
		store:       store,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
		newID:       newTaskID,
		maxAttempts: defaultMaxAttempts,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func newTaskID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Load returns the tasks visible to viewer. An uninitialized store is seeded
// with the demo dataset first.
func (r *Repository) Load(ctx context.Context, viewer domain.User) ([]domain.Task, error) {
	all, err := r.loadOrSeed(ctx)
	if err != nil {
		r.fail("Failed to load tasks", err)
		return nil, err
	}
	visible := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if t.VisibleTo(viewer) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// Find returns a single task if viewer may see it.
func (r *Repository) Find(ctx context.Context, viewer domain.User, id string) (domain.Task, error) {
	tasks, err := r.Load(ctx, viewer)
	if err != nil {
		return domain.Task{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Task{}, &domain.NotFoundError{ID: id}
}

// Create appends a new task owned by viewer.
func (r *Repository) Create(ctx context.Context, viewer domain.User, in domain.TaskInput) (domain.Task, error) {
	task, err := r.newTask(viewer, in)
	if err != nil {
		r.fail("Failed to create task", err)
		return domain.Task{}, err
	}
	err = r.mutate(ctx, func(all []domain.Task) ([]domain.Task, bool, error) {
		return append(all, task), true, nil
	})
	if err != nil {
		r.fail("Failed to create task", err)
		return domain.Task{}, err
	}
	r.logger.WithFields(log.Fields{"task": task.ID, "user": viewer.ID}).Debug("task created")
	r.notify("Task created successfully", domain.SeveritySuccess)
	return task, nil
}

func (r *Repository) newTask(viewer domain.User, in domain.TaskInput) (domain.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Task{}, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if viewer.ID == "" {
		return domain.Task{}, &domain.ValidationError{Field: "userId", Reason: "viewer has no id"}
	}
	status := in.Status
	if status == "" {
		status = domain.StatusPending
	}
	if !status.Valid() {
		return domain.Task{}, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	priority := in.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return domain.Task{}, &domain.ValidationError{Field: "priority", Reason: "unknown priority " + string(priority)}
	}
	now := r.now()
	task := domain.Task{
		ID:          r.newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		UserID:      viewer.ID,
		SharedWith:  []string{},
	}
	if in.DueDate != nil {
		d := domain.CalendarDate(*in.DueDate)
		task.DueDate = &d
	}
	return task, nil
}

// Update merges patch into the task with the given id.
func (r *Repository) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	updated, err := r.update(ctx, id, patch)
	if err != nil {
		r.fail("Failed to update task", err)
		return domain.Task{}, err
	}
	r.notify("Task updated successfully", domain.SeveritySuccess)
	return updated, nil
}

func (r *Repository) update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	if err := validatePatch(patch); err != nil {
		return domain.Task{}, err
	}
	var updated domain.Task
	err := r.mutate(ctx, func(all []domain.Task) ([]domain.Task, bool, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, false, &domain.NotFoundError{ID: id}
		}
		t := all[i]
		patch.Apply(&t)
		t.UpdatedAt = r.touch(t.UpdatedAt)
		all[i] = t
		updated = t.Clone()
		return all, true, nil
	})
	return updated, err
}

func validatePatch(p domain.TaskPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown status " + string(*p.Status)}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &domain.ValidationError{Field: "priority", Reason: "unknown priority " + string(*p.Priority)}
	}
	return nil
}

// Delete removes the task. Deleting an unknown id succeeds without writing.
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.mutate(ctx, func(all []domain.Task) ([]domain.Task, bool, error) {
		i := indexOf(all, id)
		if i < 0 {
			return all, false, nil
		}
		return append(all[:i], all[i+1:]...), true, nil
	})
	if err != nil {
		r.fail("Failed to delete task", err)
		return err
	}
	r.notify("Task deleted successfully", domain.SeveritySuccess)
	return nil
}

// Share appends email to the task's share list. Repeated shares of the same
// address are kept.
func (r *Repository) Share(ctx context.Context, id, email string) (domain.Task, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		err := &domain.ValidationError{Field: "email", Reason: "must not be empty"}
		r.fail("Failed to share task", err)
		return domain.Task{}, err
	}
	var shared domain.Task
	err := r.mutate(ctx, func(all []domain.Task) ([]domain.Task, bool, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, false, &domain.NotFoundError{ID: id}
		}
		all[i].SharedWith = append(all[i].SharedWith, email)
		all[i].UpdatedAt = r.touch(all[i].UpdatedAt)
		shared = all[i].Clone()
		return all, true, nil
	})
	if err != nil {
		r.fail("Failed to share task", err)
		return domain.Task{}, err
	}
	r.notify(fmt.Sprintf("Task shared with %s", email), domain.SeveritySuccess)
	return shared, nil
}

// CycleStatus advances the task one step through pending, in-progress and
// completed.
func (r *Repository) CycleStatus(ctx context.Context, id string) (domain.Task, error) {
	var cycled domain.Task
	// read and write under one mutation so concurrent cycles do not skip a step
	err := r.mutate(ctx, func(all []domain.Task) ([]domain.Task, bool, error) {
		i := indexOf(all, id)
		if i < 0 {
			return nil, false, &domain.NotFoundError{ID: id}
		}
		next := all[i].Status.Next()
		domain.TaskPatch{Status: &next}.Apply(&all[i])
		all[i].UpdatedAt = r.touch(all[i].UpdatedAt)
		cycled = all[i].Clone()
		return all, true, nil
	})
	if err != nil {
		r.fail("Failed to update task", err)
		return domain.Task{}, err
	}
	r.notify("Task updated successfully", domain.SeveritySuccess)
	return cycled, nil
}

// touch returns the new updatedAt, never earlier than prev.
func (r *Repository) touch(prev time.Time) time.Time {
	now := r.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Repository) notify(msg string, sev domain.Severity) {
	if r.notifier != nil {
		r.notifier.Notify(msg, sev)
	}
}

func (r *Repository) fail(msg string, err error) {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		r.logger.WithError(err).WithField("op", storageErr.Op).Error(msg)
	} else {
		r.logger.WithError(err).Debug(msg)
	}
	r.notify(msg+": "+err.Error(), domain.SeverityError)
}
