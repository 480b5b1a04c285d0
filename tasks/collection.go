package tasks

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"todofy/domain"
	"todofy/storage"
)

// mutateFunc edits the full collection. Returning changed=false skips the write.
type mutateFunc func(all []domain.Task) (next []domain.Task, changed bool, err error)

// snapshot is a decoded collection together with the version it was read at.
type snapshot struct {
	tasks   []domain.Task
	version string
	present bool
}

// read decodes the collection. Only mutations need the version, so plain
// loads go through Get and may be served from a cache.
func (r *Repository) read(ctx context.Context, withVersion bool) (snapshot, error) {
	var (
		data    []byte
		version string
		err     error
	)
	vs, ok := r.store.(storage.Versioned)
	if ok && withVersion {
		data, version, err = vs.GetVersion(ctx, storage.TasksKey)
	} else {
		data, err = r.store.Get(ctx, storage.TasksKey)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return snapshot{tasks: []domain.Task{}}, nil
	}
	if err != nil {
		return snapshot{}, &domain.StorageError{Op: "read", Key: storage.TasksKey, Err: err}
	}
	tasks, err := domain.DecodeTasks(data)
	if err != nil {
		return snapshot{}, &domain.StorageError{Op: "decode", Key: storage.TasksKey, Err: err}
	}
	return snapshot{tasks: tasks, version: version, present: true}, nil
}

func (r *Repository) write(ctx context.Context, snap snapshot, tasks []domain.Task) error {
	data, err := domain.EncodeTasks(tasks)
	if err != nil {
		return &domain.StorageError{Op: "encode", Key: storage.TasksKey, Err: err}
	}
	if vs, ok := r.store.(storage.Versioned); ok {
		version := snap.version
		if !snap.present {
			version = ""
		}
		err = vs.SetIfVersion(ctx, storage.TasksKey, data, version)
	} else {
		err = r.store.Set(ctx, storage.TasksKey, data)
	}
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		return err
	}
	if err != nil {
		return &domain.StorageError{Op: "write", Key: storage.TasksKey, Err: err}
	}
	return nil
}

// mutate runs fn against the latest collection and persists the result,
// retrying from a fresh read when another writer got there first.
func (r *Repository) mutate(ctx context.Context, fn mutateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := r.read(ctx, true)
		if err != nil {
			return err
		}
		next, changed, err := fn(snap.tasks)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		err = r.write(ctx, snap, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		r.logger.WithFields(log.Fields{"attempt": attempt, "key": storage.TasksKey}).Debug("task collection changed underneath, retrying")
		if err := sleepCtx(ctx, time.Duration(attempt)*5*time.Millisecond); err != nil {
			return err
		}
	}
	return &domain.StorageError{Op: "write", Key: storage.TasksKey, Err: lastErr}
}

// loadOrSeed reads the collection, seeding the demo dataset when the record
// has never been written.
func (r *Repository) loadOrSeed(ctx context.Context) ([]domain.Task, error) {
	snap, err := r.read(ctx, false)
	if err != nil {
		return nil, err
	}
	if snap.present {
		return snap.tasks, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// recheck under the lock; a mutation may have created the record meanwhile
	snap, err = r.read(ctx, true)
	if err != nil {
		return nil, err
	}
	if snap.present {
		return snap.tasks, nil
	}
	seed := domain.SeedTasks()
	err = r.write(ctx, snap, seed)
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		// another process initialized the record
		snap, err = r.read(ctx, false)
		if err != nil {
			return nil, err
		}
		return snap.tasks, nil
	}
	if err != nil {
		return nil, err
	}
	r.logger.WithField("count", len(seed)).Info("seeded task collection")
	return seed, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
