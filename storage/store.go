// Package storage persists named records. The task collection and the session
// are each one record; the repository owns their encoding.
package storage

import (
	"context"
	"errors"
)

// Record keys used by the application.
const (
	SessionKey = "todofy_user"
	TasksKey   = "todofy_tasks"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrencyConflict indicates that a conditional write lost against a
	// newer version of the record.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Store is a durable key-value store over named records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes the record. Removing a missing record is not an error.
	Remove(ctx context.Context, key string) error
}

// Versioned is implemented by stores able to perform optimistic writes.
type Versioned interface {
	Store
	// GetVersion returns the record together with an opaque version token.
	GetVersion(ctx context.Context, key string) ([]byte, string, error)
	// SetIfVersion writes the record only if its current version still equals
	// version. An empty version requires the record to be absent.
	SetIfVersion(ctx context.Context, key string, value []byte, version string) error
}
