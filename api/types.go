package api

import (
	"context"

	"todofy/domain"
)

// TaskService is the task repository as seen by the handlers.
type TaskService interface {
	Load(ctx context.Context, viewer domain.User) ([]domain.Task, error)
	Find(ctx context.Context, viewer domain.User, id string) (domain.Task, error)
	Create(ctx context.Context, viewer domain.User, in domain.TaskInput) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	Share(ctx context.Context, id, email string) (domain.Task, error)
	CycleStatus(ctx context.Context, id string) (domain.Task, error)
}

// Sessions backs the session endpoints.
type Sessions interface {
	CurrentUser(ctx context.Context) (domain.User, bool, error)
	OnLogout(ctx context.Context) error
	Login(ctx context.Context, email, password string) (domain.User, error)
	LoginWithGoogle(ctx context.Context) (domain.User, error)
}

// Authenticator resolves the caller of a request from its Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, authHeader string) (domain.User, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
