// Package session tracks the signed-in user.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"todofy/domain"
	"todofy/storage"
)

// Provider supplies the current user and reacts to login and logout.
type Provider interface {
	CurrentUser(ctx context.Context) (domain.User, bool, error)
	OnLoginSuccess(ctx context.Context, user domain.User) error
	OnLogout(ctx context.Context) error
}

const DefaultLoginDelay = time.Second

const demoAvatar = "https://images.pexels.com/photos/774909/pexels-photo-774909.jpeg?auto=compress&cs=tinysrgb&w=150&h=150&fit=crop&crop=face"

// Mock is a Provider backed by a store record. Its login calls accept any
// credentials and return a fixed demo user.
type Mock struct {
	store        storage.Store
	logger       *log.Logger
	delay        time.Duration
	clearOnLeave bool
}

type MockOption func(*Mock)

// WithLoginDelay sets the simulated round trip of Login and LoginWithGoogle.
func WithLoginDelay(d time.Duration) MockOption {
	return func(m *Mock) { m.delay = d }
}

// ClearTasksOnLogout makes OnLogout also drop the task collection.
func ClearTasksOnLogout(enabled bool) MockOption {
	return func(m *Mock) { m.clearOnLeave = enabled }
}

func WithLogger(logger *log.Logger) MockOption {
	return func(m *Mock) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMock(store storage.Store, opts ...MockOption) *Mock {
	m := &Mock{store: store, logger: log.StandardLogger(), delay: DefaultLoginDelay}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mock) CurrentUser(ctx context.Context) (domain.User, bool, error) {
	data, err := m.store.Get(ctx, storage.SessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, &domain.StorageError{Op: "read", Key: storage.SessionKey, Err: err}
	}
	user, err := domain.DecodeUser(data)
	if err != nil {
		// a corrupt record reads as signed out
		m.logger.WithError(err).Warn("discarding unreadable session record")
		return domain.User{}, false, nil
	}
	return user, true, nil
}

func (m *Mock) OnLoginSuccess(ctx context.Context, user domain.User) error {
	data, err := domain.EncodeUser(user)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, storage.SessionKey, data); err != nil {
		return &domain.StorageError{Op: "write", Key: storage.SessionKey, Err: err}
	}
	m.logger.WithField("user", user.ID).Info("user signed in")
	return nil
}

func (m *Mock) OnLogout(ctx context.Context) error {
	if err := m.store.Remove(ctx, storage.SessionKey); err != nil {
		return &domain.StorageError{Op: "remove", Key: storage.SessionKey, Err: err}
	}
	if m.clearOnLeave {
		if err := m.store.Remove(ctx, storage.TasksKey); err != nil {
			return &domain.StorageError{Op: "remove", Key: storage.TasksKey, Err: err}
		}
	}
	m.logger.Info("user signed out")
	return nil
}

// Login signs in with email and password. Only the email is checked for
// presence.
func (m *Mock) Login(ctx context.Context, email, password string) (domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return domain.User{}, &domain.ValidationError{Field: "email", Reason: "must not be empty"}
	}
	return m.signIn(ctx, demoUser("poojasri.s@example.com"))
}

// LoginWithGoogle simulates the OAuth round trip.
func (m *Mock) LoginWithGoogle(ctx context.Context) (domain.User, error) {
	return m.signIn(ctx, demoUser("poojasri.s@gmail.com"))
}

func (m *Mock) signIn(ctx context.Context, user domain.User) (domain.User, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.User{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := m.OnLoginSuccess(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func demoUser(email string) domain.User {
	return domain.User{ID: domain.SeedOwnerID, Email: email, Name: "Poojasri S", Avatar: demoAvatar}
}
