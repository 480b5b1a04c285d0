package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"todofy/domain"
	"todofy/query"
	"todofy/storage"
)

type notification struct {
	message  string
	severity domain.Severity
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(message string, severity domain.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{message, severity})
}

func (n *recordingNotifier) last(t *testing.T) notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatalf("expected a notification")
	}
	return n.sent[len(n.sent)-1]
}

// failingStore is an unversioned Store whose calls fail once armed.
type failingStore struct {
	mem    *storage.Memory
	setErr error
	getErr error
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.mem.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.mem.Set(ctx, key, value)
}

func (f *failingStore) Remove(ctx context.Context, key string) error {
	return f.mem.Remove(ctx, key)
}

// conflictStore rejects the first conflicts conditional writes.
type conflictStore struct {
	*storage.Memory
	mu        sync.Mutex
	conflicts int
	attempts  int
}

func (c *conflictStore) SetIfVersion(ctx context.Context, key string, value []byte, version string) error {
	c.mu.Lock()
	c.attempts++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return storage.ErrConcurrencyConflict
	}
	c.mu.Unlock()
	return c.Memory.SetIfVersion(ctx, key, value, version)
}

var (
	owner    = domain.User{ID: domain.SeedOwnerID, Email: "poojasri.s@example.com", Name: "Poojasri S"}
	stranger = domain.User{ID: "2", Email: "friend@example.com", Name: "Friend"}
	fixedNow = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
)

func newTestRepo(t *testing.T, store storage.Store) (*Repository, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	ids := 0
	repo := NewRepository(store, n, nil,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("new-%d", ids)
		}),
	)
	return repo, n
}

func storedTasks(t *testing.T, store storage.Store) []domain.Task {
	t.Helper()
	data, err := store.Get(context.Background(), storage.TasksKey)
	if err != nil {
		t.Fatalf("read tasks: %v", err)
	}
	tasks, err := domain.DecodeTasks(data)
	if err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	return tasks
}

func TestLoadSeedsEmptyStore(t *testing.T) {
	store := storage.NewMemory()
	repo, _ := newTestRepo(t, store)

	tasks, err := repo.Load(context.Background(), owner)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 8 {
		t.Fatalf("expected 8 seeded tasks, got %d", len(tasks))
	}
	if got := storedTasks(t, store); len(got) != 8 {
		t.Fatalf("expected seed to be persisted, got %d", len(got))
	}

	pending := query.Filter(tasks, query.Criteria{Status: domain.StatusPending}, fixedNow)
	var ids []string
	for _, task := range pending {
		ids = append(ids, task.ID)
	}
	if fmt.Sprint(ids) != "[6 7 8]" {
		t.Fatalf("unexpected pending ids %v", ids)
	}

	page, err := query.Paginate(tasks, 2, 5)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page.Tasks) != 3 || page.TotalPages != 2 {
		t.Fatalf("unexpected page: %d items, %d pages", len(page.Tasks), page.TotalPages)
	}
}

func TestLoadDoesNotReseedExistingCollection(t *testing.T) {
	store := storage.NewMemory()
	if err := store.Set(context.Background(), storage.TasksKey, []byte("[]")); err != nil {
		t.Fatalf("set: %v", err)
	}
	repo, _ := newTestRepo(t, store)

	tasks, err := repo.Load(context.Background(), owner)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty collection, got %d", len(tasks))
	}
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	repo, _ := newTestRepo(t, store)

	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}
	visible, err := repo.Load(ctx, stranger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("stranger should see nothing, got %d", len(visible))
	}
	if _, err := repo.Find(ctx, stranger, "1"); !isNotFound(err) {
		t.Fatalf("expected not found for invisible task, got %v", err)
	}

	if _, err := repo.Share(ctx, "3", stranger.Email); err != nil {
		t.Fatalf("share: %v", err)
	}
	visible, err = repo.Load(ctx, stranger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "3" {
		t.Fatalf("expected shared task 3, got %+v", visible)
	}
	if len(storedTasks(t, store)) != 8 {
		t.Fatalf("share must not drop other tasks")
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	repo, n := newTestRepo(t, store)

	due := time.Date(2024, 3, 12, 18, 45, 0, 0, time.FixedZone("IST", 5*3600+1800))
	created, err := repo.Create(ctx, stranger, domain.TaskInput{Title: "Write docs", Description: "API reference", DueDate: &due})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "new-1" || created.UserID != stranger.ID {
		t.Fatalf("unexpected identity %q owner %q", created.ID, created.UserID)
	}
	if created.Status != domain.StatusPending || created.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected defaults %s/%s", created.Status, created.Priority)
	}
	if !created.CreatedAt.Equal(fixedNow) || !created.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected timestamps %v %v", created.CreatedAt, created.UpdatedAt)
	}
	if created.SharedWith == nil || len(created.SharedWith) != 0 {
		t.Fatalf("expected empty share list, got %#v", created.SharedWith)
	}
	if want := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC); !created.DueDate.Equal(want) {
		t.Fatalf("expected due date %v, got %v", want, created.DueDate)
	}
	if got := n.last(t); got.severity != domain.SeveritySuccess || got.message != "Task created successfully" {
		t.Fatalf("unexpected notification %+v", got)
	}

	reloaded, err := repo.Find(ctx, stranger, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !reloaded.Equal(created) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", reloaded, created)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	cases := map[string]domain.TaskInput{
		"empty title":      {Title: ""},
		"blank title":      {Title: "   \t"},
		"unknown status":   {Title: "x", Status: "archived"},
		"unknown priority": {Title: "x", Priority: "urgent"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemory()
			repo, n := newTestRepo(t, store)

			_, err := repo.Create(context.Background(), owner, in)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, err := store.Get(context.Background(), storage.TasksKey); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("store must be untouched, got %v", err)
			}
			if got := n.last(t); got.severity != domain.SeverityError {
				t.Fatalf("expected error notification, got %+v", got)
			}
		})
	}
}

func TestUpdatePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	repo, n := newTestRepo(t, store)
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}
	before, err := repo.Find(ctx, owner, "6")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	title := "Renamed"
	priority := domain.PriorityLow
	updated, err := repo.Update(ctx, "6", domain.TaskPatch{Title: &title, Priority: &priority})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != before.ID || updated.UserID != before.UserID || !updated.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("identity changed: %+v", updated)
	}
	if updated.Title != title || updated.Priority != priority || updated.Description != before.Description {
		t.Fatalf("unexpected merge result %+v", updated)
	}
	if !updated.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("expected updatedAt refreshed, got %v", updated.UpdatedAt)
	}
	if fmt.Sprint(updated.SharedWith) != fmt.Sprint(before.SharedWith) {
		t.Fatalf("share list changed without patch: %v", updated.SharedWith)
	}
	if got := n.last(t); got.message != "Task updated successfully" {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestUpdateNeverMovesUpdatedAtBackwards(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	repo, _ := newTestRepo(t, store)
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}
	before, _ := repo.Find(ctx, owner, "1")

	repo.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }
	title := "Earlier clock"
	updated, err := repo.Update(ctx, "1", domain.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UpdatedAt.Before(before.UpdatedAt) {
		t.Fatalf("updatedAt moved backwards: %v < %v", updated.UpdatedAt, before.UpdatedAt)
	}
}

func TestUpdateMissingTask(t *testing.T) {
	repo, n := newTestRepo(t, storage.NewMemory())
	title := "x"
	_, err := repo.Update(context.Background(), "nope", domain.TaskPatch{Title: &title})
	if !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := n.last(t); got.severity != domain.SeverityError {
		t.Fatalf("expected error notification, got %+v", got)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	repo, n := newTestRepo(t, store)
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, before, _ := store.GetVersion(ctx, storage.TasksKey)

	if err := repo.Delete(ctx, "does-not-exist"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, after, _ := store.GetVersion(ctx, storage.TasksKey)
	if before != after {
		t.Fatalf("expected no write, version %s -> %s", before, after)
	}
	if len(storedTasks(t, store)) != 8 {
		t.Fatalf("collection changed")
	}
	if got := n.last(t); got.severity != domain.SeveritySuccess {
		t.Fatalf("expected success notification, got %+v", got)
	}

	if err := repo.Delete(ctx, "2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(storedTasks(t, store)) != 7 {
		t.Fatalf("expected task removed")
	}
}

func TestShare(t *testing.T) {
	ctx := context.Background()
	repo, n := newTestRepo(t, storage.NewMemory())
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}

	first, err := repo.Share(ctx, "6", "a@example.com")
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if got := n.last(t); got.message != "Task shared with a@example.com" {
		t.Fatalf("unexpected notification %+v", got)
	}
	second, err := repo.Share(ctx, "6", "a@example.com")
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if len(second.SharedWith) != len(first.SharedWith)+1 {
		t.Fatalf("repeated share should append, got %v", second.SharedWith)
	}

	if _, err := repo.Share(ctx, "6", "  "); err == nil {
		t.Fatalf("expected validation error for empty email")
	}
	if _, err := repo.Share(ctx, "missing", "a@example.com"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCycleStatusReturnsToPending(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t, storage.NewMemory())
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []domain.Status{domain.StatusInProgress, domain.StatusCompleted, domain.StatusPending}
	for i, w := range want {
		task, err := repo.CycleStatus(ctx, "7")
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if task.Status != w {
			t.Fatalf("cycle %d: expected %s, got %s", i, w, task.Status)
		}
	}
}

func TestStorageFailureLeavesCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{mem: storage.NewMemory()}
	repo, n := newTestRepo(t, store)
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}

	cause := errors.New("disk full")
	store.setErr = cause
	_, err := repo.Create(ctx, owner, domain.TaskInput{Title: "lost"})
	var serr *domain.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("storage error should unwrap to cause")
	}
	if got := n.last(t); got.severity != domain.SeverityError {
		t.Fatalf("expected error notification, got %+v", got)
	}
	store.setErr = nil
	if len(storedTasks(t, store)) != 8 {
		t.Fatalf("failed write changed the collection")
	}

	store.getErr = cause
	if _, err := repo.Load(ctx, owner); !errors.As(err, &serr) || serr.Op != "read" {
		t.Fatalf("expected read storage error, got %v", err)
	}
}

func TestMutationRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{Memory: storage.NewMemory()}
	repo, _ := newTestRepo(t, store)
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}

	store.conflicts = 2
	store.attempts = 0
	if _, err := repo.Create(ctx, owner, domain.TaskInput{Title: "eventually"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if store.attempts != 3 {
		t.Fatalf("expected 3 write attempts, got %d", store.attempts)
	}
	if len(storedTasks(t, store)) != 9 {
		t.Fatalf("expected created task persisted")
	}

	repo.maxAttempts = 2
	store.conflicts = 10
	_, err := repo.Create(ctx, owner, domain.TaskInput{Title: "never"})
	if !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict after retries, got %v", err)
	}
}

func TestConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	repo := NewRepository(store, nil, nil)
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := repo.Create(ctx, owner, domain.TaskInput{Title: fmt.Sprintf("task %d", i)}); err != nil {
				t.Errorf("create %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all := storedTasks(t, store)
	if len(all) != 28 {
		t.Fatalf("expected 28 tasks, got %d", len(all))
	}
	seen := map[string]bool{}
	for _, task := range all {
		if seen[task.ID] {
			t.Fatalf("duplicate id %s", task.ID)
		}
		seen[task.ID] = true
	}
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf)
}

func TestRepositoryOverRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	base := storage.NewMemory()
	repo, _ := newTestRepo(t, storage.NewCache(base, client, time.Minute))

	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := repo.Load(ctx, owner); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !mr.Exists("cache:" + storage.TasksKey) {
		t.Fatalf("expected collection to be cached after load")
	}

	if _, err := repo.Create(ctx, owner, domain.TaskInput{Title: "cached"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if mr.Exists("cache:" + storage.TasksKey) {
		t.Fatalf("expected mutation to evict the cached collection")
	}
	tasks, err := repo.Load(ctx, owner)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 9 {
		t.Fatalf("expected 9 tasks after create, got %d", len(tasks))
	}
	if len(storedTasks(t, base)) != 9 {
		t.Fatalf("expected base store to hold the new task")
	}
}
