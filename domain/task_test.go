package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func ptrString(s string) *string { return &s }

func TestStatusNextCycles(t *testing.T) {
	tests := []struct {
		in   Status
		want Status
	}{
		{StatusPending, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusCompleted, StatusPending},
		{Status("bogus"), StatusPending},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := tt.in.Next(); got != tt.want {
				t.Fatalf("%q.Next() = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	s := StatusPending
	for i := 0; i < 3; i++ {
		s = s.Next()
	}
	if s != StatusPending {
		t.Fatalf("expected three steps to return to pending, got %q", s)
	}
}

func TestTaskVisibleTo(t *testing.T) {
	task := Task{ID: "t1", UserID: "owner", SharedWith: []string{"friend@x.com"}}

	if !task.VisibleTo(User{ID: "owner", Email: "owner@x.com"}) {
		t.Fatalf("owner must see own task")
	}
	if !task.VisibleTo(User{ID: "other", Email: "friend@x.com"}) {
		t.Fatalf("shared email must see task")
	}
	if task.VisibleTo(User{ID: "other", Email: "stranger@x.com"}) {
		t.Fatalf("stranger must not see task")
	}
	if (Task{UserID: "owner", SharedWith: []string{""}}).VisibleTo(User{ID: "x"}) {
		t.Fatalf("empty email must not match an empty share entry")
	}
}

func TestTaskPatchApplyKeepsIdentity(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	task := Task{ID: "t1", Title: "old", UserID: "u1", CreatedAt: created, SharedWith: []string{"a@x.com"}}
	done := StatusCompleted
	due := time.Date(2024, 5, 6, 17, 30, 0, 0, time.UTC)

	TaskPatch{Title: ptrString("new"), Status: &done, DueDate: &due}.Apply(&task)

	if task.ID != "t1" || task.UserID != "u1" || !task.CreatedAt.Equal(created) {
		t.Fatalf("identity fields changed: %#v", task)
	}
	if task.Title != "new" || task.Status != StatusCompleted {
		t.Fatalf("patch not applied: %#v", task)
	}
	if task.DueDate == nil || !task.DueDate.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected due date truncated to day, got %v", task.DueDate)
	}
	if len(task.SharedWith) != 1 {
		t.Fatalf("sharedWith must be untouched, got %v", task.SharedWith)
	}

	TaskPatch{ClearDueDate: true}.Apply(&task)
	if task.DueDate != nil {
		t.Fatalf("expected due date cleared")
	}
}

func TestTaskPatchEmpty(t *testing.T) {
	if !(TaskPatch{}).Empty() {
		t.Fatalf("zero patch must be empty")
	}
	if (TaskPatch{SharedWith: []string{}}).Empty() {
		t.Fatalf("explicit sharedWith must count as a change")
	}
}

func TestEncodeDecodeTasksRoundTrip(t *testing.T) {
	seed := SeedTasks()
	now := time.Now()
	seed = append(seed, Task{
		ID: "new", Title: "t", Status: StatusPending, Priority: PriorityMedium,
		CreatedAt: now, UpdatedAt: now, UserID: "u2", SharedWith: []string{},
	})

	data, err := EncodeTasks(seed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTasks(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(seed) {
		t.Fatalf("expected %d tasks, got %d", len(seed), len(got))
	}
	for i := range seed {
		if !seed[i].Equal(got[i]) {
			t.Fatalf("task %d differs after round trip:\nwant %#v\ngot  %#v", i, seed[i], got[i])
		}
	}
}

func TestDecodeTasksAcceptsBrowserDates(t *testing.T) {
	data := []byte(`[{"id":"1","title":"x","description":"","status":"pending","priority":"low",` +
		`"dueDate":"2024-01-15T00:00:00.000Z","createdAt":"2024-01-01T00:00:00.000Z",` +
		`"updatedAt":"2024-01-15T00:00:00.000Z","userId":"1"}]`)
	tasks, err := DecodeTasks(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	if tasks[0].SharedWith == nil {
		t.Fatalf("expected missing sharedWith to decode as empty slice")
	}
	if !tasks[0].DueDate.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date %v", tasks[0].DueDate)
	}
}

func TestTaskMarshalOmitsMissingDueDate(t *testing.T) {
	payload, err := sonic.Marshal(Task{ID: "t1", Title: "Title", SharedWith: []string{}})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	if strings.Contains(string(payload), "dueDate") {
		t.Fatalf("expected dueDate to be omitted, got %s", payload)
	}
	if !strings.Contains(string(payload), `"sharedWith":[]`) {
		t.Fatalf("expected empty sharedWith array, got %s", payload)
	}
}

func TestSeedTasks(t *testing.T) {
	seed := SeedTasks()
	if len(seed) != 8 {
		t.Fatalf("expected 8 seed tasks, got %d", len(seed))
	}
	var pending []string
	for _, task := range seed {
		if task.UserID != SeedOwnerID {
			t.Fatalf("seed task %s has owner %s", task.ID, task.UserID)
		}
		if task.UpdatedAt.Before(task.CreatedAt) {
			t.Fatalf("seed task %s updated before created", task.ID)
		}
		if task.Status == StatusPending {
			pending = append(pending, task.ID)
		}
	}
	if strings.Join(pending, ",") != "6,7,8" {
		t.Fatalf("unexpected pending seed ids: %v", pending)
	}
}

func TestUserAvatarURLFallback(t *testing.T) {
	u := User{Email: "a b@x.com"}
	if got := u.AvatarURL(); got != "https://api.dicebear.com/7.x/avatars/svg?seed=a+b%40x.com" {
		t.Fatalf("unexpected fallback avatar %q", got)
	}
	u.Avatar = "https://img/1.png"
	if u.AvatarURL() != "https://img/1.png" {
		t.Fatalf("expected explicit avatar")
	}
}
