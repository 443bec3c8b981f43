package mtask

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kyri56xcaesar/pms-tracker/internal/apperr"
	"kyri56xcaesar/pms-tracker/internal/mteam"
	"kyri56xcaesar/pms-tracker/internal/storage"
)

type fixture struct {
	backend  *Backend
	teams    *mteam.Service
	tasks    *TaskRepository
	comments *CommentRepository
	scope    *Scope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	store := NewSQLiteStore(db)
	b := NewBackend(mteam.NewSQLiteStore(db), store, store, func() { db.Close() })
	t.Cleanup(b.Close)

	return &fixture{
		backend:  b,
		teams:    b.Teams,
		tasks:    b.Scope.tasks,
		comments: b.Scope.comments,
		scope:    b.Scope,
	}
}

// project creates a team owned by owner with a single project in it.
func (f *fixture) project(t *testing.T, owner, name string) mteam.Project {
	t.Helper()
	ctx := context.Background()

	if err := f.teams.EnsureUser(ctx, mteam.User{ID: owner, Name: owner}); err != nil {
		t.Fatalf("EnsureUser(%s): %v", owner, err)
	}
	team, err := f.teams.CreateTeam(ctx, owner, name+"-team", "")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	p, err := f.teams.CreateProject(ctx, owner, team.TeamID, name)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func (f *fixture) task(t *testing.T, projectID int64, title string, order int) Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), NewTask{ProjectID: projectID, Title: title, OrderIndex: order})
	if err != nil {
		t.Fatalf("Create(%s): %v", title, err)
	}
	return task
}

func strp(s string) *string { return &s }

func titles(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "alice", "p")

	task, err := f.tasks.Create(context.Background(), NewTask{ProjectID: p.ProjectID, Title: "  Ship v1  "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if task.TaskID <= 0 {
		t.Errorf("id = %d, want assigned", task.TaskID)
	}
	if task.Title != "Ship v1" {
		t.Errorf("title = %q, want trimmed", task.Title)
	}
	if task.Status != StatusTodo || task.Priority != PriorityNormal || task.OrderIndex != 0 {
		t.Errorf("defaults = %s/%s/%d", task.Status, task.Priority, task.OrderIndex)
	}
	if task.Description != nil || task.AssigneeID != nil || task.DueDate != nil {
		t.Errorf("optional fields should be nil: %+v", task)
	}
	if task.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestCreateKeepsOptionalFields(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	due := NewDate(2026, time.March, 9)

	task, err := f.tasks.Create(context.Background(), NewTask{
		ProjectID:   p.ProjectID,
		Title:       "write docs",
		Description: strp("all of them"),
		Status:      StatusInProgress,
		Priority:    "urgent",
		AssigneeID:  strp("alice"),
		DueDate:     &due,
		OrderIndex:  4,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.tasks.Get(context.Background(), task.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Description == nil || *got.Description != "all of them" {
		t.Errorf("description = %v", got.Description)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "alice" {
		t.Errorf("assignee = %v", got.AssigneeID)
	}
	if got.DueDate == nil || got.DueDate.String() != "2026-03-09" {
		t.Errorf("due_date = %v", got.DueDate)
	}
	if got.Status != StatusInProgress || got.Priority != "urgent" || got.OrderIndex != 4 {
		t.Errorf("got %s/%s/%d", got.Status, got.Priority, got.OrderIndex)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "alice", "p")

	cases := []struct {
		name string
		in   NewTask
		kind error
	}{
		{"missing project", NewTask{Title: "x"}, apperr.ErrValidation},
		{"blank title", NewTask{ProjectID: p.ProjectID, Title: "   "}, apperr.ErrValidation},
		{"bad status", NewTask{ProjectID: p.ProjectID, Title: "x", Status: "blocked"}, apperr.ErrValidation},
		{"bad priority", NewTask{ProjectID: p.ProjectID, Title: "x", Priority: "meh"}, apperr.ErrValidation},
		{"unknown project", NewTask{ProjectID: p.ProjectID + 50, Title: "x"}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tasks.Create(context.Background(), tc.in)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want %v", err, tc.kind)
			}
		})
	}
}

// Title and description length is not capped on create or on patch.
func TestLongTextOnCreateAndPatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")

	long := strings.Repeat("x", 201)
	body := strings.Repeat("y", 5001)
	task, err := f.tasks.Create(ctx, NewTask{ProjectID: p.ProjectID, Title: long, Description: &body})
	if err != nil {
		t.Fatalf("Create with long text: %v", err)
	}
	if task.Title != long || task.Description == nil || *task.Description != body {
		t.Fatalf("created = %d/%v", len(task.Title), task.Description != nil)
	}

	longer := long + long
	patched, err := f.tasks.Patch(ctx, task.TaskID, TaskPatch{Title: Some(longer)})
	if err != nil {
		t.Fatalf("Patch with long title: %v", err)
	}
	if patched.Title != longer {
		t.Fatalf("patched title has %d chars, want %d", len(patched.Title), len(longer))
	}
}

func TestCreateAssignsUniqueIDsAndIncreasingTimes(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "alice", "p")

	seen := map[int64]bool{}
	var last time.Time
	for i := 0; i < 20; i++ {
		task := f.task(t, p.ProjectID, "t", 0)
		if seen[task.TaskID] {
			t.Fatalf("duplicate id %d", task.TaskID)
		}
		seen[task.TaskID] = true
		if !task.CreatedAt.After(last) {
			t.Fatalf("created_at %v not after %v", task.CreatedAt, last)
		}
		last = task.CreatedAt
	}
}

func TestListByProjectOrdering(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	other := f.project(t, "alice", "other")

	f.task(t, p.ProjectID, "b", 1)
	f.task(t, p.ProjectID, "old-zero", 0)
	f.task(t, p.ProjectID, "a", 2)
	f.task(t, other.ProjectID, "elsewhere", 0)
	f.task(t, p.ProjectID, "Ship v1", 0)

	got, err := f.tasks.ListByProject(context.Background(), p.ProjectID)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	want := []string{"Ship v1", "old-zero", "b", "a"}
	if !equalStrings(titles(got), want) {
		t.Fatalf("order = %v, want %v", titles(got), want)
	}

	empty, err := f.tasks.ListByProject(context.Background(), p.ProjectID+100)
	if err != nil {
		t.Fatalf("ListByProject(unknown): %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("unknown project = %v, want empty", empty)
	}

	if _, err := f.tasks.ListByProject(context.Background(), 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("ListByProject(0) err = %v", err)
	}
}

func TestListForUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p1 := f.project(t, "alice", "p1")
	p2 := f.project(t, "alice", "p2")
	hidden := f.project(t, "bob", "hidden")

	f.task(t, p1.ProjectID, "first", 5)
	f.task(t, hidden.ProjectID, "bobs", 0)
	f.task(t, p2.ProjectID, "second", 0)
	f.task(t, p1.ProjectID, "third", 9)

	got, err := f.tasks.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	want := []string{"third", "second", "first"}
	if !equalStrings(titles(got), want) {
		t.Fatalf("alice = %v, want %v", titles(got), want)
	}

	got, err = f.tasks.ListForUser(ctx, "carol")
	if err != nil {
		t.Fatalf("ListForUser(carol): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("carol sees %v", titles(got))
	}
}

type fixedProjects struct {
	ids []int64
	err error
}

func (f fixedProjects) AccessibleProjectIDs(context.Context, string) ([]int64, error) {
	return f.ids, f.err
}

func TestListForUserUsesResolverProjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p1 := f.project(t, "alice", "p1")
	p2 := f.project(t, "bob", "p2")
	f.task(t, p1.ProjectID, "alices", 0)
	f.task(t, p2.ProjectID, "bobs", 0)

	repo := NewTaskRepository(f.tasks.store, fixedProjects{ids: []int64{p2.ProjectID}})
	got, err := repo.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if !equalStrings(titles(got), []string{"bobs"}) {
		t.Fatalf("got %v, want only the resolver's project", titles(got))
	}

	repo = NewTaskRepository(f.tasks.store, fixedProjects{})
	if got, err := repo.ListForUser(ctx, "alice"); err != nil || got == nil || len(got) != 0 {
		t.Fatalf("no projects = %v, %v", got, err)
	}

	boom := errors.New("resolver down")
	repo = NewTaskRepository(f.tasks.store, fixedProjects{err: boom})
	if _, err := repo.ListForUser(ctx, "alice"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want resolver error", err)
	}
}

func TestPatchTouchesOnlySetFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	due := NewDate(2026, time.January, 2)

	orig, err := f.tasks.Create(ctx, NewTask{
		ProjectID:   p.ProjectID,
		Title:       "keep me",
		Description: strp("desc"),
		Priority:    "high",
		AssigneeID:  strp("alice"),
		DueDate:     &due,
		OrderIndex:  3,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.tasks.Patch(ctx, orig.TaskID, TaskPatch{Status: Some(StatusDone)})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got.Status != StatusDone {
		t.Errorf("status = %s", got.Status)
	}
	if got.Title != orig.Title || got.Priority != orig.Priority || got.OrderIndex != orig.OrderIndex ||
		*got.Description != *orig.Description || *got.AssigneeID != *orig.AssigneeID ||
		got.DueDate.String() != orig.DueDate.String() || !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("untouched fields changed: %+v vs %+v", got, orig)
	}
}

func TestPatchClearsNullableFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	due := NewDate(2026, time.January, 2)

	orig, err := f.tasks.Create(ctx, NewTask{
		ProjectID:   p.ProjectID,
		Title:       "t",
		Description: strp("desc"),
		AssigneeID:  strp("alice"),
		DueDate:     &due,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.tasks.Patch(ctx, orig.TaskID, TaskPatch{
		Description: Field[*string]{Set: true, Null: true},
		AssigneeID:  Field[*string]{Set: true, Null: true},
		DueDate:     Field[*Date]{Set: true, Null: true},
		OrderIndex:  Some(7),
		Title:       Some(" renamed "),
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got.Description != nil || got.AssigneeID != nil || got.DueDate != nil {
		t.Errorf("nullable fields not cleared: %+v", got)
	}
	if got.OrderIndex != 7 || got.Title != "renamed" {
		t.Errorf("got order %d title %q", got.OrderIndex, got.Title)
	}
}

func TestPatchRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	task := f.task(t, p.ProjectID, "t", 0)

	cases := []struct {
		name  string
		id    int64
		patch TaskPatch
		kind  error
	}{
		{"empty patch", task.TaskID, TaskPatch{}, apperr.ErrValidation},
		{"bogus status", task.TaskID, TaskPatch{Status: Some("bogus")}, apperr.ErrValidation},
		{"null status", task.TaskID, TaskPatch{Status: Field[string]{Set: true, Null: true}}, apperr.ErrValidation},
		{"bogus priority", task.TaskID, TaskPatch{Priority: Some("meh")}, apperr.ErrValidation},
		{"blank title", task.TaskID, TaskPatch{Title: Some("  ")}, apperr.ErrValidation},
		{"null order", task.TaskID, TaskPatch{OrderIndex: Field[int]{Set: true, Null: true}}, apperr.ErrValidation},
		{"missing task", task.TaskID + 100, TaskPatch{Status: Some(StatusDone)}, apperr.ErrNotFound},
		{"zero id", 0, TaskPatch{Status: Some(StatusDone)}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tasks.Patch(ctx, tc.id, tc.patch)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want %v", err, tc.kind)
			}
		})
	}

	got, err := f.tasks.Get(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusTodo || got.Title != "t" {
		t.Fatalf("rejected patches changed the row: %+v", got)
	}
}

func TestDeleteCascadesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	task := f.task(t, p.ProjectID, "t", 0)
	keep := f.task(t, p.ProjectID, "keep", 0)

	if _, err := f.comments.Create(ctx, task.TaskID, "alice", "bye"); err != nil {
		t.Fatalf("Create comment: %v", err)
	}
	if _, err := f.comments.Create(ctx, keep.TaskID, "alice", "stay"); err != nil {
		t.Fatalf("Create comment: %v", err)
	}

	if err := f.tasks.Delete(ctx, task.TaskID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.tasks.Get(ctx, task.TaskID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}

	left, err := f.comments.ListByTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("comments survived delete: %v", left)
	}
	kept, _ := f.comments.ListByTask(ctx, keep.TaskID)
	if len(kept) != 1 {
		t.Fatalf("other task lost comments: %v", kept)
	}

	if err := f.tasks.Delete(ctx, task.TaskID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if err := f.tasks.Delete(ctx, 0); err != nil {
		t.Fatalf("Delete(0): %v", err)
	}
}

func TestCommentsOldestFirstWithAuthor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	task := f.task(t, p.ProjectID, "t", 0)

	if err := f.teams.EnsureUser(ctx, mteam.User{ID: "bob", Name: "Bob Builder"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	for _, c := range []struct{ who, body string }{
		{"alice", "first"},
		{"bob", "second"},
		{"alice", "  third  "},
	} {
		if _, err := f.comments.Create(ctx, task.TaskID, c.who, c.body); err != nil {
			t.Fatalf("Create(%s): %v", c.body, err)
		}
	}

	got, err := f.comments.ListByTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d comments", len(got))
	}
	wantBodies := []string{"first", "second", "third"}
	wantAuthors := []string{"alice", "Bob Builder", "alice"}
	for i := range got {
		if got[i].Body != wantBodies[i] || got[i].AuthorName != wantAuthors[i] {
			t.Errorf("comment %d = %q by %q", i, got[i].Body, got[i].AuthorName)
		}
		if i > 0 && !got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("comment %d not after %d", i, i-1)
		}
	}
}

func TestCommentRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.project(t, "alice", "p")
	task := f.task(t, p.ProjectID, "t", 0)

	if _, err := f.comments.Create(ctx, task.TaskID, "alice", "   "); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("blank body err = %v", err)
	}
	if _, err := f.comments.Create(ctx, 0, "alice", "hi"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing task err = %v", err)
	}
	if _, err := f.comments.Create(ctx, task.TaskID, "", "hi"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing author err = %v", err)
	}
	if _, err := f.comments.Create(ctx, task.TaskID+100, "alice", "hi"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown task err = %v", err)
	}
	if _, err := f.comments.ListByTask(ctx, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("ListByTask(0) err = %v", err)
	}
}
