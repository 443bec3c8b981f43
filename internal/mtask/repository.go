package mtask

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"kyri56xcaesar/pms-tracker/internal/apperr"

	"github.com/go-playground/validator/v10"
)

// TaskStore runs the task statements. Every method is a single statement or
// a single transaction; implementations translate "no row" into
// apperr.ErrNotFound.
type TaskStore interface {
	ListTasksByProject(ctx context.Context, projectID int64) ([]Task, error)
	ListTasksInProjects(ctx context.Context, projectIDs []int64) ([]Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	InsertTask(ctx context.Context, t NewTask) (Task, error)
	UpdateTask(ctx context.Context, id int64, p TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type CommentStore interface {
	ListComments(ctx context.Context, taskID int64) ([]CommentView, error)
	InsertComment(ctx context.Context, taskID int64, userID, body string) (Comment, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "gt":
			msgs = append(msgs, fe.Field()+" required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

// ProjectResolver names the projects a user reaches through team membership.
type ProjectResolver interface {
	AccessibleProjectIDs(ctx context.Context, userID string) ([]int64, error)
}

// TaskRepository validates task input and delegates to a TaskStore. It does
// not check access; see Scope.
type TaskRepository struct {
	store    TaskStore
	projects ProjectResolver
}

func NewTaskRepository(store TaskStore, projects ProjectResolver) *TaskRepository {
	return &TaskRepository{store: store, projects: projects}
}

// ListByProject orders by order_index ascending, newest first within equal
// order_index.
func (r *TaskRepository) ListByProject(ctx context.Context, projectID int64) ([]Task, error) {
	if projectID <= 0 {
		return nil, apperr.Validation("projectId required")
	}
	return r.store.ListTasksByProject(ctx, projectID)
}

// ListForUser returns the tasks of every project the resolver grants the
// user, newest first.
func (r *TaskRepository) ListForUser(ctx context.Context, userID string) ([]Task, error) {
	if userID == "" {
		return nil, apperr.Validation("user id required")
	}
	ids, err := r.projects.AccessibleProjectIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Task{}, nil
	}
	return r.store.ListTasksInProjects(ctx, ids)
}

func (r *TaskRepository) Get(ctx context.Context, id int64) (Task, error) {
	if id <= 0 {
		return Task{}, apperr.NotFound("task %d", id)
	}
	return r.store.GetTask(ctx, id)
}

func (r *TaskRepository) Create(ctx context.Context, t NewTask) (Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if err := validate.Struct(t); err != nil {
		return Task{}, validationError(err)
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	return r.store.InsertTask(ctx, t)
}

// Patch applies every set field of p in one UPDATE and returns the refreshed
// row. A patch with no set field is a validation error; a missing row is
// apperr.ErrNotFound.
func (r *TaskRepository) Patch(ctx context.Context, id int64, p TaskPatch) (Task, error) {
	if p.empty() {
		return Task{}, apperr.Validation("no valid fields")
	}
	if err := checkPatch(&p); err != nil {
		return Task{}, err
	}
	if id <= 0 {
		return Task{}, apperr.NotFound("task %d", id)
	}
	return r.store.UpdateTask(ctx, id, p)
}

func checkPatch(p *TaskPatch) error {
	if p.Title.Set {
		p.Title.Value = strings.TrimSpace(p.Title.Value)
		if p.Title.Null || p.Title.Value == "" {
			return apperr.Validation("title must not be empty")
		}
	}
	if p.Status.Set {
		if err := validate.Var(p.Status.Value, "required,"+statusRule); err != nil {
			return apperr.Validation("status must be one of [todo in-progress done]")
		}
	}
	if p.Priority.Set {
		if err := validate.Var(p.Priority.Value, "required,"+priorityRule); err != nil {
			return apperr.Validation("priority must be one of [low normal high urgent]")
		}
	}
	if p.OrderIndex.Set && p.OrderIndex.Null {
		return apperr.Validation("order_index must be an integer")
	}
	return nil
}

// Delete is idempotent. Comments of the task go with it.
func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return nil
	}
	return r.store.DeleteTask(ctx, id)
}

// CommentRepository is the append-only comment log.
type CommentRepository struct {
	store CommentStore
}

func NewCommentRepository(store CommentStore) *CommentRepository {
	return &CommentRepository{store: store}
}

// ListByTask returns the thread oldest first, each comment with its author's
// name.
func (r *CommentRepository) ListByTask(ctx context.Context, taskID int64) ([]CommentView, error) {
	if taskID <= 0 {
		return nil, apperr.Validation("taskId required")
	}
	return r.store.ListComments(ctx, taskID)
}

// Create stores body under authorID. The author is always the acting
// identity, never request input.
func (r *CommentRepository) Create(ctx context.Context, taskID int64, authorID, body string) (Comment, error) {
	body = strings.TrimSpace(body)
	if taskID <= 0 || body == "" {
		return Comment{}, apperr.Validation("taskId and body required")
	}
	if authorID == "" {
		return Comment{}, apperr.Validation("author required")
	}
	return r.store.InsertComment(ctx, taskID, authorID, body)
}
