package mtask

import (
	"context"
	"fmt"

	"kyri56xcaesar/pms-tracker/internal/apperr"
)

// MembershipResolver answers the access questions the façade asks before it
// touches a repository. mteam.Service implements it.
type MembershipResolver interface {
	IsProjectMember(ctx context.Context, userID string, projectID int64) (bool, error)
	CanAccessTask(ctx context.Context, userID string, taskID int64) (bool, error)
}

// Scope is the only entry point handlers use: every task and comment
// operation is gated on the caller's team membership here. A task the caller
// cannot see and a task that does not exist look the same from outside.
type Scope struct {
	members  MembershipResolver
	tasks    *TaskRepository
	comments *CommentRepository
}

func NewScope(members MembershipResolver, tasks *TaskRepository, comments *CommentRepository) *Scope {
	return &Scope{members: members, tasks: tasks, comments: comments}
}

// ListTasksVisibleTo lists one project (in manual order) when projectID is
// set, otherwise every task the user can see (newest first). A named project
// is re-checked against the caller's membership.
func (s *Scope) ListTasksVisibleTo(ctx context.Context, userID string, projectID *int64) ([]Task, error) {
	if projectID == nil {
		return s.tasks.ListForUser(ctx, userID)
	}
	if err := s.requireProject(ctx, userID, *projectID); err != nil {
		return nil, err
	}
	return s.tasks.ListByProject(ctx, *projectID)
}

func (s *Scope) GetTask(ctx context.Context, userID string, id int64) (Task, error) {
	if err := s.requireTask(ctx, userID, id); err != nil {
		return Task{}, err
	}
	return s.tasks.Get(ctx, id)
}

func (s *Scope) CreateTask(ctx context.Context, userID string, t NewTask) (Task, error) {
	if t.ProjectID > 0 {
		if err := s.requireProject(ctx, userID, t.ProjectID); err != nil {
			return Task{}, err
		}
	}
	// input problems (missing project included) are reported by the repository
	return s.tasks.Create(ctx, t)
}

func (s *Scope) PatchTask(ctx context.Context, userID string, id int64, p TaskPatch) (Task, error) {
	if p.empty() {
		return Task{}, apperr.Validation("no valid fields")
	}
	if err := s.requireTask(ctx, userID, id); err != nil {
		return Task{}, err
	}
	return s.tasks.Patch(ctx, id, p)
}

// DeleteTask succeeds without doing anything when the task is missing or not
// visible to the caller.
func (s *Scope) DeleteTask(ctx context.Context, userID string, id int64) error {
	ok, err := s.members.CanAccessTask(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("check task access: %w", err)
	}
	if !ok {
		return nil
	}
	return s.tasks.Delete(ctx, id)
}

func (s *Scope) ListComments(ctx context.Context, userID string, taskID int64) ([]CommentView, error) {
	if taskID <= 0 {
		return nil, apperr.Validation("taskId required")
	}
	if err := s.requireTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	return s.comments.ListByTask(ctx, taskID)
}

// CreateComment always records the caller as the author.
func (s *Scope) CreateComment(ctx context.Context, userID string, taskID int64, body string) (Comment, error) {
	if taskID > 0 {
		if err := s.requireTask(ctx, userID, taskID); err != nil {
			return Comment{}, err
		}
	}
	return s.comments.Create(ctx, taskID, userID, body)
}

func (s *Scope) requireProject(ctx context.Context, userID string, projectID int64) error {
	ok, err := s.members.IsProjectMember(ctx, userID, projectID)
	if err != nil {
		return fmt.Errorf("check project access: %w", err)
	}
	if !ok {
		return apperr.Forbidden("project %d", projectID)
	}
	return nil
}

func (s *Scope) requireTask(ctx context.Context, userID string, taskID int64) error {
	ok, err := s.members.CanAccessTask(ctx, userID, taskID)
	if err != nil {
		return fmt.Errorf("check task access: %w", err)
	}
	if !ok {
		return apperr.Forbidden("task %d", taskID)
	}
	return nil
}
