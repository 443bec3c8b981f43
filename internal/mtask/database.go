package mtask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kyri56xcaesar/pms-tracker/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgForeignKeyViolation = "23503"

const taskColumns = `id, project_id, title, description, status, priority,
		       assignee_id, due_date, order_index, created_at`

// PGStore implements TaskStore and CommentStore on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func pgDate(d *Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func scanPGTask(row pgx.Row) (Task, error) {
	var (
		t   Task
		due *time.Time
	)
	if err := row.Scan(
		&t.TaskID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.AssigneeID,
		&due,
		&t.OrderIndex,
		&t.CreatedAt,
	); err != nil {
		return Task{}, err
	}
	t.DueDate = dateFromTime(due)
	return t, nil
}

func (s *PGStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanPGTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) ListTasksByProject(ctx context.Context, projectID int64) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = $1
		ORDER BY order_index ASC, created_at DESC, id DESC
	`, projectID)
}

func (s *PGStore) ListTasksInProjects(ctx context.Context, projectIDs []int64) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = ANY($1)
		ORDER BY created_at DESC, id DESC
	`, projectIDs)
}

func (s *PGStore) GetTask(ctx context.Context, id int64) (Task, error) {
	t, err := scanPGTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, apperr.NotFound("task %d", id)
	}
	return t, err
}

func (s *PGStore) InsertTask(ctx context.Context, nt NewTask) (Task, error) {
	t, err := scanPGTask(s.pool.QueryRow(ctx, `
		INSERT INTO tasks (project_id, title, description, status, priority, assignee_id, due_date, order_index)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+taskColumns,
		nt.ProjectID, nt.Title, textArg(nt.Description), nt.Status, nt.Priority, textArg(nt.AssigneeID), pgDate(nt.DueDate), nt.OrderIndex,
	))
	if isPGForeignKey(err) {
		return Task{}, apperr.NotFound("project %d", nt.ProjectID)
	}
	return t, err
}

func (s *PGStore) UpdateTask(ctx context.Context, id int64, p TaskPatch) (Task, error) {
	assigns := p.assignments(pgDate)
	if len(assigns) == 0 {
		return Task{}, apperr.Validation("no valid fields")
	}

	sets := make([]string, 0, len(assigns))
	args := make([]any, 0, len(assigns)+1)
	i := 1
	for _, a := range assigns {
		sets = append(sets, fmt.Sprintf("%s = $%d", a.column, i))
		args = append(args, a.value)
		i++
	}

	// WHERE id = $i
	args = append(args, id)
	q := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d RETURNING %s", strings.Join(sets, ", "), i, taskColumns)

	t, err := scanPGTask(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, apperr.NotFound("task %d", id)
	}
	return t, err
}

// DeleteTask relies on ON DELETE CASCADE for the comments.
func (s *PGStore) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (s *PGStore) ListComments(ctx context.Context, taskID int64) ([]CommentView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.task_id, c.user_id, c.body, c.created_at, u.name AS author_name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.task_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CommentView, 0)
	for rows.Next() {
		var cv CommentView
		if err := rows.Scan(&cv.CommentID, &cv.TaskID, &cv.UserID, &cv.Body, &cv.CreatedAt, &cv.AuthorName); err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func (s *PGStore) InsertComment(ctx context.Context, taskID int64, userID, body string) (Comment, error) {
	c := Comment{TaskID: taskID, UserID: userID, Body: body}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO comments (task_id, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, taskID, userID, body).Scan(&c.CommentID, &c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation && strings.Contains(pgErr.ConstraintName, "task_id") {
		return Comment{}, apperr.NotFound("task %d", taskID)
	}
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

func isPGForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
