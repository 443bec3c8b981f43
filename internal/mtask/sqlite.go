package mtask

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kyri56xcaesar/pms-tracker/internal/apperr"
	"kyri56xcaesar/pms-tracker/internal/storage"
)

// SQLiteStore implements TaskStore and CommentStore on database/sql with the
// modernc SQLite driver.
type SQLiteStore struct {
	db    *sql.DB
	clock *storage.Clock
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: storage.NewClock()}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(row scanner) (Task, error) {
	var (
		t           Task
		description sql.NullString
		assignee    sql.NullString
		due         sql.NullString
		createdAt   string
	)
	if err := row.Scan(
		&t.TaskID,
		&t.ProjectID,
		&t.Title,
		&description,
		&t.Status,
		&t.Priority,
		&assignee,
		&due,
		&t.OrderIndex,
		&createdAt,
	); err != nil {
		return Task{}, err
	}

	if description.Valid {
		t.Description = &description.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	dueAt, err := storage.ParseDate(due)
	if err != nil {
		return Task{}, err
	}
	t.DueDate = dateFromTime(dueAt)
	if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return Task{}, err
	}
	return t, nil
}

func sqliteDate(d *Date) any {
	if d == nil {
		return nil
	}
	return storage.FormatDate(&d.Time)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTasksByProject(ctx context.Context, projectID int64) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = ?
		ORDER BY order_index ASC, created_at DESC, id DESC
	`, projectID)
}

func (s *SQLiteStore) ListTasksInProjects(ctx context.Context, projectIDs []int64) ([]Task, error) {
	args := make([]any, len(projectIDs))
	for i, id := range projectIDs {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(projectIDs)), ",")

	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id IN (`+marks+`)
		ORDER BY created_at DESC, id DESC
	`, args...)
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (Task, error) {
	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.NotFound("task %d", id)
	}
	return t, err
}

func (s *SQLiteStore) InsertTask(ctx context.Context, nt NewTask) (Task, error) {
	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (project_id, title, description, status, priority, assignee_id, due_date, order_index, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = ?)
		RETURNING `+taskColumns,
		nt.ProjectID, nt.Title, textArg(nt.Description), nt.Status, nt.Priority, textArg(nt.AssigneeID),
		sqliteDate(nt.DueDate), nt.OrderIndex, storage.FormatTime(s.clock.Now()),
		nt.ProjectID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.NotFound("project %d", nt.ProjectID)
	}
	return t, err
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, p TaskPatch) (Task, error) {
	assigns := p.assignments(sqliteDate)
	if len(assigns) == 0 {
		return Task{}, apperr.Validation("no valid fields")
	}

	sets := make([]string, 0, len(assigns))
	args := make([]any, 0, len(assigns)+1)
	for _, a := range assigns {
		sets = append(sets, a.column+" = ?")
		args = append(args, a.value)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ? RETURNING %s", strings.Join(sets, ", "), taskColumns)

	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.NotFound("task %d", id)
	}
	return t, err
}

// DeleteTask removes the comments first in the same transaction, so the
// cascade holds even on connections opened without foreign_keys.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListComments(ctx context.Context, taskID int64) ([]CommentView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.task_id, c.user_id, c.body, c.created_at, u.name AS author_name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.task_id = ?
		ORDER BY c.created_at ASC, c.id ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CommentView, 0)
	for rows.Next() {
		var (
			cv        CommentView
			createdAt string
		)
		if err := rows.Scan(&cv.CommentID, &cv.TaskID, &cv.UserID, &cv.Body, &createdAt, &cv.AuthorName); err != nil {
			return nil, err
		}
		if cv.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertComment(ctx context.Context, taskID int64, userID, body string) (Comment, error) {
	c := Comment{TaskID: taskID, UserID: userID, Body: body, CreatedAt: s.clock.Now()}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (task_id, user_id, body, created_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM tasks WHERE id = ?)
		RETURNING id
	`, taskID, userID, body, storage.FormatTime(c.CreatedAt), taskID).Scan(&c.CommentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, apperr.NotFound("task %d", taskID)
	}
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}
