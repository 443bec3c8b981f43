package mteam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kyri56xcaesar/pms-tracker/internal/apperr"
	"kyri56xcaesar/pms-tracker/internal/storage"
)

// SQLiteStore is the database/sql implementation of Store used for local runs
// and tests.
type SQLiteStore struct {
	db    *sql.DB
	clock *storage.Clock
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: storage.NewClock()}
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
		WHERE excluded.name <> ''
	`, u.ID, u.Name)
	return err
}

func (s *SQLiteStore) CreateTeam(ctx context.Context, name, desc, ownerID string) (Team, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Team{}, err
	}
	defer tx.Rollback()

	t := Team{Name: name, Description: desc, Role: RoleOwner, MemberCount: 1, CreatedAt: s.clock.Now()}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO teams (name, description, created_at) VALUES (?, ?, ?)`,
		name, desc, storage.FormatTime(t.CreatedAt),
	)
	if err != nil {
		return Team{}, err
	}
	if t.TeamID, err = res.LastInsertId(); err != nil {
		return Team{}, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT (id) DO NOTHING`, ownerID); err != nil {
		return Team{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO team_memberships (team_id, user_id, role) VALUES (?, ?, 'owner')`,
		t.TeamID, ownerID,
	); err != nil {
		return Team{}, err
	}

	if err := tx.Commit(); err != nil {
		return Team{}, err
	}
	t.Members = []TeamMember{{TeamID: t.TeamID, UserID: ownerID, Role: RoleOwner}}
	return t, nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, teamID int64, userID, role string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE id = ?)`, teamID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("team %d", teamID)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES (?) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO team_memberships (team_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = excluded.role
	`, teamID, userID, role); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, teamID int64, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM team_memberships WHERE team_id = ? AND user_id = ?`, teamID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("member %s of team %d", userID, teamID)
	}
	return nil
}

func (s *SQLiteStore) MemberRole(ctx context.Context, teamID int64, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM team_memberships WHERE team_id = ? AND user_id = ?`, teamID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("member %s of team %d", userID, teamID)
	}
	return role, err
}

func (s *SQLiteStore) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
		  t.id,
		  t.name,
		  COALESCE(t.description, ''),
		  t.created_at,
		  me.role,
		  COUNT(m.user_id),
		  json_group_array(json_object('user_id', m.user_id, 'name', COALESCE(u.name, ''), 'role', m.role))
		FROM teams t
		JOIN team_memberships me ON me.team_id = t.id AND me.user_id = ?
		LEFT JOIN team_memberships m ON m.team_id = t.id
		LEFT JOIN users u ON u.id = m.user_id
		GROUP BY t.id, me.role
		ORDER BY t.created_at DESC, t.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Team, 0)
	for rows.Next() {
		var (
			t           Team
			createdAt   string
			membersJSON string
		)
		if err := rows.Scan(&t.TeamID, &t.Name, &t.Description, &createdAt, &t.Role, &t.MemberCount, &membersJSON); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(membersJSON), &t.Members); err != nil {
			return nil, fmt.Errorf("unmarshal members_json: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTeams matches names with LIKE, which SQLite compares without case for
// ASCII.
func (s *SQLiteStore) ListTeams(ctx context.Context, f TeamFilter) ([]Team, error) {
	var (
		where string
		args  []any
	)
	if f.TeamID != nil {
		where = "WHERE t.id = ?"
		args = append(args, *f.TeamID)
	} else if f.Name != nil && *f.Name != "" {
		where = "WHERE t.name LIKE ?"
		args = append(args, "%"+*f.Name+"%")
	}

	query := fmt.Sprintf(`
		SELECT
		  t.id,
		  t.name,
		  COALESCE(t.description, ''),
		  t.created_at,
		  COUNT(m.user_id),
		  json_group_array(json_object('user_id', m.user_id, 'name', COALESCE(u.name, ''), 'role', m.role))
		    FILTER (WHERE m.user_id IS NOT NULL)
		FROM teams t
		LEFT JOIN team_memberships m ON m.team_id = t.id
		LEFT JOIN users u ON u.id = m.user_id
		%s
		GROUP BY t.id
		ORDER BY %s
		LIMIT ?
	`, where, orderClause(f.Order))
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Team, 0, f.Limit)
	for rows.Next() {
		var (
			t           Team
			createdAt   string
			membersJSON string
		)
		if err := rows.Scan(&t.TeamID, &t.Name, &t.Description, &createdAt, &t.MemberCount, &membersJSON); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(membersJSON), &t.Members); err != nil {
			return nil, fmt.Errorf("unmarshal members_json: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTeam(ctx context.Context, teamID int64, req UpdateTeamRequest) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if req.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *req.Name)
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *req.Description)
	}
	if len(sets) == 0 {
		return apperr.Validation("no fields to update")
	}

	args = append(args, teamID)
	res, err := s.db.ExecContext(ctx, "UPDATE teams SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("team %d", teamID)
	}
	return nil
}

// DeleteTeam needs foreign_keys(1) on the connection for the cascade.
func (s *SQLiteStore) DeleteTeam(ctx context.Context, teamID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, teamID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("team %d", teamID)
	}
	return nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, teamID int64, name string) (Project, error) {
	p := Project{TeamID: teamID, Name: name, CreatedAt: s.clock.Now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (team_id, name, created_at) VALUES (?, ?, ?)`,
		teamID, name, storage.FormatTime(p.CreatedAt),
	)
	if err != nil {
		return Project{}, err
	}
	p.ProjectID, err = res.LastInsertId()
	return p, err
}

func (s *SQLiteStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.team_id, p.name, p.created_at
		FROM projects p
		JOIN team_memberships tm ON tm.team_id = p.team_id
		WHERE tm.user_id = ?
		ORDER BY p.created_at DESC, p.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Project, 0)
	for rows.Next() {
		var (
			p         Project
			createdAt string
		)
		if err := rows.Scan(&p.ProjectID, &p.TeamID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AccessibleProjectIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id
		FROM team_memberships tm
		JOIN teams t ON t.id = tm.team_id
		JOIN projects p ON p.team_id = t.id
		WHERE tm.user_id = ?
		ORDER BY p.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) IsProjectMember(ctx context.Context, userID string, projectID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
		    SELECT 1 FROM projects p
		    JOIN team_memberships tm ON tm.team_id = p.team_id
		    WHERE p.id = ? AND tm.user_id = ?
		)
	`, projectID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLiteStore) CanAccessTask(ctx context.Context, userID string, taskID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
		    SELECT 1 FROM tasks t
		    JOIN projects p ON p.id = t.project_id
		    JOIN team_memberships tm ON tm.team_id = p.team_id
		    WHERE t.id = ? AND tm.user_id = ?
		)
	`, taskID, userID).Scan(&exists)
	return exists, err
}
