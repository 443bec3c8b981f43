package mteam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kyri56xcaesar/pms-tracker/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		WHERE EXCLUDED.name <> '' AND users.name IS DISTINCT FROM EXCLUDED.name
	`, u.ID, u.Name)
	return err
}

func (s *PGStore) CreateTeam(ctx context.Context, name, desc, ownerID string) (Team, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Team{}, err
	}
	defer tx.Rollback(ctx)

	t := Team{Name: name, Description: desc, Role: RoleOwner, MemberCount: 1}
	err = tx.QueryRow(ctx,
		`insert into teams(name, description) values($1, $2) returning id, created_at`,
		name, desc,
	).Scan(&t.TeamID, &t.CreatedAt)
	if err != nil {
		return Team{}, err
	}

	if _, err = tx.Exec(ctx, `
		insert into users (id) values ($1) on conflict (id) do nothing
	`, ownerID); err != nil {
		return Team{}, err
	}

	_, err = tx.Exec(ctx, `
		insert into team_memberships (team_id, user_id, role)
		values ($1, $2, 'owner')
	`, t.TeamID, ownerID)
	if err != nil {
		return Team{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Team{}, err
	}
	t.Members = []TeamMember{{TeamID: t.TeamID, UserID: ownerID, Role: RoleOwner}}
	return t, nil
}

func (s *PGStore) AddMember(ctx context.Context, teamID int64, userID, role string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `insert into users (id) values ($1) on conflict (id) do nothing`, userID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO team_memberships (team_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (team_id, user_id) DO UPDATE SET role = EXCLUDED.role
    `, teamID, userID, role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperr.NotFound("team %d", teamID)
		}
		return err
	}

	return tx.Commit(ctx)
}

func (s *PGStore) RemoveMember(ctx context.Context, teamID int64, userID string) error {
	ct, err := s.pool.Exec(ctx, `
        DELETE FROM team_memberships
        WHERE team_id = $1 AND user_id = $2
    `, teamID, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("member %s of team %d", userID, teamID)
	}
	return nil
}

func (s *PGStore) MemberRole(ctx context.Context, teamID int64, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
        SELECT role FROM team_memberships
        WHERE team_id = $1 AND user_id = $2
    `, teamID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("member %s of team %d", userID, teamID)
	}
	return role, err
}

func (s *PGStore) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT
          t.id,
          t.name,
          COALESCE(t.description,'') AS description,
          t.created_at,
          me.role,

          COUNT(m.user_id) AS member_count,

          COALESCE(
            json_agg(
              json_build_object('user_id', m.user_id, 'name', COALESCE(u.name, ''), 'role', m.role)
              ORDER BY (m.role = 'owner') DESC, m.user_id
            ) FILTER (WHERE m.user_id IS NOT NULL),
            '[]'::json
          ) AS members_json

        FROM teams t
        -- restrict to teams that THIS user belongs to
        JOIN team_memberships me
          ON me.team_id = t.id AND me.user_id = $1

        -- aggregate ALL members for those teams
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
			membersJSON []byte
		)
		if err := rows.Scan(
			&t.TeamID,
			&t.Name,
			&t.Description,
			&t.CreatedAt,
			&t.Role,
			&t.MemberCount,
			&membersJSON,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(membersJSON, &t.Members); err != nil {
			return nil, fmt.Errorf("unmarshal members_json: %w", err)
		}

		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTeams is the admin view: every team, optionally narrowed by id or by a
// case-insensitive name match.
func (s *PGStore) ListTeams(ctx context.Context, f TeamFilter) ([]Team, error) {
	var (
		where  string
		args   []any
		argIdx = 1
	)

	if f.TeamID != nil {
		where = fmt.Sprintf("WHERE t.id = $%d", argIdx)
		args = append(args, *f.TeamID)
		argIdx++
	} else if f.Name != nil && *f.Name != "" {
		where = fmt.Sprintf("WHERE t.name ILIKE $%d", argIdx)
		args = append(args, "%"+*f.Name+"%")
		argIdx++
	}

	query := fmt.Sprintf(`
        SELECT
          t.id,
          t.name,
          COALESCE(t.description,'') AS description,
          t.created_at,

          COUNT(m.user_id) AS member_count,

          COALESCE(
            json_agg(
              json_build_object('user_id', m.user_id, 'name', COALESCE(u.name, ''), 'role', m.role)
              ORDER BY (m.role = 'owner') DESC, m.user_id
            ) FILTER (WHERE m.user_id IS NOT NULL),
            '[]'::json
          ) AS members_json

        FROM teams t
        LEFT JOIN team_memberships m ON m.team_id = t.id
        LEFT JOIN users u ON u.id = m.user_id
        %s
        GROUP BY t.id
        ORDER BY %s
        LIMIT $%d
    `, where, orderClause(f.Order), argIdx)
	args = append(args, f.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Team, 0, f.Limit)
	for rows.Next() {
		var (
			t           Team
			membersJSON []byte
		)
		if err := rows.Scan(&t.TeamID, &t.Name, &t.Description, &t.CreatedAt, &t.MemberCount, &membersJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(membersJSON, &t.Members); err != nil {
			return nil, fmt.Errorf("unmarshal members_json: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateTeam(ctx context.Context, teamID int64, req UpdateTeamRequest) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	i := 1

	if req.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", i))
		args = append(args, *req.Name)
		i++
	}
	if req.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", i))
		args = append(args, *req.Description)
		i++
	}
	if len(sets) == 0 {
		return apperr.Validation("no fields to update")
	}

	args = append(args, teamID)
	q := fmt.Sprintf("UPDATE teams SET %s WHERE id = $%d", strings.Join(sets, ", "), i)

	ct, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("team %d", teamID)
	}
	return nil
}

// DeleteTeam relies on ON DELETE CASCADE for memberships, projects, tasks
// and comments.
func (s *PGStore) DeleteTeam(ctx context.Context, teamID int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("team %d", teamID)
	}
	return nil
}

func (s *PGStore) CreateProject(ctx context.Context, teamID int64, name string) (Project, error) {
	p := Project{TeamID: teamID, Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO projects (team_id, name) VALUES ($1, $2)
		RETURNING id, created_at
	`, teamID, name).Scan(&p.ProjectID, &p.CreatedAt)
	return p, err
}

func (s *PGStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.team_id, p.name, p.created_at
		FROM projects p
		JOIN team_memberships tm ON tm.team_id = p.team_id
		WHERE tm.user_id = $1
		ORDER BY p.created_at DESC, p.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ProjectID, &p.TeamID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) AccessibleProjectIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id
		FROM team_memberships tm
		JOIN teams t ON t.id = tm.team_id
		JOIN projects p ON p.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY p.id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *PGStore) IsProjectMember(ctx context.Context, userID string, projectID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM projects p
            JOIN team_memberships tm ON tm.team_id = p.team_id
            WHERE p.id = $1 AND tm.user_id = $2
        )
    `, projectID, userID).Scan(&exists)
	return exists, err
}

func (s *PGStore) CanAccessTask(ctx context.Context, userID string, taskID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM tasks t
            JOIN projects p ON p.id = t.project_id
            JOIN team_memberships tm ON tm.team_id = p.team_id
            WHERE t.id = $1 AND tm.user_id = $2
        )
    `, taskID, userID).Scan(&exists)
	return exists, err
}
