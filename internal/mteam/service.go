package mteam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kyri56xcaesar/pms-tracker/internal/apperr"
)

// Store is the persistence contract behind the membership resolver and the
// team administration endpoints. PGStore and SQLiteStore implement it.
type Store interface {
	UpsertUser(ctx context.Context, u User) error

	CreateTeam(ctx context.Context, name, desc, ownerID string) (Team, error)
	AddMember(ctx context.Context, teamID int64, userID, role string) error
	RemoveMember(ctx context.Context, teamID int64, userID string) error
	MemberRole(ctx context.Context, teamID int64, userID string) (string, error)
	ListTeamsForUser(ctx context.Context, userID string) ([]Team, error)
	ListTeams(ctx context.Context, f TeamFilter) ([]Team, error)
	UpdateTeam(ctx context.Context, teamID int64, req UpdateTeamRequest) error
	DeleteTeam(ctx context.Context, teamID int64) error

	CreateProject(ctx context.Context, teamID int64, name string) (Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]Project, error)

	AccessibleProjectIDs(ctx context.Context, userID string) ([]int64, error)
	IsProjectMember(ctx context.Context, userID string, projectID int64) (bool, error)
	CanAccessTask(ctx context.Context, userID string, taskID int64) (bool, error)
}

// Service resolves which projects a user may see and guards the team and
// project administration operations.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// AccessibleProjectIDs returns every project owned by a team the user belongs
// to. An empty result is valid.
func (s *Service) AccessibleProjectIDs(ctx context.Context, userID string) ([]int64, error) {
	ids, err := s.store.AccessibleProjectIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("accessible projects: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (s *Service) IsProjectMember(ctx context.Context, userID string, projectID int64) (bool, error) {
	if userID == "" || projectID <= 0 {
		return false, nil
	}
	return s.store.IsProjectMember(ctx, userID, projectID)
}

// CanAccessTask reports false both for tasks outside the user's teams and for
// tasks that do not exist.
func (s *Service) CanAccessTask(ctx context.Context, userID string, taskID int64) (bool, error) {
	if userID == "" || taskID <= 0 {
		return false, nil
	}
	return s.store.CanAccessTask(ctx, userID, taskID)
}

// EnsureUser records the acting identity so comments can reference it.
func (s *Service) EnsureUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return apperr.Validation("user id required")
	}
	return s.store.UpsertUser(ctx, u)
}

func (s *Service) CreateTeam(ctx context.Context, actor, name, desc string) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, apperr.Validation("team name required")
	}
	if actor == "" {
		return Team{}, apperr.Validation("owner required")
	}
	return s.store.CreateTeam(ctx, name, strings.TrimSpace(desc), actor)
}

func (s *Service) ListTeams(ctx context.Context, userID string) ([]Team, error) {
	return s.store.ListTeamsForUser(ctx, userID)
}

// ListAllTeams is the admin listing across every team.
func (s *Service) ListAllTeams(ctx context.Context, f TeamFilter) ([]Team, error) {
	f.Limit = normalizeLimit(f.Limit)
	if f.Name != nil {
		name := strings.TrimSpace(*f.Name)
		f.Name = &name
	}
	return s.store.ListTeams(ctx, f)
}

// UpdateTeam renames or re-describes a team. Owners only.
func (s *Service) UpdateTeam(ctx context.Context, actor string, teamID int64, req UpdateTeamRequest) error {
	if teamID <= 0 {
		return apperr.Validation("teamid required")
	}
	if req.Name == nil && req.Description == nil {
		return apperr.Validation("no fields to update")
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return apperr.Validation("team name required")
		}
		req.Name = &name
	}
	if err := s.requireOwner(ctx, actor, teamID); err != nil {
		return err
	}
	return s.store.UpdateTeam(ctx, teamID, req)
}

// DeleteTeam removes a team with its memberships, projects, tasks and
// comments. Owners only.
func (s *Service) DeleteTeam(ctx context.Context, actor string, teamID int64) error {
	if teamID <= 0 {
		return apperr.Validation("teamid required")
	}
	if err := s.requireOwner(ctx, actor, teamID); err != nil {
		return err
	}
	return s.store.DeleteTeam(ctx, teamID)
}

// AddMember lets owners and leaders add plain members. Granting leader or
// owner, or touching an existing leader or owner, takes an owner.
func (s *Service) AddMember(ctx context.Context, actor string, teamID int64, userID, role string) error {
	userID = strings.TrimSpace(userID)
	if teamID <= 0 || userID == "" {
		return apperr.Validation("teamid and user id required")
	}
	if role == "" {
		role = RoleMember
	}
	if !validRole(role) {
		return apperr.Validation("unknown role %q", role)
	}

	actorRole, err := s.requireManager(ctx, actor, teamID)
	if err != nil {
		return err
	}
	current, err := s.currentRole(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if actorRole != RoleOwner && (canManage(role) || canManage(current)) {
		return apperr.Forbidden("only an owner can grant or change leader and owner roles")
	}
	return s.store.AddMember(ctx, teamID, userID, role)
}

// RemoveMember lets owners remove anyone and leaders remove plain members.
// Anyone may leave.
func (s *Service) RemoveMember(ctx context.Context, actor string, teamID int64, userID string) error {
	if teamID <= 0 || userID == "" {
		return apperr.Validation("teamid and user id required")
	}
	if actor != userID {
		actorRole, err := s.requireManager(ctx, actor, teamID)
		if err != nil {
			return err
		}
		current, err := s.currentRole(ctx, teamID, userID)
		if err != nil {
			return err
		}
		if actorRole != RoleOwner && canManage(current) {
			return apperr.Forbidden("only an owner can remove a %s", current)
		}
	}
	return s.store.RemoveMember(ctx, teamID, userID)
}

func (s *Service) CreateProject(ctx context.Context, actor string, teamID int64, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if teamID <= 0 || name == "" {
		return Project{}, apperr.Validation("teamId and name required")
	}
	if _, err := s.role(ctx, actor, teamID); err != nil {
		return Project{}, err
	}
	return s.store.CreateProject(ctx, teamID, name)
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	return s.store.ListProjectsForUser(ctx, userID)
}

func (s *Service) requireManager(ctx context.Context, actor string, teamID int64) (string, error) {
	role, err := s.role(ctx, actor, teamID)
	if err != nil {
		return "", err
	}
	if !canManage(role) {
		return "", apperr.Forbidden("insufficient team role")
	}
	return role, nil
}

func (s *Service) requireOwner(ctx context.Context, actor string, teamID int64) error {
	role, err := s.role(ctx, actor, teamID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return apperr.Forbidden("team owner required")
	}
	return nil
}

// currentRole is "" for users outside the team.
func (s *Service) currentRole(ctx context.Context, teamID int64, userID string) (string, error) {
	role, err := s.store.MemberRole(ctx, teamID, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil
	}
	return role, err
}

// role maps "not a member" and "no such team" to the same forbidden error.
func (s *Service) role(ctx context.Context, actor string, teamID int64) (string, error) {
	role, err := s.store.MemberRole(ctx, teamID, actor)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.Forbidden("not a member of team %d", teamID)
	}
	if err != nil {
		return "", err
	}
	return role, nil
}
