package mteam

import "time"

const (
	RoleOwner  = "owner"
	RoleLeader = "leader"
	RoleMember = "member"
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Team struct {
	TeamID      int64     `json:"teamid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	// Role is the caller's role in the team.
	Role        string       `json:"role,omitempty"`
	MemberCount int          `json:"memberCount"`
	Members     []TeamMember `json:"members,omitempty"`
}

type TeamMember struct {
	TeamID int64  `json:"teamid,omitempty"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"` // owner/leader/member
}

type Project struct {
	ProjectID int64     `json:"id"`
	TeamID    int64     `json:"team_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateTeamRequest struct {
	Name        string `json:"name" form:"name" binding:"required,min=2,max=64"`
	Description string `json:"description" form:"description" binding:"max=500"`
}

// UpdateTeamRequest changes only the fields that are present.
type UpdateTeamRequest struct {
	Name        *string `json:"name" form:"name" binding:"omitempty,min=2,max=64"`
	Description *string `json:"description" form:"description" binding:"omitempty,max=500"`
}

// TeamFilter narrows the admin team listing. TeamID wins over Name.
type TeamFilter struct {
	TeamID *int64
	Name   *string
	Limit  int
	Order  string
}

type AddTeamMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"omitempty,oneof=member leader owner"` // optional; default member
}

type CreateProjectRequest struct {
	TeamID int64  `json:"teamId" form:"teamId" binding:"required,gt=0"`
	Name   string `json:"name" form:"name" binding:"required,min=1,max=120"`
}

func canManage(role string) bool {
	return role == RoleOwner || role == RoleLeader
}

func validRole(role string) bool {
	switch role {
	case RoleOwner, RoleLeader, RoleMember:
		return true
	}
	return false
}

func orderClause(order string) string {
	switch order {
	case "created_asc":
		return "t.created_at ASC, t.id ASC"
	case "name_asc":
		return "t.name ASC, t.id ASC"
	case "name_desc":
		return "t.name DESC, t.id DESC"
	case "created_desc":
		fallthrough
	default:
		return "t.created_at DESC, t.id DESC"
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
