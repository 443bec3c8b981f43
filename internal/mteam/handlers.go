package mteam

import (
	"log"
	"net/http"
	"strconv"

	"kyri56xcaesar/pms-tracker/internal/apperr"
	auth "kyri56xcaesar/pms-tracker/internal/authmw"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the team and project endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(secure *gin.RouterGroup) {
	secure.GET("/my-teams", h.handleMyTeams)
	secure.POST("/teams", h.handleCreateTeam)
	secure.PUT("/teams/:teamid", h.handleUpdateTeam)
	secure.DELETE("/teams/:teamid", h.handleDeleteTeam)
	secure.POST("/teams/:teamid/members", h.handleAddMember)
	secure.DELETE("/teams/:teamid/members/:userid", h.handleRemoveMember)

	secure.GET("/projects", h.handleListProjects)
	secure.POST("/projects", h.handleCreateProject)
}

// RegisterAdminRoutes mounts the cross-team listing on an admin-only group.
func (h *Handler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	admin.GET("/teams", h.handleListAllTeams)
}

func mustUser(c *gin.Context) (string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return userID, ok
}

func (h *Handler) handleMyTeams(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	teams, err := h.svc.ListTeams(c.Request.Context(), userID)
	if err != nil {
		log.Printf("failed to retrieve data: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"items": teams})
}

func (h *Handler) handleCreateTeam(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	var req CreateTeamRequest
	if err := c.ShouldBind(&req); err != nil {
		log.Printf("failed to bind input: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})

		return
	}

	team, err := h.svc.CreateTeam(c.Request.Context(), userID, req.Name, req.Description)
	if err != nil {
		respondError(c, "create team", err)
		return
	}

	c.JSON(http.StatusCreated, team)
}

func teamIDParam(c *gin.Context) (int64, bool) {
	teamID, err := strconv.ParseInt(c.Param("teamid"), 10, 64)
	if err != nil || teamID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing/invalid teamid"})
		return 0, false
	}
	return teamID, true
}

func (h *Handler) handleUpdateTeam(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	var req UpdateTeamRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	if err := h.svc.UpdateTeam(c.Request.Context(), userID, teamID, req); err != nil {
		respondError(c, "update team", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleDeleteTeam(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteTeam(c.Request.Context(), userID, teamID); err != nil {
		respondError(c, "delete team", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleListAllTeams(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	order := c.DefaultQuery("order", "created_desc")

	f := TeamFilter{Limit: limit, Order: order}
	if idStr := c.Query("teamid"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid teamid"})
			return
		}
		f.TeamID = &id
	} else if name := c.Query("name"); name != "" {
		f.Name = &name
	}

	teams, err := h.svc.ListAllTeams(c.Request.Context(), f)
	if err != nil {
		respondError(c, "list teams", err)
		return
	}

	payload := gin.H{
		"items": teams,
		"limit": normalizeLimit(limit),
		"order": order,
	}
	if f.TeamID != nil {
		payload["teamid"] = *f.TeamID
	}
	if f.Name != nil {
		payload["name"] = *f.Name
	}

	c.JSON(http.StatusOK, payload)
}

func (h *Handler) handleAddMember(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	var req AddTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	if err := h.svc.AddMember(c.Request.Context(), userID, teamID, req.UserID, req.Role); err != nil {
		respondError(c, "add member", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleRemoveMember(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(c.Request.Context(), userID, teamID, c.Param("userid")); err != nil {
		respondError(c, "remove member", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleListProjects(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	projects, err := h.svc.ListProjects(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "list projects", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": projects})
}

func (h *Handler) handleCreateProject(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	var req CreateProjectRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	p, err := h.svc.CreateProject(c.Request.Context(), userID, req.TeamID, req.Name)
	if err != nil {
		respondError(c, "create project", err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func respondError(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	switch status {
	case http.StatusInternalServerError:
		log.Printf("[%s] failed to %s: %v", c.GetString(auth.RequestIDKey), op, err)
		c.JSON(status, gin.H{"error": "db error"})
	case http.StatusForbidden:
		// never say why: the team may or may not exist
		c.JSON(status, gin.H{"error": "forbidden"})
	default:
		c.JSON(status, gin.H{"error": apperr.Message(err)})
	}
}
