package mtask

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"kyri56xcaesar/pms-tracker/internal/apperr"
	auth "kyri56xcaesar/pms-tracker/internal/authmw"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	scope *Scope
}

func NewHandler(scope *Scope) *Handler {
	return &Handler{scope: scope}
}

func (h *Handler) RegisterRoutes(secure *gin.RouterGroup) {
	secure.GET("/tasks", h.handleListTasks)
	secure.POST("/tasks", h.handleTaskCreate)
	secure.GET("/tasks/:id", h.handleTaskGet)
	secure.PATCH("/tasks/:id", h.handleTaskPatch)
	secure.DELETE("/tasks/:id", h.handleTaskDelete)

	secure.GET("/comments", h.handleCommentList)
	secure.POST("/comments", h.handleCommentCreate)
}

func mustUser(c *gin.Context) (string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return userID, ok
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) handleListTasks(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	var projectID *int64
	if raw := c.Query("projectId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid projectId"})

			return
		}
		projectID = &id
	}

	items, err := h.scope.ListTasksVisibleTo(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, "list tasks", err)

		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *Handler) handleTaskCreate(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	var req NewTask
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	task, err := h.scope.CreateTask(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, "create task", err)

		return
	}

	c.JSON(http.StatusCreated, task)
}

func (h *Handler) handleTaskGet(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	task, err := h.scope.GetTask(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, "get task", err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *Handler) handleTaskPatch(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	// unknown keys are dropped here; an empty body is an empty patch
	var patch TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	task, err := h.scope.PatchTask(c.Request.Context(), userID, id, patch)
	if err != nil {
		respondError(c, "patch task", err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *Handler) handleTaskDelete(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.scope.DeleteTask(c.Request.Context(), userID, id); err != nil {
		respondError(c, "delete task", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) handleCommentList(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	raw := c.Query("taskId")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "taskId required"})
		return
	}
	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid taskId"})
		return
	}

	items, err := h.scope.ListComments(c.Request.Context(), userID, taskID)
	if err != nil {
		respondError(c, "list comments", err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *Handler) handleCommentCreate(c *gin.Context) {
	userID, ok := mustUser(c)
	if !ok {
		return
	}

	var req CreateCommentRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	cmt, err := h.scope.CreateComment(c.Request.Context(), userID, req.TaskID, req.Body)
	if err != nil {
		respondError(c, "create comment", err)
		return
	}

	c.JSON(http.StatusCreated, cmt)
}

func respondError(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	switch status {
	case http.StatusInternalServerError:
		log.Printf("[%s] failed to %s: %v", c.GetString(auth.RequestIDKey), op, err)
		c.JSON(status, gin.H{"error": "db error"})
	case http.StatusForbidden:
		c.JSON(status, gin.H{"error": "forbidden"})
	default:
		c.JSON(status, gin.H{"error": apperr.Message(err)})
	}
}
