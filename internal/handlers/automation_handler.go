package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"commentflow/internal/models"
	"commentflow/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationRunner 手动 / 调度触发评论自动化
type AutomationRunner interface {
	ProcessComment(ctx context.Context, automationID uint, evt services.CommentEvent, accessToken string) (services.CommentResult, error)
	ProcessPost(ctx context.Context, automationID uint, postID string, accessToken string) (services.PostResult, error)
	RunActiveAutomations(ctx context.Context) (services.BatchResult, error)
	ListExecutionLogs(ctx context.Context, automationID uint, page, pageSize int) ([]models.ExecutionLog, int64, error)
}

// AutomationHandler 评论自动化的手动触发与执行日志
type AutomationHandler struct {
	runner          AutomationRunner
	defaultPageSize int
}

func NewAutomationHandler(runner AutomationRunner, defaultPageSize int) *AutomationHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	return &AutomationHandler{runner: runner, defaultPageSize: defaultPageSize}
}

// ProcessCommentRequest 手动处理单条评论
type ProcessCommentRequest struct {
	PostID      string                `json:"post_id" binding:"required"`
	Comment     services.CommentEvent `json:"comment" binding:"required"`
	AccessToken string                `json:"access_token"`
}

// RunPostRequest 手动处理帖子
type RunPostRequest struct {
	AccessToken string `json:"access_token"`
}

// ProcessComment POST /automations/:id/comments
func (h *AutomationHandler) ProcessComment(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req ProcessCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	evt := req.Comment
	evt.PostID = req.PostID

	result, err := h.runner.ProcessComment(c.Request.Context(), id, evt, req.AccessToken)
	if err != nil {
		h.writeError(c, "Failed to process comment", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunPost POST /automations/:id/posts/:postId/run
func (h *AutomationHandler) RunPost(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req RunPostRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}

	result, err := h.runner.ProcessPost(c.Request.Context(), id, c.Param("postId"), req.AccessToken)
	if err != nil {
		h.writeError(c, "Failed to process post", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunActive POST /automations/run-active
func (h *AutomationHandler) RunActive(c *gin.Context) {
	result, err := h.runner.RunActiveAutomations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to run automations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListLogs GET /automations/:id/logs
func (h *AutomationHandler) ListLogs(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(h.defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = h.defaultPageSize
	}

	logs, total, err := h.runner.ListExecutionLogs(c.Request.Context(), id, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     logs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    totalPages(total, pageSize),
	})
}

func (h *AutomationHandler) writeError(c *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrAutomationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrMissingAccessToken):
		status = http.StatusBadRequest
	case services.ClassifyError(err) == services.ErrorClassPlatform:
		status = http.StatusBadGateway
	}
	c.JSON(status, ErrorResponse{Error: title, Message: err.Error()})
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.POST("/run-active", handler.RunActive)
		auto.POST("/:id/comments", handler.ProcessComment)
		auto.POST("/:id/posts/:postId/run", handler.RunPost)
		auto.GET("/:id/logs", handler.ListLogs)
	}
}
