package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/common/errors"
	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/internal/engine/approval"
	"github.com/vimcodex/vimcodex/internal/engine/dispatcher"
	"github.com/vimcodex/vimcodex/internal/engine/router"
	"github.com/vimcodex/vimcodex/internal/engine/session"
)

// Controller is the dispatcher surface the handlers need
type Controller interface {
	StartSession(ctx context.Context, opts dispatcher.StartOptions) (session.Snapshot, error)
	StopSession(ctx context.Context) error
	SendUserInput(text string) error
	ApprovePending() error
	DenyPending() error
	Interrupt() error
	ToggleVisibility() bool
	Status() dispatcher.Status
	Messages(ctx context.Context, limit int) ([]router.Message, error)
}

// Handler contains HTTP handlers for the bridge API
type Handler struct {
	controller Controller
	logger     *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(controller Controller, log *logger.Logger) *Handler {
	return &Handler{
		controller: controller,
		logger:     log.WithFields(zap.String("component", "bridge-api")),
	}
}

// StartSession starts a fresh agent session
// POST /api/v1/session/start
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	// Body is optional; defaults apply
	_ = c.ShouldBindJSON(&req)

	snap, err := h.controller.StartSession(c.Request.Context(), dispatcher.StartOptions{
		Cwd:   req.Cwd,
		Model: req.Model,
	})
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		appErr := errors.InternalError("failed to start session", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

// StopSession terminates the current session
// DELETE /api/v1/session
func (h *Handler) StopSession(c *gin.Context) {
	if err := h.controller.StopSession(c.Request.Context()); err != nil {
		h.respondError(c, err, "failed to stop session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session stopped"})
}

// SendInput forwards user text to the agent
// POST /api/v1/session/input
func (h *Handler) SendInput(c *gin.Context) {
	var req SendInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.controller.SendUserInput(req.Text); err != nil {
		h.respondError(c, err, "failed to send input")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "input accepted"})
}

// Approve approves the pending approval request
// POST /api/v1/session/approve
func (h *Handler) Approve(c *gin.Context) {
	if err := h.controller.ApprovePending(); err != nil {
		h.respondError(c, err, "failed to approve")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "approved"})
}

// Deny denies the pending approval request
// POST /api/v1/session/deny
func (h *Handler) Deny(c *gin.Context) {
	if err := h.controller.DenyPending(); err != nil {
		h.respondError(c, err, "failed to deny")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "denied"})
}

// Interrupt asks the agent to abandon the current turn
// POST /api/v1/session/interrupt
func (h *Handler) Interrupt(c *gin.Context) {
	if err := h.controller.Interrupt(); err != nil {
		h.respondError(c, err, "failed to interrupt")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "interrupt requested"})
}

// ToggleVisibility flips the conversation panel flag
// POST /api/v1/session/visibility
func (h *Handler) ToggleVisibility(c *gin.Context) {
	c.JSON(http.StatusOK, VisibilityResponse{Visible: h.controller.ToggleVisibility()})
}

// GetStatus reports the dispatcher and session state
// GET /api/v1/session/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}

// GetMessages returns the session transcript
// GET /api/v1/session/messages
func (h *Handler) GetMessages(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		appErr := errors.BadRequest("limit must be a non-negative integer")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	messages, err := h.controller.Messages(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []router.Message{}
	}

	c.JSON(http.StatusOK, MessagesResponse{Messages: messages, Total: len(messages)})
}

// HealthCheck returns health status
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// respondError maps engine errors to HTTP responses
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var appErr *errors.AppError

	switch {
	case stderrors.Is(err, dispatcher.ErrNoSession):
		appErr = errors.NotFound("session", "current")
	case stderrors.Is(err, session.ErrSessionBusy):
		appErr = errors.SessionBusy(err.Error())
	case stderrors.Is(err, session.ErrNotActive):
		appErr = errors.Conflict(err.Error())
	case stderrors.Is(err, approval.ErrNoPending):
		appErr = errors.Conflict(err.Error())
	case stderrors.Is(err, approval.ErrConflict):
		appErr = errors.Conflict(err.Error())
	default:
		h.logger.Error(fallback, zap.Error(err))
		appErr = errors.InternalError(fallback, err)
	}

	c.JSON(appErr.HTTPStatus, appErr)
}
