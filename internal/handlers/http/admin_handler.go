package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	"tipwire/internal/infrastructure/middleware"
	"tipwire/internal/infrastructure/monitoring"
	"tipwire/pkg/errors"
	"tipwire/pkg/validation"
)

// AdminHandler exposes the operator API: queue inspection, user management,
// and manual event injection. Everything under /api/v1 except token issuance
// requires an operator token.
type AdminHandler struct {
	dj         ports.DJService
	users      ports.UserRepository
	dispatcher ports.Dispatcher
	health     *monitoring.HealthChecker
	jwtSecret  string
}

func NewAdminHandler(
	dj ports.DJService,
	users ports.UserRepository,
	dispatcher ports.Dispatcher,
	health *monitoring.HealthChecker,
	jwtSecret string,
) *AdminHandler {
	return &AdminHandler{
		dj:         dj,
		users:      users,
		dispatcher: dispatcher,
		health:     health,
		jwtSecret:  jwtSecret,
	}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/readyz", h.Readiness)

	api := router.Group("/api/v1", middleware.AuthMiddleware(h.jwtSecret))
	{
		api.GET("/queue", h.ListQueue)
		api.POST("/queue/:id/played", h.MarkPlayed)
		api.POST("/queue/:id/position", h.ReportPosition)
		api.GET("/users/:id", h.GetUser)
		api.POST("/users/:id", h.UpdateUser)
		api.POST("/events", h.InjectEvent)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *AdminHandler) Readiness(c *gin.Context) {
	if !h.health.IsReady(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *AdminHandler) ListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries": h.dj.Entries(),
	})
}

func (h *AdminHandler) MarkPlayed(c *gin.Context) {
	if err := h.dj.MarkPlayed(c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "played"})
}

type PositionRequest struct {
	Position int `json:"position" binding:"min=0,max=10000"`
}

func (h *AdminHandler) ReportPosition(c *gin.Context) {
	var req PositionRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	h.dj.ReportPosition(c.Param("id"), req.Position)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (h *AdminHandler) GetUser(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateUserID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	rec, err := h.users.Get(c.Request.Context(), domain.UserID(id))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": rec})
}

type UpdateUserRequest struct {
	IsVIP     *bool   `json:"is_vip,omitempty"`
	IsAdmin   *bool   `json:"is_admin,omitempty"`
	AudioFile *string `json:"audio_file,omitempty"`
	AddTokens *int    `json:"add_tokens,omitempty"`
}

// UpdateUser applies partial updates through the optimistic commit path. A
// concurrent dispatch can win the version race; the operator just retries.
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateUserID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var req UpdateUserRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.AudioFile != nil && *req.AudioFile != "" {
		if err := validation.ValidateAudioFile(*req.AudioFile); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	ctx := c.Request.Context()
	rec, err := h.users.Get(ctx, domain.UserID(id))
	if err != nil {
		c.Error(err)
		return
	}

	updated := rec.Clone()
	if req.IsVIP != nil {
		updated.IsVIP = *req.IsVIP
	}
	if req.IsAdmin != nil {
		updated.IsAdmin = *req.IsAdmin
	}
	if req.AudioFile != nil {
		updated.AudioFile = *req.AudioFile
	}
	if req.AddTokens != nil {
		updated.Balance += *req.AddTokens
		if updated.Balance < 0 {
			c.Error(errors.NewInvalidInputError("balance cannot go negative"))
			return
		}
	}

	if err := h.users.Commit(ctx, &domain.UserTxn{Record: updated, ReadVersion: rec.Version}); err != nil {
		c.Error(errors.NewConflictError("user record changed concurrently, retry"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": updated})
}

type InjectEventRequest struct {
	Kind    domain.EventKind `json:"kind" binding:"required"`
	UserID  string           `json:"user_id" binding:"required"`
	Tokens  int              `json:"tokens"`
	Message string           `json:"message"`
}

// InjectEvent feeds a synthetic platform event through the normal dispatch
// path, used for testing actions without waiting for real traffic.
func (h *AdminHandler) InjectEvent(c *gin.Context) {
	var req InjectEventRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateTokens(req.Tokens); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	outcome := h.dispatcher.Handle(c.Request.Context(), &domain.Event{
		Kind:    req.Kind,
		UserID:  domain.UserID(req.UserID),
		Tokens:  req.Tokens,
		Message: req.Message,
	})
	c.JSON(http.StatusOK, gin.H{
		"status":    outcome.Status,
		"intent":    outcome.Intent,
		"reason":    outcome.Reason,
		"remaining": outcome.Remaining.String(),
	})
}
