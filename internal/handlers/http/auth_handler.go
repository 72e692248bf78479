package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tipwire/internal/infrastructure/middleware"
	"tipwire/pkg/errors"
)

// AuthHandler issues operator tokens for the admin API. There is no user
// database; callers exchange the shared operator secret for a short-lived
// JWT, so the secret itself never rides on every request.
type AuthHandler struct {
	secret   string
	tokenTTL time.Duration
}

func NewAuthHandler(secret string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		secret:   secret,
		tokenTTL: tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/v1/auth/token", h.IssueToken)
}

type TokenRequest struct {
	Operator string `json:"operator" binding:"required,min=2,max=50"`
	Secret   string `json:"secret" binding:"required,max=256"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secret)) != 1 {
		c.Error(errors.NewPermissionDeniedError("invalid operator secret"))
		return
	}

	token, err := middleware.IssueOperatorToken(h.secret, req.Operator, h.tokenTTL)
	if err != nil {
		c.Error(errors.NewInternalError("failed to sign token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokenTTL.Seconds()),
	})
}
