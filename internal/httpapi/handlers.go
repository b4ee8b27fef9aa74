package httpapi

import (
	"context"
	"errors"
	"net/http"

	"voice-gateway/internal/audit"
	"voice-gateway/internal/auth"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/clients"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/registration"
	"voice-gateway/internal/reporting"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ClientReader is the read side of the client table.
type ClientReader interface {
	ListClients(ctx context.Context) ([]clients.Client, error)
	GetClient(ctx context.Context, id string) (clients.Client, error)
}

// Registrar mutates clients through the registration manager so the live
// registration always follows the stored row.
type Registrar interface {
	AddClient(ctx context.Context, c clients.Client) (clients.Client, error)
	UpdateClient(ctx context.Context, c clients.Client) (clients.Client, error)
	RemoveClient(ctx context.Context, id string) error
	Register(ctx context.Context, c clients.Client) error
	Unregister(ctx context.Context, id string) error
	Status(ctx context.Context) ([]registration.Entry, error)
}

type CallReader interface {
	ListRecentCalls(ctx context.Context) ([]calls.Call, error)
	GetCall(ctx context.Context, id string) (calls.Call, error)
	ListInteractions(ctx context.Context, callID string) ([]calls.Interaction, error)
	ListErrorLogs(ctx context.Context, limit int) ([]calls.ErrorLog, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth          *auth.Service
	Clients       ClientReader
	Registrations Registrar
	Calls         CallReader
	Reporting     *reporting.Service
	Audit         *audit.Service
}

const errorLogLimit = 100

// respondError maps package sentinels to status codes. Anything unknown is
// logged and reported as a 500 without detail.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, clients.ErrInvalidClient),
		errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func newTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{Token: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.ExpiresAt.Unix()}
}

// Login checks username and password and issues a token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pair, user, err := h.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.FromGin(c).Info("login", "user_id", user.ID, "role", user.Role)
	c.JSON(http.StatusOK, gin.H{
		"token":         pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.ExpiresAt.Unix(),
		"user":          gin.H{"id": user.ID, "username": user.Username, "role": user.Role},
	})
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// actor captures who is calling for the audit trail.
func actor(c *gin.Context) audit.Actor {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

// record appends an audit event. Failures are logged, never returned.
func (h Handlers) record(c *gin.Context, typ audit.EventType, clientID, message string, meta map[string]any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogClientAction(c.Request.Context(), actor(c), typ, clientID, message, meta); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", string(typ), "client_id", clientID, "error", err)
	}
}
