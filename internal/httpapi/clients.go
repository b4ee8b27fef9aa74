package httpapi

import (
	"net/http"

	"voice-gateway/internal/audit"
	"voice-gateway/internal/clients"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

type clientRequest struct {
	Name string            `json:"name"`
	SIP  clients.SIPConfig `json:"sip"`
	AI   clients.AIConfig  `json:"ai"`
}

func (r clientRequest) toClient(id string) clients.Client {
	return clients.Client{ID: id, Name: r.Name, SIP: r.SIP, AI: r.AI}
}

func (h Handlers) ListClients(c *gin.Context) {
	list, err := h.Clients.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]clients.Client, 0, len(list))
	for _, cl := range list {
		out = append(out, cl.Redacted())
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetClient(c *gin.Context) {
	cl, err := h.Clients.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl.Redacted())
}

// CreateClient stores a client and starts its registration.
func (h Handlers) CreateClient(c *gin.Context) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.Registrations.AddClient(c.Request.Context(), req.toClient(""))
	if err != nil && created.ID == "" {
		respondError(c, err)
		return
	}
	if err != nil {
		// Stored, but the status write after registering failed.
		logger.FromGin(c).Warn("client created with registration error", "client_id", created.ID, "error", err)
	}
	h.record(c, audit.EventClientCreated, created.ID, "client created", map[string]any{"name": created.Name})
	c.JSON(http.StatusCreated, created.Redacted())
}

// UpdateClient replaces a client's settings. An empty SIP password keeps the
// stored one, since reads never return it.
func (h Handlers) UpdateClient(c *gin.Context) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()

	next := req.toClient(id)
	if next.SIP.Password == "" {
		prev, err := h.Clients.GetClient(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		next.SIP.Password = prev.SIP.Password
	}

	updated, err := h.Registrations.UpdateClient(ctx, next)
	if err != nil && updated.ID == "" {
		respondError(c, err)
		return
	}
	if err != nil {
		logger.FromGin(c).Warn("client updated with registration error", "client_id", id, "error", err)
	}
	h.record(c, audit.EventClientUpdated, id, "client updated", nil)
	c.JSON(http.StatusOK, updated.Redacted())
}

func (h Handlers) DeleteClient(c *gin.Context) {
	id := c.Param("id")
	if err := h.Registrations.RemoveClient(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	h.record(c, audit.EventClientRemoved, id, "client removed", nil)
	c.Status(http.StatusNoContent)
}
