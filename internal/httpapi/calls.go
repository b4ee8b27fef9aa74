package httpapi

import (
	"net/http"

	"voice-gateway/internal/audit"

	"github.com/gin-gonic/gin"
)

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	list, err := h.Calls.ListRecentCalls(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// GetTranscript returns the call's interactions in conversation order.
func (h Handlers) GetTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	call, err := h.Calls.GetCall(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	items, err := h.Calls.ListInteractions(ctx, call.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "interactions": items})
}

func (h Handlers) ListErrorLogs(c *gin.Context) {
	logs, err := h.Calls.ListErrorLogs(c.Request.Context(), errorLogLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// --- Registrations ---

func (h Handlers) ListRegistrations(c *gin.Context) {
	rows, err := h.Registrations.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// StartRegistration registers a client that an operator had stopped, or
// re-registers one that is live.
func (h Handlers) StartRegistration(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	cl, err := h.Clients.GetClient(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Registrations.Register(ctx, cl); err != nil {
		respondError(c, err)
		return
	}
	h.record(c, audit.EventRegistrationStarted, id, "registration started", nil)

	cl, err = h.Clients.GetClient(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl.Redacted())
}

func (h Handlers) StopRegistration(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.Registrations.Unregister(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	h.record(c, audit.EventRegistrationStopped, id, "registration stopped", nil)

	cl, err := h.Clients.GetClient(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl.Redacted())
}

// --- Analytics ---

func (h Handlers) Overview(c *gin.Context) {
	out, err := h.Reporting.Overview(c.Request.Context(), h.Reporting.LastWindow())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CallVolume(c *gin.Context) {
	out, err := h.Reporting.CallVolume(c.Request.Context(), h.Reporting.LastWindow())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
