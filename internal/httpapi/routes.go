package httpapi

import (
	"voice-gateway/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Mount wires the /api surface onto r. authMW must put the caller's identity
// on the request context; rbac reads it from there.
func (h Handlers) Mount(r gin.IRouter, authMW gin.HandlerFunc) {
	api := r.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	protected := api.Group("")
	protected.Use(authMW)
	protected.Use(rbac.RequireAnyRole(rbac.RoleOperator))

	adminOnly := rbac.RequireAdmin()

	cl := protected.Group("/clients")
	{
		cl.GET("", h.ListClients)
		cl.GET("/:id", h.GetClient)
		cl.POST("", adminOnly, h.CreateClient)
		cl.PUT("/:id", adminOnly, h.UpdateClient)
		cl.DELETE("/:id", adminOnly, h.DeleteClient)
	}

	calls := protected.Group("/calls")
	{
		calls.GET("", h.ListCalls)
		calls.GET("/:id", h.GetCall)
		calls.GET("/:id/transcript", h.GetTranscript)
	}

	protected.GET("/errors", adminOnly, h.ListErrorLogs)

	regs := protected.Group("/registrations")
	{
		regs.GET("", h.ListRegistrations)
		regs.POST("/:id/register", adminOnly, h.StartRegistration)
		regs.POST("/:id/unregister", adminOnly, h.StopRegistration)
	}

	analytics := protected.Group("/analytics")
	{
		analytics.GET("/overview", h.Overview)
		analytics.GET("/call-volume", h.CallVolume)
	}
}
