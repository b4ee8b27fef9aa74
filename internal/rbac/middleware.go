package rbac

import (
	"net/http"

	"voice-gateway/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole lets the request through when the caller holds one of the
// allowed roles. Admin passes every check; an unknown role never does.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = true
	}

	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !IsValidRole(id.Role) || (!IsAdmin(id.Role) && !allowedSet[id.Role]) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "role": id.Role})
			return
		}
		c.Next()
	}
}

// RequireAdmin guards mutations.
func RequireAdmin() gin.HandlerFunc {
	return RequireAnyRole(RoleAdmin)
}
