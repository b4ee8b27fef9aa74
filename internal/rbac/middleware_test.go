package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-gateway/internal/auth"

	"github.com/gin-gonic/gin"
)

func withRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func serve(t *testing.T, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	chain = append(chain, func(c *gin.Context) { c.Status(200) })
	r.GET("/x", chain...)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminPasses(t *testing.T) {
	if code := serve(t, withRole(RoleAdmin), RequireAnyRole(RoleOperator)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_OperatorDeniedOnAdminRoute(t *testing.T) {
	if code := serve(t, withRole(RoleOperator), RequireAnyRole(RoleAdmin)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_MissingRole(t *testing.T) {
	if code := serve(t, RequireAnyRole(RoleAdmin)); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serve(t, withRole("superuser"), RequireAnyRole("superuser")); code != 403 {
		t.Fatalf("expected 403 for unknown role, got %d", code)
	}
}

func TestRequireAdmin(t *testing.T) {
	if code := serve(t, withRole(RoleAdmin), RequireAdmin()); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(t, withRole(RoleOperator), RequireAdmin()); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}
