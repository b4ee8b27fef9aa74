package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-gateway/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		tok string
		ok  bool
	}{
		"Bearer abc":   {"abc", true},
		"bearer  abc ": {"abc", true},
		"Basic abc":    {"", false},
		"Bearer":       {"", false},
		"":             {"", false},
	}
	for header, want := range cases {
		tok, ok := bearerToken(header)
		assert.Equal(t, want.ok, ok, header)
		assert.Equal(t, want.tok, tok, header)
	}
}

func TestIdentityFrom(t *testing.T) {
	_, err := IdentityFrom(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)

	ctx := WithIdentity(context.Background(), "u1", "admin")
	id, err := IdentityFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Role: "admin"}, id)

	_, err = Role(WithIdentity(context.Background(), "u1", ""))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewManager(config.AuthConfig{JWTSecret: "k", AccessTokenTTL: time.Hour, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)
	pair, err := m.IssuePair(time.Now(), "u1", "operator")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := call("Bearer " + pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1","role":"operator"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)

	w = call("Bearer " + pair.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "access token required")
}
