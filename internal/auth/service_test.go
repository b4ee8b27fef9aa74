package auth

import (
	"context"
	"testing"
	"time"

	"voice-gateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers map[string]User

func (m memUsers) UserByUsername(_ context.Context, username string) (User, error) {
	for _, u := range m {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m memUsers) UserByID(_ context.Context, id string) (User, error) {
	u, ok := m[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func newTestService(t *testing.T) (*Service, *Manager) {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	users := memUsers{"u1": {ID: "u1", Username: "admin", PasswordHash: hash, Role: "admin"}}
	m, err := NewManager(config.AuthConfig{JWTSecret: "k", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour})
	require.NoError(t, err)
	return NewService(users, m), m
}

func TestLogin(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()

	pair, u, err := svc.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)

	_, _, err = svc.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)

	_, err = svc.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
