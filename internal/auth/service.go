package auth

import (
	"context"
	"errors"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserStore looks users up. Implementations return ErrUserNotFound when no row matches.
type UserStore interface {
	UserByUsername(ctx context.Context, username string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
}

var ErrUserNotFound = errors.New("auth: user not found")

type Service struct {
	users  UserStore
	tokens *Manager
	clock  func() time.Time
}

func NewService(users UserStore, tokens *Manager) *Service {
	return &Service{users: users, tokens: tokens, clock: time.Now}
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, User, error) {
	if username == "" || password == "" {
		return TokenPair{}, User{}, ErrInvalidCredentials
	}
	u, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, User{}, ErrInvalidCredentials
		}
		return TokenPair{}, User{}, err
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		return TokenPair{}, User{}, err
	}
	pair, err := s.tokens.IssuePair(s.clock(), u.ID, u.Role)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, u, nil
}

// Refresh exchanges a refresh token for a new pair. The role is re-read so
// demotions take effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	now := s.clock()
	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	u, err := s.users.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	return s.tokens.IssuePair(now, u.ID, u.Role)
}
