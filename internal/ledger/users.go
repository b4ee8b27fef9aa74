package ledger

import (
	"context"
	"database/sql"
	"errors"

	"voice-gateway/internal/auth"
	"voice-gateway/internal/rbac"

	"github.com/google/uuid"
)

const (
	sqlUserByUsername = `SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`
	sqlUserByID       = `SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1`
	sqlInsertAdmin    = `INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, 'admin', $2, $3, $4)
		ON CONFLICT (username) DO NOTHING`
)

func (s *Store) UserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.q(sqlUserByUsername), username))
}

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.q(sqlUserByID), id))
}

func (s *Store) scanUser(row *sql.Row) (auth.User, error) {
	var (
		u       auth.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, dbErr("get user", err)
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// EnsureAdmin creates the "admin" user when it does not exist yet. An existing
// admin keeps its password.
func (s *Store) EnsureAdmin(ctx context.Context, passwordHash string) error {
	if passwordHash == "" {
		return ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx, s.q(sqlInsertAdmin), uuid.NewString(), passwordHash, rbac.RoleAdmin, toMillis(s.clock()))
	if err != nil {
		return dbErr("ensure admin", err)
	}
	return nil
}
