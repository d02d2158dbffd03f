package repository

import (
	"context"
	"time"

	"univote/internal/domain/user"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

type PostgresUserRepository struct {
	base
}

func NewUserRepository(db DBTX, timeout time.Duration) UserRepository {
	return &PostgresUserRepository{base: newBase(db, timeout)}
}

const userColumns = `id, email, name, password_hash, role, created_at`

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = user.RoleStudent
	}
	u.Email = user.NormalizeEmail(u.Email)
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role,
	).Scan(&u.CreatedAt)
	return mapErr(err)
}

func (r *PostgresUserRepository) scanUser(ctx context.Context, query string, arg any) (user.User, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var u user.User
	err := r.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		return user.User{}, mapErr(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, user.NormalizeEmail(email))
}

func (r *PostgresUserRepository) CountAdmins(ctx context.Context) (int, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM users WHERE role = $1`, user.RoleAdmin).Scan(&n)
	return n, mapErr(err)
}

func (r *PostgresUserRepository) CreateSession(ctx context.Context, s *user.UserSession) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_sessions (id, user_id, refresh_token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		s.ID, s.UserID, s.RefreshTokenHash, s.ExpiresAt,
	).Scan(&s.CreatedAt)
	return mapErr(err)
}

func (r *PostgresUserRepository) GetSessionByID(ctx context.Context, sessionID uuid.UUID) (user.UserSession, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var s user.UserSession
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, refresh_token_hash, expires_at, is_revoked, created_at
		FROM user_sessions WHERE id = $1`, sessionID,
	).Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ExpiresAt, &s.IsRevoked, &s.CreatedAt)
	if err != nil {
		return user.UserSession{}, mapErr(err)
	}
	return s, nil
}

func (r *PostgresUserRepository) UpdateSession(ctx context.Context, s user.UserSession) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE user_sessions SET refresh_token_hash = $2, expires_at = $3, is_revoked = $4
		WHERE id = $1`, s.ID, s.RefreshTokenHash, s.ExpiresAt, s.IsRevoked)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return univote_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) RevokeSession(ctx context.Context, sessionID uuid.UUID) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE user_sessions SET is_revoked = true WHERE id = $1`, sessionID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return univote_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	_, err := r.db.Exec(ctx, `UPDATE user_sessions SET is_revoked = true WHERE user_id = $1 AND is_revoked = false`, userID)
	return mapErr(err)
}

func (r *PostgresUserRepository) CleanExpiredSessions(ctx context.Context) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	_, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < now() OR is_revoked = true`)
	return mapErr(err)
}
