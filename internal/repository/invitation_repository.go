package repository

import (
	"context"
	"time"

	"univote/internal/domain/user"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

type PostgresInvitationRepository struct {
	base
}

func NewInvitationRepository(db DBTX, timeout time.Duration) InvitationRepository {
	return &PostgresInvitationRepository{base: newBase(db, timeout)}
}

func (r *PostgresInvitationRepository) Create(ctx context.Context, inv *user.Invitation) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Email = user.NormalizeEmail(inv.Email)
	var createdBy *uuid.UUID
	if inv.CreatedBy != uuid.Nil {
		createdBy = &inv.CreatedBy
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO invitations (id, email, token, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING used, created_at`,
		inv.ID, inv.Email, inv.Token, createdBy,
	).Scan(&inv.Used, &inv.CreatedAt)
	return mapErr(err)
}

func (r *PostgresInvitationRepository) GetByToken(ctx context.Context, token string) (user.Invitation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var inv user.Invitation
	var createdBy *uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT id, email, token, used, created_by, created_at
		FROM invitations WHERE token = $1`, token,
	).Scan(&inv.ID, &inv.Email, &inv.Token, &inv.Used, &createdBy, &inv.CreatedAt)
	if err != nil {
		return user.Invitation{}, mapErr(err)
	}
	if createdBy != nil {
		inv.CreatedBy = *createdBy
	}
	return inv, nil
}

func (r *PostgresInvitationRepository) List(ctx context.Context) ([]user.Invitation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, email, token, used, created_by, created_at
		FROM invitations ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []user.Invitation
	for rows.Next() {
		var inv user.Invitation
		var createdBy *uuid.UUID
		if err := rows.Scan(&inv.ID, &inv.Email, &inv.Token, &inv.Used, &createdBy, &inv.CreatedAt); err != nil {
			return nil, err
		}
		if createdBy != nil {
			inv.CreatedBy = *createdBy
		}
		out = append(out, inv)
	}
	return out, mapErr(rows.Err())
}

func (r *PostgresInvitationRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE invitations SET used = true WHERE id = $1 AND used = false`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return univote_errors.ErrAlreadyExists
	}
	return nil
}
