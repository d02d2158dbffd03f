package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"univote/internal/domain/poll"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresPollRepository struct {
	base
}

func NewPollRepository(db DBTX, timeout time.Duration) PollRepository {
	return &PostgresPollRepository{base: newBase(db, timeout)}
}

const pollColumns = `id, title, description, type, options, parties, starts_at, ends_at, published, created_at`

func scanPoll(row pgx.Row) (poll.Poll, error) {
	var p poll.Poll
	var pollType string
	var options, parties []byte
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &pollType, &options, &parties,
		&p.StartsAt, &p.EndsAt, &p.Published, &p.CreatedAt); err != nil {
		return poll.Poll{}, err
	}
	p.Type = poll.Type(pollType)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &p.Options); err != nil {
			return poll.Poll{}, fmt.Errorf("decode poll options: %w", err)
		}
	}
	if len(parties) > 0 {
		if err := json.Unmarshal(parties, &p.Parties); err != nil {
			return poll.Poll{}, fmt.Errorf("decode poll parties: %w", err)
		}
	}
	return p, nil
}

func (r *PostgresPollRepository) Create(ctx context.Context, p *poll.Poll) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	options, err := json.Marshal(nonNil(p.Options))
	if err != nil {
		return err
	}
	parties, err := json.Marshal(nonNil(p.Parties))
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO polls (id, title, description, type, options, parties, starts_at, ends_at, published)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9)
		RETURNING created_at`,
		p.ID, p.Title, p.Description, string(p.Type), string(options), string(parties),
		p.StartsAt, p.EndsAt, p.Published,
	).Scan(&p.CreatedAt)
	return mapErr(err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *PostgresPollRepository) GetByID(ctx context.Context, id uuid.UUID) (poll.Poll, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	p, err := scanPoll(r.db.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if err != nil {
		return poll.Poll{}, mapErr(err)
	}
	return p, nil
}

func (r *PostgresPollRepository) List(ctx context.Context, f PollFilter) ([]poll.Poll, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	q := `SELECT ` + pollColumns + ` FROM polls`
	if f.PublishedOnly {
		q += ` WHERE published = true`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	polls := make([]poll.Poll, 0)
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, mapErr(rows.Err())
}

func (r *PostgresPollRepository) SetPublished(ctx context.Context, id uuid.UUID, published bool) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE polls SET published = $2 WHERE id = $1`, id, published)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return univote_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresPollRepository) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE polls SET ends_at = $2
		WHERE id = $1 AND starts_at < $2`, id, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM polls WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if !exists {
		return univote_errors.ErrNotFound
	}
	return univote_errors.ErrPollNotStarted
}

// Delete cascades to votes and voter marks through the foreign keys.
func (r *PostgresPollRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return univote_errors.ErrNotFound
	}
	return nil
}
