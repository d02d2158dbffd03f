package repository

import (
	"context"
	"errors"
	"time"

	"univote/internal/domain/poll"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresVoteRepository struct {
	base
}

func NewVoteRepository(db DBTX, timeout time.Duration) VoteRepository {
	return &PostgresVoteRepository{base: newBase(db, timeout)}
}

// InsertVote locks the poll row for share so a concurrent close is ordered
// against the insert, then relies on the voter_marks primary key for
// uniqueness. Both rows commit or neither does.
func (r *PostgresVoteRepository) InsertVote(ctx context.Context, v *poll.Vote, voterID uuid.UUID, now time.Time) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return WithTx(ctx, r.db, func(tx DBTX) error {
		var endsAt time.Time
		err := tx.QueryRow(ctx, `SELECT ends_at FROM polls WHERE id = $1 FOR SHARE`, v.PollID).Scan(&endsAt)
		if err != nil {
			return mapErr(err)
		}
		if now.After(endsAt) {
			return univote_errors.ErrPollClosed
		}

		_, err = tx.Exec(ctx, `INSERT INTO voter_marks (poll_id, user_id) VALUES ($1, $2)`, v.PollID, voterID)
		if err != nil {
			if isUniqueViolation(err) {
				return univote_errors.ErrAlreadyVoted
			}
			return mapErr(err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO votes (id, poll_id, option_ids)
			VALUES ($1, $2, $3)
			RETURNING created_at`,
			v.ID, v.PollID, v.OptionIDs,
		).Scan(&v.CreatedAt)
		return mapErr(err)
	})
}

func (r *PostgresVoteRepository) HasVoted(ctx context.Context, pollID, voterID uuid.UUID) (bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var one int
	err := r.db.QueryRow(ctx, `SELECT 1 FROM voter_marks WHERE poll_id = $1 AND user_id = $2`, pollID, voterID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

func (r *PostgresVoteRepository) Selections(ctx context.Context, pollID uuid.UUID) ([][]string, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT option_ids FROM votes WHERE poll_id = $1`, pollID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var ids []string
		if err := rows.Scan(&ids); err != nil {
			return nil, err
		}
		out = append(out, ids)
	}
	return out, mapErr(rows.Err())
}
