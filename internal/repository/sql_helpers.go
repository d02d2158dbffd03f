package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	univote_errors "univote/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const DefaultTimeout = 5 * time.Second

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// mapErr converts driver errors into the domain taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return univote_errors.ErrNotFound
	case isUniqueViolation(err):
		return univote_errors.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return univote_errors.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %v", univote_errors.ErrTransient, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", univote_errors.ErrTransient, err)
	}
	return err
}

// WithTx executes fn inside a transaction when db can begin one.
// If db is already a pgx.Tx, fn is executed directly.
func WithTx(ctx context.Context, db DBTX, fn func(DBTX) error) error {
	if db == nil {
		return errors.New("database not initialized")
	}
	if tx, ok := db.(pgx.Tx); ok {
		return fn(tx)
	}
	starter, ok := db.(txStarter)
	if !ok {
		return errors.New("unsupported db type")
	}
	tx, err := starter.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("tx error: %w (rollback error: %w)", err, rbErr)
		}
		return err
	}
	return mapErr(tx.Commit(ctx))
}

// base bounds every query by the configured timeout.
type base struct {
	db      DBTX
	timeout time.Duration
}

func newBase(db DBTX, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return base{db: db, timeout: timeout}
}

func (b base) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}
