package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"

	txAttempts = 3
)

// Transactor runs a unit of work inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type sqlxTransactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) Transactor {
	return &sqlxTransactor{db: db}
}

// WithinTx commits when fn returns nil and rolls back otherwise. Transactions that
// lose a serialization or deadlock race are replayed from the start.
func (t *sqlxTransactor) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	err := retry.Do(
		func() error {
			lastErr = t.runOnce(ctx, fn)
			return lastErr
		},
		retry.Attempts(txAttempts),
		retry.Delay(20*time.Millisecond),
		retry.MaxJitter(30*time.Millisecond),
		retry.Context(ctx),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[Tx] retrying transaction attempt=%d err=%v", n+1, err)
		}),
	)
	if err == nil {
		return nil
	}
	// Callers match sentinels with errors.Is, so hand back fn's own error.
	if lastErr != nil {
		return lastErr
	}
	return err
}

func (t *sqlxTransactor) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient Postgres conflict.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
