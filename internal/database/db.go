package database

import (
	"context"
	"errors"

	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return models.ErrBadRequest
		}
	}

	return err
}

// WithTransaction runs fn in a transaction, committing on nil and rolling back otherwise
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
