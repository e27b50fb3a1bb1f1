// Package postgres implements the quota stores on PostgreSQL through the
// sqlc-generated repository.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the stores translate.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// isPgError reports whether err carries the given SQLSTATE code.
func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// withTx runs fn inside a transaction and commits when it returns nil.
func withTx(ctx context.Context, db *sql.DB, queries *repository.Queries, fn func(q *repository.Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
