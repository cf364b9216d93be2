package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

var errNoRowsAffected = errors.New("no rows affected")

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	return pgErr, true
}

func isCodeUniqueViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraintCodeUnique
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, errNoRowsAffected):
		return errx.E(op, errx.NotFound, err)

	case isCodeUniqueViolation(err):
		return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", shortener.ErrCodeTaken, err))
	}

	if pgErr, ok := pgError(err); ok {
		switch pgErr.Code {
		case codeUniqueViolation:
			return errx.E(op, errx.Conflict, err)
		case codeForeignKeyViolation, codeCheckViolation:
			return errx.E(op, errx.Invalid, err)
		}
	}
	return errx.E(op, errx.Unavailable, err)
}

// expectAffected turns a zero-row command into a not-found error.
func expectAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return errNoRowsAffected
	}
	return nil
}
