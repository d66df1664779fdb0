package postgres

import (
	"back-to-origin/internal/core/domain"
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// SQLQuerier is satisfied by *sql.DB and *sql.Tx
type SQLQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func affected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func statesOf(states []domain.JobState) pq.StringArray {
	out := make(pq.StringArray, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}
