package postgres

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
)

type sqlURIRecordRepository struct {
	db SQLQuerier
}

// NewSqlURIRecordRepository creates a repository that implements port.URIRecordRepository
func NewSqlURIRecordRepository(db SQLQuerier) port.URIRecordRepository {
	return &sqlURIRecordRepository{db: db}
}

// Exists reports whether the object at uri with this length was already handed to backfill
func (s *sqlURIRecordRepository) Exists(ctx context.Context, uri string, contentLength int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM uri_record WHERE uri = $1 AND content_length = $2)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, uri, contentLength).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts the record unless one already exists for (uri, content_length)
func (s *sqlURIRecordRepository) Create(ctx context.Context, record domain.URIRecord) (bool, error) {
	query := `
		INSERT INTO uri_record (id, uri, content_length, content_type, kind, job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uri, content_length) DO NOTHING`

	result, err := s.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.URI,
		record.ContentLength,
		record.ContentType,
		record.Kind,
		record.JobID,
	)
	if err != nil {
		return false, err
	}
	return affected(result)
}
