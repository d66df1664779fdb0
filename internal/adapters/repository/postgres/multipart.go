package postgres

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// partsPerInsert keeps a multi-row insert well under the 65535 bind parameter limit
const partsPerInsert = 1000

const multipartResultColumns = `upload_id, key, content_type, content_length, part_size, total_parts, completed_parts,
	status, error_detail, attempts, created_at, updated_at`

const multipartPartColumns = `upload_id, part, key, content_type, start_byte, end_byte, state, etag, attempts,
	created_at, updated_at`

type sqlMultipartResultRepository struct {
	db SQLQuerier
}

// NewSqlMultipartResultRepository creates a repository that implements port.MultipartResultRepository
func NewSqlMultipartResultRepository(db SQLQuerier) port.MultipartResultRepository {
	return &sqlMultipartResultRepository{db: db}
}

// Create inserts a pending upload. ErrAlreadyExists when the upload id or an open upload of the same object exists.
func (s *sqlMultipartResultRepository) Create(ctx context.Context, result domain.MultipartResult) error {
	query := `
		INSERT INTO multipart_result (upload_id, key, content_type, content_length, part_size, total_parts, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`

	_, err := s.db.ExecContext(
		ctx,
		query,
		result.UploadID,
		result.Key,
		result.ContentType,
		result.ContentLength,
		result.PartSize,
		result.TotalParts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upload %s: %w", result.UploadID, domain.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *sqlMultipartResultRepository) Find(ctx context.Context, uploadID string) (*domain.MultipartResult, error) {
	query := `SELECT ` + multipartResultColumns + ` FROM multipart_result WHERE upload_id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uploadID), uploadID)
}

// FindActive returns the newest non terminal upload of key with the given length
func (s *sqlMultipartResultRepository) FindActive(ctx context.Context, key string, contentLength int64) (*domain.MultipartResult, error) {
	query := `
		SELECT ` + multipartResultColumns + `
		FROM multipart_result
		WHERE key = $1 AND content_length = $2 AND status <> ALL($3)
		ORDER BY created_at DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, key, contentLength, statesOf([]domain.JobState{domain.JobStateCompleted, domain.JobStateFailed}))
	return s.scanOne(row, key)
}

// IncrementCompleted atomically adds one completed part and moves the upload to in_flight or all_parts_done
func (s *sqlMultipartResultRepository) IncrementCompleted(ctx context.Context, uploadID string) (*domain.MultipartResult, error) {
	query := `
		UPDATE multipart_result SET
			completed_parts = completed_parts + 1,
			status = CASE WHEN completed_parts + 1 = total_parts THEN 'all_parts_done' ELSE 'in_flight' END,
			updated_at = now()
		WHERE upload_id = $1 AND status = ANY($2) AND completed_parts < total_parts
		RETURNING ` + multipartResultColumns

	row := s.db.QueryRowContext(ctx, query, uploadID, statesOf([]domain.JobState{domain.JobStatePending, domain.JobStateInFlight}))
	result, err := s.scanOne(row, uploadID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: upload %s does not accept parts", domain.ErrInvalidTransition, uploadID)
	}
	return result, err
}

// FindReadyToFinalize lists uploads with every part done, plus finalize claims older than staleBefore
func (s *sqlMultipartResultRepository) FindReadyToFinalize(ctx context.Context, staleBefore time.Time) ([]domain.MultipartResult, error) {
	query := `
		SELECT ` + multipartResultColumns + `
		FROM multipart_result
		WHERE status = 'all_parts_done' OR (status = 'finalized' AND updated_at < $1)
		ORDER BY updated_at`

	rows, err := s.db.QueryContext(ctx, query, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.MultipartResult
	for rows.Next() {
		var row dbMultipartResult
		if err := row.scan(rows); err != nil {
			return nil, err
		}
		results = append(results, *row.ToDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ClaimFinalize moves all_parts_done (or a stale finalized claim) to finalized. Only one caller can win.
func (s *sqlMultipartResultRepository) ClaimFinalize(ctx context.Context, uploadID string, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE multipart_result SET status = 'finalized', attempts = attempts + 1, updated_at = now()
		WHERE upload_id = $1
		  AND (status = ANY($2) OR (status = 'finalized' AND updated_at < $3))`

	result, err := s.db.ExecContext(ctx, query, uploadID, statesOf(domain.PredecessorsOf(domain.JobStateFinalized)), staleBefore)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// MarkCompleted closes a finalized upload
func (s *sqlMultipartResultRepository) MarkCompleted(ctx context.Context, uploadID string) error {
	return s.transition(ctx, uploadID, []domain.JobState{domain.JobStateFinalized}, domain.JobStateCompleted, "")
}

// MarkFailed fails any non terminal upload
func (s *sqlMultipartResultRepository) MarkFailed(ctx context.Context, uploadID string, detail string) error {
	return s.transition(ctx, uploadID, domain.PredecessorsOf(domain.JobStateFailed), domain.JobStateFailed, detail)
}

func (s *sqlMultipartResultRepository) transition(ctx context.Context, uploadID string, from []domain.JobState, next domain.JobState, detail string) error {
	query := `
		UPDATE multipart_result SET status = $2, error_detail = $3, updated_at = now()
		WHERE upload_id = $1 AND status = ANY($4)`

	result, err := s.db.ExecContext(ctx, query, uploadID, next, detail, statesOf(from))
	if err != nil {
		return err
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: upload %s -> %s", domain.ErrInvalidTransition, uploadID, next)
	}
	return nil
}

func (s *sqlMultipartResultRepository) scanOne(row *sql.Row, uploadID string) (*domain.MultipartResult, error) {
	var r dbMultipartResult
	if err := r.scan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload %s: %w", uploadID, domain.ErrRecordNotFound)
		}
		return nil, err
	}
	return r.ToDomain(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

type dbMultipartResult struct {
	UploadID       string    `db:"upload_id"`
	Key            string    `db:"key"`
	ContentType    string    `db:"content_type"`
	ContentLength  int64     `db:"content_length"`
	PartSize       int64     `db:"part_size"`
	TotalParts     int       `db:"total_parts"`
	CompletedParts int       `db:"completed_parts"`
	Status         string    `db:"status"`
	ErrorDetail    string    `db:"error_detail"`
	Attempts       int       `db:"attempts"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *dbMultipartResult) scan(row scanner) error {
	return row.Scan(
		&r.UploadID,
		&r.Key,
		&r.ContentType,
		&r.ContentLength,
		&r.PartSize,
		&r.TotalParts,
		&r.CompletedParts,
		&r.Status,
		&r.ErrorDetail,
		&r.Attempts,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
}

// ToDomain converts db obj to domain
func (r *dbMultipartResult) ToDomain() *domain.MultipartResult {
	return &domain.MultipartResult{
		UploadID:       r.UploadID,
		Key:            r.Key,
		ContentType:    r.ContentType,
		ContentLength:  r.ContentLength,
		PartSize:       r.PartSize,
		TotalParts:     r.TotalParts,
		CompletedParts: r.CompletedParts,
		Status:         domain.JobState(r.Status),
		ErrorDetail:    r.ErrorDetail,
		Attempts:       r.Attempts,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type sqlMultipartPartRepository struct {
	db SQLQuerier
}

// NewSqlMultipartPartRepository creates a repository that implements port.MultipartPartRepository
func NewSqlMultipartPartRepository(db SQLQuerier) port.MultipartPartRepository {
	return &sqlMultipartPartRepository{db: db}
}

// CreateMany inserts pending parts, ignoring parts that already exist
func (s *sqlMultipartPartRepository) CreateMany(ctx context.Context, parts []domain.PartTask) error {
	for start := 0; start < len(parts); start += partsPerInsert {
		batch := parts[start:min(start+partsPerInsert, len(parts))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*6)
		for i, p := range batch {
			n := i * 6
			placeholders[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
			args = append(args, p.UploadID, p.Part, p.Key, p.ContentType, p.StartByte, p.EndByte)
		}

		query := fmt.Sprintf(`
			INSERT INTO multipart_part (upload_id, part, key, content_type, start_byte, end_byte)
			VALUES %s
			ON CONFLICT (upload_id, part) DO NOTHING`, strings.Join(placeholders, ", "))

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlMultipartPartRepository) Find(ctx context.Context, uploadID string, part int) (*domain.PartTask, error) {
	query := `SELECT ` + multipartPartColumns + ` FROM multipart_part WHERE upload_id = $1 AND part = $2`

	var row dbMultipartPart
	if err := row.scan(s.db.QueryRowContext(ctx, query, uploadID, part)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upload %s part %d: %w", uploadID, part, domain.ErrRecordNotFound)
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

func (s *sqlMultipartPartRepository) MarkInFlight(ctx context.Context, uploadID string, part int) error {
	query := `
		UPDATE multipart_part SET state = 'in_flight', updated_at = now()
		WHERE upload_id = $1 AND part = $2 AND state = ANY($3)`

	result, err := s.db.ExecContext(ctx, query, uploadID, part, statesOf([]domain.JobState{domain.JobStatePending, domain.JobStateInFlight}))
	if err != nil {
		return err
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("upload %s part %d: %w", uploadID, part, domain.ErrRecordNotFound)
	}
	return nil
}

// Complete records the etag. Returns false if the part was already completed.
func (s *sqlMultipartPartRepository) Complete(ctx context.Context, uploadID string, part int, etag string) (bool, error) {
	query := `
		UPDATE multipart_part SET state = 'completed', etag = $3, updated_at = now()
		WHERE upload_id = $1 AND part = $2 AND state <> 'completed'`

	result, err := s.db.ExecContext(ctx, query, uploadID, part, etag)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (s *sqlMultipartPartRepository) List(ctx context.Context, uploadID string) ([]domain.PartTask, error) {
	query := `SELECT ` + multipartPartColumns + ` FROM multipart_part WHERE upload_id = $1 ORDER BY part`
	return s.list(ctx, query, uploadID)
}

// FindStale lists in flight parts picked up before inFlightBefore and pending parts queued before queuedBefore
func (s *sqlMultipartPartRepository) FindStale(ctx context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.PartTask, error) {
	query := `
		SELECT ` + multipartPartColumns + `
		FROM multipart_part
		WHERE (state = 'in_flight' AND updated_at < $1)
		   OR (state = 'pending' AND updated_at < $2)
		ORDER BY upload_id, part`
	return s.list(ctx, query, inFlightBefore, queuedBefore)
}

// Requeue puts the part back to pending and bumps attempts if nobody else did since attempts was read
func (s *sqlMultipartPartRepository) Requeue(ctx context.Context, uploadID string, part int, attempts int) (bool, error) {
	query := `
		UPDATE multipart_part SET state = 'pending', attempts = attempts + 1, updated_at = now()
		WHERE upload_id = $1 AND part = $2 AND attempts = $3 AND state <> 'completed'`

	result, err := s.db.ExecContext(ctx, query, uploadID, part, attempts)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (s *sqlMultipartPartRepository) DeleteByUpload(ctx context.Context, uploadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM multipart_part WHERE upload_id = $1`, uploadID)
	return err
}

func (s *sqlMultipartPartRepository) list(ctx context.Context, query string, args ...any) ([]domain.PartTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []domain.PartTask
	for rows.Next() {
		var row dbMultipartPart
		if err := row.scan(rows); err != nil {
			return nil, err
		}
		parts = append(parts, *row.ToDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

type dbMultipartPart struct {
	UploadID    string    `db:"upload_id"`
	Part        int       `db:"part"`
	Key         string    `db:"key"`
	ContentType string    `db:"content_type"`
	StartByte   int64     `db:"start_byte"`
	EndByte     int64     `db:"end_byte"`
	State       string    `db:"state"`
	ETag        string    `db:"etag"`
	Attempts    int       `db:"attempts"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (p *dbMultipartPart) scan(row scanner) error {
	return row.Scan(
		&p.UploadID,
		&p.Part,
		&p.Key,
		&p.ContentType,
		&p.StartByte,
		&p.EndByte,
		&p.State,
		&p.ETag,
		&p.Attempts,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

// ToDomain converts db obj to domain
func (p *dbMultipartPart) ToDomain() *domain.PartTask {
	return &domain.PartTask{
		UploadID:    p.UploadID,
		Part:        p.Part,
		Key:         p.Key,
		ContentType: p.ContentType,
		StartByte:   p.StartByte,
		EndByte:     p.EndByte,
		State:       domain.JobState(p.State),
		ETag:        p.ETag,
		Attempts:    p.Attempts,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
