package postgres

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type sqlSingleTaskRepository struct {
	db SQLQuerier
}

// NewSqlSingleTaskRepository creates a repository that implements port.SingleTaskRepository
func NewSqlSingleTaskRepository(db SQLQuerier) port.SingleTaskRepository {
	return &sqlSingleTaskRepository{db: db}
}

// Create inserts a pending task. A row with the same id and length is left untouched, a different length restarts it.
func (s *sqlSingleTaskRepository) Create(ctx context.Context, task domain.SingleTask) error {
	query := `
		INSERT INTO single_task (id, key, content_length, content_type, state, attempts)
		VALUES ($1, $2, $3, $4, 'pending', 0)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			content_length = EXCLUDED.content_length,
			content_type = EXCLUDED.content_type,
			state = 'pending',
			attempts = 0,
			updated_at = now()
		WHERE single_task.content_length <> EXCLUDED.content_length`

	_, err := s.db.ExecContext(ctx, query, task.ID, task.Key, task.ContentLength, task.ContentType)
	return err
}

func (s *sqlSingleTaskRepository) FindByID(ctx context.Context, id string) (*domain.SingleTask, error) {
	query := `
		SELECT id, key, content_length, content_type, state, attempts, created_at, updated_at
		FROM single_task
		WHERE id = $1`

	var row dbSingleTask
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID,
		&row.Key,
		&row.ContentLength,
		&row.ContentType,
		&row.State,
		&row.Attempts,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("single task %s: %w", id, domain.ErrRecordNotFound)
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// MarkInFlight moves a pending task to in_flight and refreshes its timestamp
func (s *sqlSingleTaskRepository) MarkInFlight(ctx context.Context, id string) error {
	query := `UPDATE single_task SET state = 'in_flight', updated_at = now() WHERE id = $1 AND state = ANY($2)`

	result, err := s.db.ExecContext(ctx, query, id, statesOf([]domain.JobState{domain.JobStatePending, domain.JobStateInFlight}))
	if err != nil {
		return err
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("single task %s: %w", id, domain.ErrRecordNotFound)
	}
	return nil
}

func (s *sqlSingleTaskRepository) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM single_task WHERE id = $1`, id)
	return err
}

// FindStale lists in flight tasks picked up before inFlightBefore and pending tasks queued before queuedBefore
func (s *sqlSingleTaskRepository) FindStale(ctx context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.SingleTask, error) {
	query := `
		SELECT id, key, content_length, content_type, state, attempts, created_at, updated_at
		FROM single_task
		WHERE (state = 'in_flight' AND updated_at < $1)
		   OR (state = 'pending' AND updated_at < $2)
		ORDER BY updated_at`

	rows, err := s.db.QueryContext(ctx, query, inFlightBefore, queuedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.SingleTask
	for rows.Next() {
		var row dbSingleTask
		if err := rows.Scan(
			&row.ID,
			&row.Key,
			&row.ContentLength,
			&row.ContentType,
			&row.State,
			&row.Attempts,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, *row.ToDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Requeue puts the task back to pending and bumps attempts if nobody else did since attempts was read
func (s *sqlSingleTaskRepository) Requeue(ctx context.Context, id string, attempts int) (bool, error) {
	query := `
		UPDATE single_task SET state = 'pending', attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND attempts = $2`

	result, err := s.db.ExecContext(ctx, query, id, attempts)
	if err != nil {
		return false, err
	}
	return affected(result)
}

type dbSingleTask struct {
	ID            string    `db:"id"`
	Key           string    `db:"key"`
	ContentLength int64     `db:"content_length"`
	ContentType   string    `db:"content_type"`
	State         string    `db:"state"`
	Attempts      int       `db:"attempts"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ToDomain converts db obj to domain
func (s *dbSingleTask) ToDomain() *domain.SingleTask {
	return &domain.SingleTask{
		ID:            s.ID,
		Key:           s.Key,
		ContentLength: s.ContentLength,
		ContentType:   s.ContentType,
		State:         domain.JobState(s.State),
		Attempts:      s.Attempts,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type sqlSingleResultRepository struct {
	db SQLQuerier
}

// NewSqlSingleResultRepository creates a repository that implements port.SingleResultRepository
func NewSqlSingleResultRepository(db SQLQuerier) port.SingleResultRepository {
	return &sqlSingleResultRepository{db: db}
}

// Record writes the outcome once per (id, content_length). Returns false when an outcome already exists.
func (s *sqlSingleResultRepository) Record(ctx context.Context, result domain.SingleResult) (bool, error) {
	if !result.Status.IsTerminal() {
		return false, fmt.Errorf("%w: single result must be terminal, got %s", domain.ErrInvalidTransition, result.Status)
	}

	query := `
		INSERT INTO single_result (id, key, content_length, status, error_detail, completed_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			content_length = EXCLUDED.content_length,
			status = EXCLUDED.status,
			error_detail = EXCLUDED.error_detail,
			completed_at = EXCLUDED.completed_at
		WHERE single_result.content_length <> EXCLUDED.content_length`

	res, err := s.db.ExecContext(ctx, query, result.ID, result.Key, result.ContentLength, result.Status, result.ErrorDetail)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *sqlSingleResultRepository) FindByID(ctx context.Context, id string) (*domain.SingleResult, error) {
	query := `
		SELECT id, key, content_length, status, error_detail, completed_at
		FROM single_result
		WHERE id = $1`

	var row dbSingleResult
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID,
		&row.Key,
		&row.ContentLength,
		&row.Status,
		&row.ErrorDetail,
		&row.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("single result %s: %w", id, domain.ErrRecordNotFound)
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

type dbSingleResult struct {
	ID            string    `db:"id"`
	Key           string    `db:"key"`
	ContentLength int64     `db:"content_length"`
	Status        string    `db:"status"`
	ErrorDetail   string    `db:"error_detail"`
	CompletedAt   time.Time `db:"completed_at"`
}

// ToDomain converts db obj to domain
func (s *dbSingleResult) ToDomain() *domain.SingleResult {
	return &domain.SingleResult{
		ID:            s.ID,
		Key:           s.Key,
		ContentLength: s.ContentLength,
		Status:        domain.JobState(s.Status),
		ErrorDetail:   s.ErrorDetail,
		CompletedAt:   s.CompletedAt,
	}
}
