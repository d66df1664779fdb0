// Package memory is an in-process ledger with the same conditional semantics as the postgres ledger.
// Useful for tests and single-node development.
package memory

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

type partKey struct {
	uploadID string
	part     int
}

type uriKey struct {
	uri    string
	length int64
}

type state struct {
	uris       map[uriKey]domain.URIRecord
	singles    map[string]domain.SingleTask
	results    map[string]domain.SingleResult
	multiparts map[string]domain.MultipartResult
	parts      map[partKey]domain.PartTask
}

func (s state) clone() state {
	return state{
		uris:       maps.Clone(s.uris),
		singles:    maps.Clone(s.singles),
		results:    maps.Clone(s.results),
		multiparts: maps.Clone(s.multiparts),
		parts:      maps.Clone(s.parts),
	}
}

type store struct {
	mu  sync.Mutex
	now func() time.Time
	state
}

// Ledger implements port.UnitOfWork in memory
type Ledger struct {
	s    *store
	inTx bool
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return NewLedgerWithClock(time.Now)
}

// NewLedgerWithClock creates an empty ledger stamping rows with now
func NewLedgerWithClock(now func() time.Time) *Ledger {
	return &Ledger{s: &store{
		now: now,
		state: state{
			uris:       map[uriKey]domain.URIRecord{},
			singles:    map[string]domain.SingleTask{},
			results:    map[string]domain.SingleResult{},
			multiparts: map[string]domain.MultipartResult{},
			parts:      map[partKey]domain.PartTask{},
		},
	}}
}

func (l *Ledger) lock() func() {
	if l.inTx {
		return func() {}
	}
	l.s.mu.Lock()
	return l.s.mu.Unlock
}

// Execute runs fn holding the ledger lock and restores the previous state if fn fails or ctx is done
func (l *Ledger) Execute(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	if l.inTx {
		return fn(l)
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	snapshot := l.s.state.clone()
	if err := fn(&Ledger{s: l.s, inTx: true}); err != nil {
		l.s.state = snapshot
		return err
	}
	// a cancelled context rolls back like the postgres transaction does
	if err := ctx.Err(); err != nil {
		l.s.state = snapshot
		return err
	}
	return nil
}

func (l *Ledger) URIRecordRepo() port.URIRecordRepository             { return uriRepo{l} }
func (l *Ledger) SingleTaskRepo() port.SingleTaskRepository           { return singleTaskRepo{l} }
func (l *Ledger) SingleResultRepo() port.SingleResultRepository       { return singleResultRepo{l} }
func (l *Ledger) MultipartResultRepo() port.MultipartResultRepository { return multipartResultRepo{l} }
func (l *Ledger) MultipartPartRepo() port.MultipartPartRepository     { return multipartPartRepo{l} }

type uriRepo struct{ l *Ledger }

func (r uriRepo) Exists(_ context.Context, uri string, contentLength int64) (bool, error) {
	defer r.l.lock()()
	_, ok := r.l.s.uris[uriKey{uri, contentLength}]
	return ok, nil
}

func (r uriRepo) Create(_ context.Context, record domain.URIRecord) (bool, error) {
	defer r.l.lock()()
	k := uriKey{record.URI, record.ContentLength}
	if _, ok := r.l.s.uris[k]; ok {
		return false, nil
	}
	record.CreatedAt = r.l.s.now()
	r.l.s.uris[k] = record
	return true, nil
}

type singleTaskRepo struct{ l *Ledger }

func (r singleTaskRepo) Create(_ context.Context, task domain.SingleTask) error {
	defer r.l.lock()()
	if existing, ok := r.l.s.singles[task.ID]; ok && existing.ContentLength == task.ContentLength {
		return nil
	}
	now := r.l.s.now()
	task.State = domain.JobStatePending
	task.Attempts = 0
	task.CreatedAt = now
	task.UpdatedAt = now
	r.l.s.singles[task.ID] = task
	return nil
}

func (r singleTaskRepo) FindByID(_ context.Context, id string) (*domain.SingleTask, error) {
	defer r.l.lock()()
	task, ok := r.l.s.singles[id]
	if !ok {
		return nil, fmt.Errorf("single task %s: %w", id, domain.ErrRecordNotFound)
	}
	return &task, nil
}

func (r singleTaskRepo) MarkInFlight(_ context.Context, id string) error {
	defer r.l.lock()()
	task, ok := r.l.s.singles[id]
	if !ok || !task.State.CanTransitionTo(domain.JobStateInFlight) {
		return fmt.Errorf("single task %s: %w", id, domain.ErrRecordNotFound)
	}
	task.State = domain.JobStateInFlight
	task.UpdatedAt = r.l.s.now()
	r.l.s.singles[id] = task
	return nil
}

func (r singleTaskRepo) Delete(_ context.Context, id string) error {
	defer r.l.lock()()
	delete(r.l.s.singles, id)
	return nil
}

// stale reports whether a worker went quiet on a picked up task or a queued task outlived the queue
func stale(state domain.JobState, updatedAt, inFlightBefore, queuedBefore time.Time) bool {
	switch state {
	case domain.JobStateInFlight:
		return updatedAt.Before(inFlightBefore)
	case domain.JobStatePending:
		return updatedAt.Before(queuedBefore)
	default:
		return false
	}
}

func (r singleTaskRepo) FindStale(_ context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.SingleTask, error) {
	defer r.l.lock()()
	var tasks []domain.SingleTask
	for _, task := range r.l.s.singles {
		if stale(task.State, task.UpdatedAt, inFlightBefore, queuedBefore) {
			tasks = append(tasks, task)
		}
	}
	slices.SortFunc(tasks, func(a, b domain.SingleTask) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return tasks, nil
}

func (r singleTaskRepo) Requeue(_ context.Context, id string, attempts int) (bool, error) {
	defer r.l.lock()()
	task, ok := r.l.s.singles[id]
	if !ok || task.Attempts != attempts {
		return false, nil
	}
	task.State = domain.JobStatePending
	task.Attempts++
	task.UpdatedAt = r.l.s.now()
	r.l.s.singles[id] = task
	return true, nil
}

type singleResultRepo struct{ l *Ledger }

func (r singleResultRepo) Record(_ context.Context, result domain.SingleResult) (bool, error) {
	if !result.Status.IsTerminal() {
		return false, fmt.Errorf("%w: single result must be terminal, got %s", domain.ErrInvalidTransition, result.Status)
	}
	defer r.l.lock()()
	if existing, ok := r.l.s.results[result.ID]; ok && existing.ContentLength == result.ContentLength {
		return false, nil
	}
	result.CompletedAt = r.l.s.now()
	r.l.s.results[result.ID] = result
	return true, nil
}

func (r singleResultRepo) FindByID(_ context.Context, id string) (*domain.SingleResult, error) {
	defer r.l.lock()()
	result, ok := r.l.s.results[id]
	if !ok {
		return nil, fmt.Errorf("single result %s: %w", id, domain.ErrRecordNotFound)
	}
	return &result, nil
}

type multipartResultRepo struct{ l *Ledger }

func (r multipartResultRepo) Create(_ context.Context, result domain.MultipartResult) error {
	defer r.l.lock()()
	if _, ok := r.l.s.multiparts[result.UploadID]; ok {
		return fmt.Errorf("upload %s: %w", result.UploadID, domain.ErrAlreadyExists)
	}
	for _, open := range r.l.s.multiparts {
		if open.Key == result.Key && open.ContentLength == result.ContentLength && !open.Status.IsTerminal() {
			return fmt.Errorf("upload of %s: %w", result.Key, domain.ErrAlreadyExists)
		}
	}
	now := r.l.s.now()
	result.Status = domain.JobStatePending
	result.CompletedParts = 0
	result.Attempts = 0
	result.CreatedAt = now
	result.UpdatedAt = now
	r.l.s.multiparts[result.UploadID] = result
	return nil
}

func (r multipartResultRepo) Find(_ context.Context, uploadID string) (*domain.MultipartResult, error) {
	defer r.l.lock()()
	result, ok := r.l.s.multiparts[uploadID]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", uploadID, domain.ErrRecordNotFound)
	}
	return &result, nil
}

func (r multipartResultRepo) FindActive(_ context.Context, key string, contentLength int64) (*domain.MultipartResult, error) {
	defer r.l.lock()()
	var active *domain.MultipartResult
	for _, result := range r.l.s.multiparts {
		if result.Key != key || result.ContentLength != contentLength || result.Status.IsTerminal() {
			continue
		}
		if active == nil || result.CreatedAt.After(active.CreatedAt) {
			found := result
			active = &found
		}
	}
	if active == nil {
		return nil, fmt.Errorf("upload of %s: %w", key, domain.ErrRecordNotFound)
	}
	return active, nil
}

func (r multipartResultRepo) IncrementCompleted(_ context.Context, uploadID string) (*domain.MultipartResult, error) {
	defer r.l.lock()()
	result, ok := r.l.s.multiparts[uploadID]
	accepting := result.Status == domain.JobStatePending || result.Status == domain.JobStateInFlight
	if !ok || !accepting || result.CompletedParts >= result.TotalParts {
		return nil, fmt.Errorf("%w: upload %s does not accept parts", domain.ErrInvalidTransition, uploadID)
	}
	result.CompletedParts++
	result.Status = domain.JobStateInFlight
	if result.CompletedParts == result.TotalParts {
		result.Status = domain.JobStateAllPartsDone
	}
	result.UpdatedAt = r.l.s.now()
	r.l.s.multiparts[uploadID] = result
	return &result, nil
}

func (r multipartResultRepo) FindReadyToFinalize(_ context.Context, staleBefore time.Time) ([]domain.MultipartResult, error) {
	defer r.l.lock()()
	var ready []domain.MultipartResult
	for _, result := range r.l.s.multiparts {
		if claimable(result, staleBefore) {
			ready = append(ready, result)
		}
	}
	slices.SortFunc(ready, func(a, b domain.MultipartResult) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return ready, nil
}

func claimable(result domain.MultipartResult, staleBefore time.Time) bool {
	return result.Status == domain.JobStateAllPartsDone ||
		(result.Status == domain.JobStateFinalized && result.UpdatedAt.Before(staleBefore))
}

func (r multipartResultRepo) ClaimFinalize(_ context.Context, uploadID string, staleBefore time.Time) (bool, error) {
	defer r.l.lock()()
	result, ok := r.l.s.multiparts[uploadID]
	if !ok || !claimable(result, staleBefore) {
		return false, nil
	}
	result.Status = domain.JobStateFinalized
	result.Attempts++
	result.UpdatedAt = r.l.s.now()
	r.l.s.multiparts[uploadID] = result
	return true, nil
}

func (r multipartResultRepo) MarkCompleted(_ context.Context, uploadID string) error {
	return r.transition(uploadID, []domain.JobState{domain.JobStateFinalized}, domain.JobStateCompleted, "")
}

func (r multipartResultRepo) MarkFailed(_ context.Context, uploadID string, detail string) error {
	return r.transition(uploadID, domain.PredecessorsOf(domain.JobStateFailed), domain.JobStateFailed, detail)
}

func (r multipartResultRepo) transition(uploadID string, from []domain.JobState, next domain.JobState, detail string) error {
	defer r.l.lock()()
	result, ok := r.l.s.multiparts[uploadID]
	if !ok || !slices.Contains(from, result.Status) {
		return fmt.Errorf("%w: upload %s -> %s", domain.ErrInvalidTransition, uploadID, next)
	}
	result.Status = next
	result.ErrorDetail = detail
	result.UpdatedAt = r.l.s.now()
	r.l.s.multiparts[uploadID] = result
	return nil
}

type multipartPartRepo struct{ l *Ledger }

func (r multipartPartRepo) CreateMany(_ context.Context, parts []domain.PartTask) error {
	defer r.l.lock()()
	now := r.l.s.now()
	for _, p := range parts {
		k := partKey{p.UploadID, p.Part}
		if _, ok := r.l.s.parts[k]; ok {
			continue
		}
		p.State = domain.JobStatePending
		p.ETag = ""
		p.Attempts = 0
		p.CreatedAt = now
		p.UpdatedAt = now
		r.l.s.parts[k] = p
	}
	return nil
}

func (r multipartPartRepo) Find(_ context.Context, uploadID string, part int) (*domain.PartTask, error) {
	defer r.l.lock()()
	p, ok := r.l.s.parts[partKey{uploadID, part}]
	if !ok {
		return nil, fmt.Errorf("upload %s part %d: %w", uploadID, part, domain.ErrRecordNotFound)
	}
	return &p, nil
}

func (r multipartPartRepo) MarkInFlight(_ context.Context, uploadID string, part int) error {
	defer r.l.lock()()
	k := partKey{uploadID, part}
	p, ok := r.l.s.parts[k]
	if !ok || p.State == domain.JobStateCompleted {
		return fmt.Errorf("upload %s part %d: %w", uploadID, part, domain.ErrRecordNotFound)
	}
	p.State = domain.JobStateInFlight
	p.UpdatedAt = r.l.s.now()
	r.l.s.parts[k] = p
	return nil
}

func (r multipartPartRepo) Complete(_ context.Context, uploadID string, part int, etag string) (bool, error) {
	defer r.l.lock()()
	k := partKey{uploadID, part}
	p, ok := r.l.s.parts[k]
	if !ok || p.State == domain.JobStateCompleted {
		return false, nil
	}
	p.State = domain.JobStateCompleted
	p.ETag = etag
	p.UpdatedAt = r.l.s.now()
	r.l.s.parts[k] = p
	return true, nil
}

func (r multipartPartRepo) List(_ context.Context, uploadID string) ([]domain.PartTask, error) {
	defer r.l.lock()()
	var parts []domain.PartTask
	for k, p := range r.l.s.parts {
		if k.uploadID == uploadID {
			parts = append(parts, p)
		}
	}
	slices.SortFunc(parts, func(a, b domain.PartTask) int { return a.Part - b.Part })
	return parts, nil
}

func (r multipartPartRepo) FindStale(_ context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.PartTask, error) {
	defer r.l.lock()()
	var parts []domain.PartTask
	for _, p := range r.l.s.parts {
		if stale(p.State, p.UpdatedAt, inFlightBefore, queuedBefore) {
			parts = append(parts, p)
		}
	}
	slices.SortFunc(parts, func(a, b domain.PartTask) int {
		if a.UploadID != b.UploadID {
			if a.UploadID < b.UploadID {
				return -1
			}
			return 1
		}
		return a.Part - b.Part
	})
	return parts, nil
}

func (r multipartPartRepo) Requeue(_ context.Context, uploadID string, part int, attempts int) (bool, error) {
	defer r.l.lock()()
	k := partKey{uploadID, part}
	p, ok := r.l.s.parts[k]
	if !ok || p.State == domain.JobStateCompleted || p.Attempts != attempts {
		return false, nil
	}
	p.State = domain.JobStatePending
	p.Attempts++
	p.UpdatedAt = r.l.s.now()
	r.l.s.parts[k] = p
	return true, nil
}

func (r multipartPartRepo) DeleteByUpload(_ context.Context, uploadID string) error {
	defer r.l.lock()()
	for k := range r.l.s.parts {
		if k.uploadID == uploadID {
			delete(r.l.s.parts, k)
		}
	}
	return nil
}
