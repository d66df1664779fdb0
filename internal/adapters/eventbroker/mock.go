package eventbroker

import (
	"back-to-origin/internal/core/domain"
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockTaskPublisher struct {
	mock.Mock
}

func NewMockTaskPublisher() *MockTaskPublisher {
	return &MockTaskPublisher{}
}

func (m *MockTaskPublisher) PublishTask(ctx context.Context, task domain.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type MockBackfillPublisher struct {
	mock.Mock
}

func NewMockBackfillPublisher() *MockBackfillPublisher {
	return &MockBackfillPublisher{}
}

func (m *MockBackfillPublisher) PublishBackfill(ctx context.Context, req domain.BackfillRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// RecordingNotifier keeps every notified request
type RecordingNotifier struct {
	mu       sync.Mutex
	requests []domain.BackfillRequest
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(req domain.BackfillRequest) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return true
}

func (n *RecordingNotifier) Requests() []domain.BackfillRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.BackfillRequest(nil), n.requests...)
}

// RecordingTaskPublisher keeps every published task
type RecordingTaskPublisher struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func NewRecordingTaskPublisher() *RecordingTaskPublisher {
	return &RecordingTaskPublisher{}
}

func (p *RecordingTaskPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingTaskPublisher) PublishTask(_ context.Context, task domain.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *RecordingTaskPublisher) Tasks() []domain.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Task(nil), p.tasks...)
}
