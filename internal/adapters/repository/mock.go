package repository

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockURIRecordRepository struct {
	mock.Mock
}

func NewMockURIRecordRepository() *MockURIRecordRepository {
	return &MockURIRecordRepository{}
}

func (m *MockURIRecordRepository) Exists(ctx context.Context, uri string, contentLength int64) (bool, error) {
	args := m.Called(ctx, uri, contentLength)
	return args.Bool(0), args.Error(1)
}

func (m *MockURIRecordRepository) Create(ctx context.Context, record domain.URIRecord) (bool, error) {
	args := m.Called(ctx, record)
	return args.Bool(0), args.Error(1)
}

type MockSingleTaskRepository struct {
	mock.Mock
}

func NewMockSingleTaskRepository() *MockSingleTaskRepository {
	return &MockSingleTaskRepository{}
}

func (m *MockSingleTaskRepository) Create(ctx context.Context, task domain.SingleTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockSingleTaskRepository) FindByID(ctx context.Context, id string) (*domain.SingleTask, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*domain.SingleTask)
	return task, args.Error(1)
}

func (m *MockSingleTaskRepository) MarkInFlight(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSingleTaskRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSingleTaskRepository) FindStale(ctx context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.SingleTask, error) {
	args := m.Called(ctx, inFlightBefore, queuedBefore)
	tasks, _ := args.Get(0).([]domain.SingleTask)
	return tasks, args.Error(1)
}

func (m *MockSingleTaskRepository) Requeue(ctx context.Context, id string, attempts int) (bool, error) {
	args := m.Called(ctx, id, attempts)
	return args.Bool(0), args.Error(1)
}

type MockSingleResultRepository struct {
	mock.Mock
}

func NewMockSingleResultRepository() *MockSingleResultRepository {
	return &MockSingleResultRepository{}
}

func (m *MockSingleResultRepository) Record(ctx context.Context, result domain.SingleResult) (bool, error) {
	args := m.Called(ctx, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockSingleResultRepository) FindByID(ctx context.Context, id string) (*domain.SingleResult, error) {
	args := m.Called(ctx, id)
	result, _ := args.Get(0).(*domain.SingleResult)
	return result, args.Error(1)
}

type MockMultipartResultRepository struct {
	mock.Mock
}

func NewMockMultipartResultRepository() *MockMultipartResultRepository {
	return &MockMultipartResultRepository{}
}

func (m *MockMultipartResultRepository) Create(ctx context.Context, result domain.MultipartResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockMultipartResultRepository) Find(ctx context.Context, uploadID string) (*domain.MultipartResult, error) {
	args := m.Called(ctx, uploadID)
	result, _ := args.Get(0).(*domain.MultipartResult)
	return result, args.Error(1)
}

func (m *MockMultipartResultRepository) FindActive(ctx context.Context, key string, contentLength int64) (*domain.MultipartResult, error) {
	args := m.Called(ctx, key, contentLength)
	result, _ := args.Get(0).(*domain.MultipartResult)
	return result, args.Error(1)
}

func (m *MockMultipartResultRepository) IncrementCompleted(ctx context.Context, uploadID string) (*domain.MultipartResult, error) {
	args := m.Called(ctx, uploadID)
	result, _ := args.Get(0).(*domain.MultipartResult)
	return result, args.Error(1)
}

func (m *MockMultipartResultRepository) FindReadyToFinalize(ctx context.Context, staleBefore time.Time) ([]domain.MultipartResult, error) {
	args := m.Called(ctx, staleBefore)
	results, _ := args.Get(0).([]domain.MultipartResult)
	return results, args.Error(1)
}

func (m *MockMultipartResultRepository) ClaimFinalize(ctx context.Context, uploadID string, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, uploadID, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockMultipartResultRepository) MarkCompleted(ctx context.Context, uploadID string) error {
	args := m.Called(ctx, uploadID)
	return args.Error(0)
}

func (m *MockMultipartResultRepository) MarkFailed(ctx context.Context, uploadID string, detail string) error {
	args := m.Called(ctx, uploadID, detail)
	return args.Error(0)
}

type MockMultipartPartRepository struct {
	mock.Mock
}

func NewMockMultipartPartRepository() *MockMultipartPartRepository {
	return &MockMultipartPartRepository{}
}

func (m *MockMultipartPartRepository) CreateMany(ctx context.Context, parts []domain.PartTask) error {
	args := m.Called(ctx, parts)
	return args.Error(0)
}

func (m *MockMultipartPartRepository) Find(ctx context.Context, uploadID string, part int) (*domain.PartTask, error) {
	args := m.Called(ctx, uploadID, part)
	task, _ := args.Get(0).(*domain.PartTask)
	return task, args.Error(1)
}

func (m *MockMultipartPartRepository) MarkInFlight(ctx context.Context, uploadID string, part int) error {
	args := m.Called(ctx, uploadID, part)
	return args.Error(0)
}

func (m *MockMultipartPartRepository) Complete(ctx context.Context, uploadID string, part int, etag string) (bool, error) {
	args := m.Called(ctx, uploadID, part, etag)
	return args.Bool(0), args.Error(1)
}

func (m *MockMultipartPartRepository) List(ctx context.Context, uploadID string) ([]domain.PartTask, error) {
	args := m.Called(ctx, uploadID)
	parts, _ := args.Get(0).([]domain.PartTask)
	return parts, args.Error(1)
}

func (m *MockMultipartPartRepository) FindStale(ctx context.Context, inFlightBefore, queuedBefore time.Time) ([]domain.PartTask, error) {
	args := m.Called(ctx, inFlightBefore, queuedBefore)
	parts, _ := args.Get(0).([]domain.PartTask)
	return parts, args.Error(1)
}

func (m *MockMultipartPartRepository) Requeue(ctx context.Context, uploadID string, part int, attempts int) (bool, error) {
	args := m.Called(ctx, uploadID, part, attempts)
	return args.Bool(0), args.Error(1)
}

func (m *MockMultipartPartRepository) DeleteByUpload(ctx context.Context, uploadID string) error {
	args := m.Called(ctx, uploadID)
	return args.Error(0)
}

type MockUnitOfWork struct {
	mock.Mock
	uriRecordRepo       *MockURIRecordRepository
	singleTaskRepo      *MockSingleTaskRepository
	singleResultRepo    *MockSingleResultRepository
	multipartResultRepo *MockMultipartResultRepository
	multipartPartRepo   *MockMultipartPartRepository
}

func NewMockUnitOfWork() *MockUnitOfWork {
	return &MockUnitOfWork{
		uriRecordRepo:       &MockURIRecordRepository{},
		singleTaskRepo:      &MockSingleTaskRepository{},
		singleResultRepo:    &MockSingleResultRepository{},
		multipartResultRepo: &MockMultipartResultRepository{},
		multipartPartRepo:   &MockMultipartPartRepository{},
	}
}

func (m *MockUnitOfWork) URIRecordRepo() port.URIRecordRepository {
	return m.uriRecordRepo
}

func (m *MockUnitOfWork) SingleTaskRepo() port.SingleTaskRepository {
	return m.singleTaskRepo
}

func (m *MockUnitOfWork) SingleResultRepo() port.SingleResultRepository {
	return m.singleResultRepo
}

func (m *MockUnitOfWork) MultipartResultRepo() port.MultipartResultRepository {
	return m.multipartResultRepo
}

func (m *MockUnitOfWork) MultipartPartRepo() port.MultipartPartRepository {
	return m.multipartPartRepo
}

func (m *MockUnitOfWork) Execute(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	args := m.Called(ctx, fn)

	if err := fn(m); err != nil {
		return err
	}

	return args.Error(0)
}

func (m *MockUnitOfWork) GetURIRecordRepoMock() *MockURIRecordRepository {
	return m.uriRecordRepo
}

func (m *MockUnitOfWork) GetSingleTaskRepoMock() *MockSingleTaskRepository {
	return m.singleTaskRepo
}

func (m *MockUnitOfWork) GetSingleResultRepoMock() *MockSingleResultRepository {
	return m.singleResultRepo
}

func (m *MockUnitOfWork) GetMultipartResultRepoMock() *MockMultipartResultRepository {
	return m.multipartResultRepo
}

func (m *MockUnitOfWork) GetMultipartPartRepoMock() *MockMultipartPartRepository {
	return m.multipartPartRepo
}
