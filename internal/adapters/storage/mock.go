package storage

import (
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

type MockPrimaryStore struct {
	mock.Mock
}

func NewMockPrimaryStore() *MockPrimaryStore {
	return &MockPrimaryStore{}
}

func (m *MockPrimaryStore) StatObject(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	args := m.Called(ctx, key)
	info, _ := args.Get(0).(*domain.ObjectInfo)
	return info, args.Error(1)
}

func (m *MockPrimaryStore) OpenObject(ctx context.Context, key string) (port.ReadSeekCloser, *domain.ObjectInfo, error) {
	args := m.Called(ctx, key)
	body, _ := args.Get(0).(port.ReadSeekCloser)
	info, _ := args.Get(1).(*domain.ObjectInfo)
	return body, info, args.Error(2)
}

func (m *MockPrimaryStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	args := m.Called(ctx, key, mock.Anything, size, contentType)
	return args.Error(0)
}

func (m *MockPrimaryStore) InitMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockPrimaryStore) UploadPart(ctx context.Context, key string, uploadID string, part int, body io.Reader, size int64) (string, error) {
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	args := m.Called(ctx, key, uploadID, part, mock.Anything, size)
	return args.String(0), args.Error(1)
}

func (m *MockPrimaryStore) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []domain.UploadedPart) error {
	args := m.Called(ctx, key, uploadID, parts)
	return args.Error(0)
}

func (m *MockPrimaryStore) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	args := m.Called(ctx, key, uploadID)
	return args.Error(0)
}

type MockFallbackOrigin struct {
	mock.Mock
}

func NewMockFallbackOrigin() *MockFallbackOrigin {
	return &MockFallbackOrigin{}
}

func (m *MockFallbackOrigin) Stat(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	args := m.Called(ctx, key)
	info, _ := args.Get(0).(*domain.ObjectInfo)
	return info, args.Error(1)
}

func (m *MockFallbackOrigin) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if fn, ok := args.Get(0).(func(context.Context, string) io.ReadCloser); ok {
		return fn(ctx, key), args.Error(1)
	}
	body, _ := args.Get(0).(io.ReadCloser)
	return body, args.Error(1)
}

func (m *MockFallbackOrigin) OpenRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	args := m.Called(ctx, key, start, end)
	if fn, ok := args.Get(0).(func(context.Context, string, int64, int64) io.ReadCloser); ok {
		return fn(ctx, key, start, end), args.Error(1)
	}
	body, _ := args.Get(0).(io.ReadCloser)
	return body, args.Error(1)
}
