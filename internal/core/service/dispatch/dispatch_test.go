package dispatch_test

import (
	"back-to-origin/internal/adapters/eventbroker"
	"back-to-origin/internal/adapters/repository"
	"back-to-origin/internal/adapters/repository/memory"
	"back-to-origin/internal/adapters/storage"
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/core/service/dispatch"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

var backfillCfg = config.BackfillConfig{
	SingleMaxSize: 50 * mb,
	PartSize:      50 * mb,
	MaxObjectSize: 1024 * mb,
}

type fixture struct {
	ledger    *memory.Ledger
	primary   *storage.MockPrimaryStore
	fallback  *storage.MockFallbackOrigin
	publisher *eventbroker.RecordingTaskPublisher
	service   port.DispatchService
}

func newFixture() *fixture {
	f := &fixture{
		ledger:    memory.NewLedger(),
		primary:   storage.NewMockPrimaryStore(),
		fallback:  storage.NewMockFallbackOrigin(),
		publisher: eventbroker.NewRecordingTaskPublisher(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = dispatch.NewDispatchService(f.ledger, f.primary, f.fallback, f.publisher, backfillCfg, nil, logger)
	return f
}

func (f *fixture) stat(key string, size int64, contentType string) {
	f.fallback.On("Stat", mock.Anything, key).Return(&domain.ObjectInfo{Key: key, Size: size, ContentType: contentType}, nil)
}

func TestDispatch_SingleObject(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("images/a.png", 40*mb, "image/png")

	// Act
	err := f.service.Dispatch(ctx, domain.BackfillRequest{URI: "/images/a.png", ContentLength: 40 * mb, ContentType: "image/png"})

	// Assert
	require.NoError(t, err)
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.JobKindSingle, tasks[0].Kind)
	assert.Equal(t, "images/a.png", tasks[0].Single.Key)
	assert.Equal(t, int64(40*mb), tasks[0].Single.ContentLength)

	exists, err := f.ledger.URIRecordRepo().Exists(ctx, "images/a.png", 40*mb)
	require.NoError(t, err)
	assert.True(t, exists)

	saved, err := f.ledger.SingleTaskRepo().FindByID(ctx, "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, saved.State)
	f.primary.AssertNotCalled(t, "InitMultipartUpload", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_Multipart(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("video/b.mp4", 220*mb, "video/mp4")
	f.primary.On("InitMultipartUpload", mock.Anything, "video/b.mp4", "video/mp4").Return("upload-1", nil).Once()

	// Act
	err := f.service.Dispatch(ctx, domain.BackfillRequest{URI: "/video/b.mp4", ContentLength: 220 * mb, ContentType: "video/mp4"})

	// Assert
	require.NoError(t, err)
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, 5)
	for i, task := range tasks {
		assert.Equal(t, domain.JobKindMultipart, task.Kind)
		assert.Equal(t, i+1, task.Part.Part)
		assert.Equal(t, "upload-1", task.Part.UploadID)
	}
	assert.Equal(t, int64(200*mb), tasks[4].Part.StartByte)
	assert.Equal(t, int64(220*mb-1), tasks[4].Part.EndByte)

	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalParts)
	assert.Equal(t, 0, result.CompletedParts)
	assert.Equal(t, domain.JobStatePending, result.Status)
	f.primary.AssertExpectations(t)
}

func TestDispatch_DuplicateIsAcknowledged(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("images/a.png", 40*mb, "image/png")
	req := domain.BackfillRequest{URI: "/images/a.png", ContentLength: 40 * mb, ContentType: "image/png"}
	require.NoError(t, f.service.Dispatch(ctx, req))

	// Act
	err := f.service.Dispatch(ctx, req)

	// Assert
	require.NoError(t, err)
	assert.Len(t, f.publisher.Tasks(), 1)
}

func TestDispatch_NewLengthIsBackfilledAgain(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.fallback.On("Stat", mock.Anything, "images/a.png").Return(&domain.ObjectInfo{Size: 40 * mb, ContentType: "image/png"}, nil).Once()
	f.fallback.On("Stat", mock.Anything, "images/a.png").Return(&domain.ObjectInfo{Size: 41 * mb, ContentType: "image/png"}, nil).Once()
	req := domain.BackfillRequest{URI: "/images/a.png"}
	require.NoError(t, f.service.Dispatch(ctx, req))

	// Act
	err := f.service.Dispatch(ctx, req)

	// Assert
	require.NoError(t, err)
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(41*mb), tasks[1].Single.ContentLength)
}

func TestDispatch_TooLarge(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("dumps/huge.bin", 2048*mb, "application/octet-stream")

	// Act
	err := f.service.Dispatch(ctx, domain.BackfillRequest{URI: "/dumps/huge.bin"})

	// Assert
	require.NoError(t, err)
	assert.Empty(t, f.publisher.Tasks())
	exists, err := f.ledger.URIRecordRepo().Exists(ctx, "dumps/huge.bin", 2048*mb)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDispatch_NotModifiedUsesOriginMetadata(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("css/site.css", 12*1024, "text/css")

	// Act
	err := f.service.Dispatch(ctx, domain.BackfillRequest{URI: "/css/site.css", ContentType: domain.UnknownContentType})

	// Assert
	require.NoError(t, err)
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "text/css", tasks[0].Single.ContentType)
	assert.Equal(t, int64(12*1024), tasks[0].Single.ContentLength)
}

func TestDispatch_RedeliveryResumesOpenUpload(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("video/b.mp4", 220*mb, "video/mp4")
	f.primary.On("InitMultipartUpload", mock.Anything, "video/b.mp4", "video/mp4").Return("upload-1", nil).Once()
	req := domain.BackfillRequest{URI: "/video/b.mp4", ContentLength: 220 * mb, ContentType: "video/mp4"}

	f.publisher.FailWith(errors.New("nats: timeout"))
	require.Error(t, f.service.Dispatch(ctx, req))
	_, err := f.ledger.MultipartPartRepo().Complete(ctx, "upload-1", 1, "etag-1")
	require.NoError(t, err)
	f.publisher.FailWith(nil)

	// Act
	err = f.service.Dispatch(ctx, req)

	// Assert
	require.NoError(t, err)
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, 4)
	assert.Equal(t, 2, tasks[0].Part.Part)
	f.primary.AssertNumberOfCalls(t, "InitMultipartUpload", 1)
	exists, err := f.ledger.URIRecordRepo().Exists(ctx, "video/b.mp4", 220*mb)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDispatch_StatFailureIsRetried(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.fallback.On("Stat", mock.Anything, "images/gone.png").Return(nil, domain.ErrObjectNotFound)

	// Act
	err := f.service.Dispatch(ctx, domain.BackfillRequest{URI: "/images/gone.png"})

	// Assert
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
	assert.NotErrorIs(t, err, domain.ErrMalformedMessage)
	assert.Empty(t, f.publisher.Tasks())
}

func TestDispatch_LedgerFailureAbortsUpload(t *testing.T) {
	// Arrange
	ctx := context.Background()
	mockUow := repository.NewMockUnitOfWork()
	primary := storage.NewMockPrimaryStore()
	fallback := storage.NewMockFallbackOrigin()
	publisher := eventbroker.NewMockTaskPublisher()
	service := dispatch.NewDispatchService(mockUow, primary, fallback, publisher, backfillCfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	fallback.On("Stat", mock.Anything, "video/b.mp4").Return(&domain.ObjectInfo{Size: 120 * mb, ContentType: "video/mp4"}, nil)
	mockUow.GetURIRecordRepoMock().On("Exists", mock.Anything, "video/b.mp4", int64(120*mb)).Return(false, nil)
	mockUow.GetMultipartResultRepoMock().On("FindActive", mock.Anything, "video/b.mp4", int64(120*mb)).Return(nil, domain.ErrRecordNotFound)
	primary.On("InitMultipartUpload", mock.Anything, "video/b.mp4", "video/mp4").Return("upload-9", nil)
	mockUow.On("Execute", mock.Anything, mock.Anything).Return(nil)
	mockUow.GetMultipartResultRepoMock().On("Create", mock.Anything, mock.Anything).Return(assert.AnError)
	primary.On("AbortMultipartUpload", mock.Anything, "video/b.mp4", "upload-9").Return(nil)

	// Act
	err := service.Dispatch(ctx, domain.BackfillRequest{URI: "/video/b.mp4"})

	// Assert
	require.ErrorIs(t, err, assert.AnError)
	primary.AssertExpectations(t)
	publisher.AssertNotCalled(t, "PublishTask", mock.Anything, mock.Anything)
	mockUow.GetURIRecordRepoMock().AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandleMessage_Malformed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	t.Run("invalid json", func(t *testing.T) {
		err := f.service.HandleMessage(ctx, []byte("{not json"))
		assert.ErrorIs(t, err, domain.ErrMalformedMessage)
	})

	t.Run("empty uri", func(t *testing.T) {
		err := f.service.HandleMessage(ctx, []byte(`{"uri":"/","content_length":1}`))
		assert.ErrorIs(t, err, domain.ErrMalformedMessage)
	})

	f.fallback.AssertNotCalled(t, "Stat", mock.Anything, mock.Anything)
}

func TestDispatch_ConcurrentDuplicatesOpenOneUpload(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.stat("video/b.mp4", 220*mb, "video/mp4")

	// both dispatchers pass their checks before either writes the ledger
	var bothInitiated sync.WaitGroup
	bothInitiated.Add(2)
	wait := func(mock.Arguments) {
		bothInitiated.Done()
		bothInitiated.Wait()
	}
	f.primary.On("InitMultipartUpload", mock.Anything, "video/b.mp4", "video/mp4").Run(wait).Return("upload-1", nil).Once()
	f.primary.On("InitMultipartUpload", mock.Anything, "video/b.mp4", "video/mp4").Run(wait).Return("upload-2", nil).Once()
	f.primary.On("AbortMultipartUpload", mock.Anything, "video/b.mp4", mock.Anything).Return(nil).Once()
	req := domain.BackfillRequest{URI: "/video/b.mp4", ContentLength: 220 * mb, ContentType: "video/mp4"}

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.service.Dispatch(ctx, req))
		}()
	}
	wg.Wait()

	// Assert
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, 5)
	uploadIDs := map[string]bool{}
	for _, task := range tasks {
		uploadIDs[task.Part.UploadID] = true
	}
	require.Len(t, uploadIDs, 1)

	active, err := f.ledger.MultipartResultRepo().FindActive(ctx, "video/b.mp4", 220*mb)
	require.NoError(t, err)
	assert.True(t, uploadIDs[active.UploadID])

	var aborted []string
	for _, call := range f.primary.Calls {
		if call.Method == "AbortMultipartUpload" {
			aborted = append(aborted, call.Arguments.String(2))
		}
	}
	require.Len(t, aborted, 1)
	assert.NotEqual(t, active.UploadID, aborted[0])
	f.primary.AssertExpectations(t)
}
