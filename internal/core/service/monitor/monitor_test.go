package monitor_test

import (
	"back-to-origin/internal/adapters/eventbroker"
	"back-to-origin/internal/adapters/repository/memory"
	"back-to-origin/internal/adapters/storage"
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/core/service/monitor"
	"back-to-origin/internal/core/service/worker"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var monitorCfg = config.MonitorConfig{
	Interval:    time.Minute,
	StaleAfter:  5 * time.Minute,
	QueuedAfter: 24 * time.Hour,
	MaxAttempts: 3,
}

type fixture struct {
	now       time.Time
	ledger    *memory.Ledger
	primary   *storage.MockPrimaryStore
	publisher *eventbroker.RecordingTaskPublisher
}

func newFixture() *fixture {
	f := &fixture{
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		primary:   storage.NewMockPrimaryStore(),
		publisher: eventbroker.NewRecordingTaskPublisher(),
	}
	f.ledger = memory.NewLedgerWithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) service() port.MonitorService {
	return monitor.NewMonitorService(f.ledger, f.primary, f.publisher, monitorCfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) upload(t *testing.T, uploadID string, total int) []domain.PartTask {
	t.Helper()
	ctx := context.Background()
	const partSize = 10
	length := int64(total * partSize)
	require.NoError(t, f.ledger.MultipartResultRepo().Create(ctx, domain.MultipartResult{
		UploadID:      uploadID,
		Key:           "video/" + uploadID + ".mp4",
		ContentType:   "video/mp4",
		ContentLength: length,
		PartSize:      partSize,
		TotalParts:    total,
		Status:        domain.JobStatePending,
	}))
	parts, err := domain.SplitParts(uploadID, "video/"+uploadID+".mp4", "video/mp4", length, partSize)
	require.NoError(t, err)
	require.NoError(t, f.ledger.MultipartPartRepo().CreateMany(ctx, parts))
	return parts
}

func (f *fixture) pickUpPart(t *testing.T, uploadID string, part int) {
	t.Helper()
	require.NoError(t, f.ledger.MultipartPartRepo().MarkInFlight(context.Background(), uploadID, part))
}

func (f *fixture) completeParts(t *testing.T, parts []domain.PartTask) {
	t.Helper()
	ctx := context.Background()
	for _, part := range parts {
		changed, err := f.ledger.MultipartPartRepo().Complete(ctx, part.UploadID, part.Part, fmt.Sprintf("etag-%d", part.Part))
		require.NoError(t, err)
		require.True(t, changed)
		_, err = f.ledger.MultipartResultRepo().IncrementCompleted(ctx, part.UploadID)
		require.NoError(t, err)
	}
}

func TestReconcile_FinalizesUpload(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	parts := f.upload(t, "upload-1", 3)
	f.completeParts(t, parts)
	expected := []domain.UploadedPart{{PartNumber: 1, ETag: "etag-1"}, {PartNumber: 2, ETag: "etag-2"}, {PartNumber: 3, ETag: "etag-3"}}
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", expected).Return(nil).Once()

	// Act
	report, err := f.service().Reconcile(ctx, f.now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.Finalized)
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, result.Status)
	listed, err := f.ledger.MultipartPartRepo().List(ctx, "upload-1")
	require.NoError(t, err)
	assert.Empty(t, listed)
	f.primary.AssertExpectations(t)
}

func TestReconcile_OverlappingMonitorsCompleteOnce(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.completeParts(t, f.upload(t, "upload-1", 4))
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(10 * time.Millisecond) }).
		Return(nil)

	// Act
	var wg sync.WaitGroup
	var mu sync.Mutex
	finalized := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.service().Reconcile(ctx, f.now)
			assert.NoError(t, err)
			mu.Lock()
			finalized += report.Finalized
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Assert
	assert.Equal(t, 1, finalized)
	f.primary.AssertNumberOfCalls(t, "CompleteMultipartUpload", 1)
}

func TestReconcile_FinalizeRetriesAfterStaleClaim(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.completeParts(t, f.upload(t, "upload-1", 2))
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).Return(errors.New("503 slow down")).Once()
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).Return(nil).Once()
	f.primary.On("StatObject", ctx, "video/upload-1.mp4").Return(nil, domain.ErrObjectNotFound)
	service := f.service()

	// Act
	first, err := service.Reconcile(ctx, f.now)
	require.NoError(t, err)
	f.advance(time.Minute)
	tooEarly, err := service.Reconcile(ctx, f.now)
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	retried, err := service.Reconcile(ctx, f.now)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, first.FinalizeFailures)
	assert.Equal(t, domain.ReconcileReport{}, tooEarly)
	assert.Equal(t, 1, retried.Finalized)
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, result.Status)
	assert.Equal(t, 2, result.Attempts)
	f.primary.AssertExpectations(t)
}

func TestReconcile_FinalizeGivesUp(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.completeParts(t, f.upload(t, "upload-1", 2))
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).Return(errors.New("500"))
	f.primary.On("StatObject", ctx, "video/upload-1.mp4").Return(nil, domain.ErrObjectNotFound)
	f.primary.On("AbortMultipartUpload", ctx, "video/upload-1.mp4", "upload-1").Return(nil).Once()
	service := f.service()

	// Act
	var last domain.ReconcileReport
	for i := 0; i <= monitorCfg.MaxAttempts; i++ {
		report, err := service.Reconcile(ctx, f.now)
		require.NoError(t, err)
		last = report
		f.advance(10 * time.Minute)
	}

	// Assert
	assert.Equal(t, 1, last.AbortedUploads)
	f.primary.AssertNumberOfCalls(t, "CompleteMultipartUpload", monitorCfg.MaxAttempts)
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, result.Status)
	f.primary.AssertExpectations(t)
}

func TestReconcile_StalePartsRepublishedThenAborted(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	parts := f.upload(t, "upload-1", 2)
	f.completeParts(t, parts[:1])
	f.primary.On("AbortMultipartUpload", ctx, "video/upload-1.mp4", "upload-1").Return(nil).Once()
	service := f.service()

	// Act
	var reports []domain.ReconcileReport
	for i := 0; i <= monitorCfg.MaxAttempts; i++ {
		f.pickUpPart(t, "upload-1", 2)
		f.advance(6 * time.Minute)
		report, err := service.Reconcile(ctx, f.now)
		require.NoError(t, err)
		reports = append(reports, report)
	}

	// Assert
	tasks := f.publisher.Tasks()
	require.Len(t, tasks, monitorCfg.MaxAttempts)
	for i, task := range tasks {
		assert.Equal(t, 2, task.Part.Part)
		assert.Equal(t, i+1, task.Attempt)
	}
	assert.NotEqual(t, tasks[0].DedupID(), tasks[1].DedupID())
	assert.Equal(t, 1, reports[len(reports)-1].AbortedUploads)

	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, result.Status)
	assert.Contains(t, result.ErrorDetail, "part 2")
	f.primary.AssertExpectations(t)
}

func TestReconcile_StaleSingles(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.ledger.SingleTaskRepo().Create(ctx, domain.SingleTask{ID: "images/a.png", Key: "images/a.png", ContentLength: 10}))
	service := f.service()

	// Act
	var failed int
	for i := 0; i <= monitorCfg.MaxAttempts; i++ {
		require.NoError(t, f.ledger.SingleTaskRepo().MarkInFlight(ctx, "images/a.png"))
		f.advance(6 * time.Minute)
		report, err := service.Reconcile(ctx, f.now)
		require.NoError(t, err)
		failed += report.FailedSingles
	}

	// Assert
	assert.Len(t, f.publisher.Tasks(), monitorCfg.MaxAttempts)
	assert.Equal(t, 1, failed)
	result, err := f.ledger.SingleResultRepo().FindByID(ctx, "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, result.Status)
	_, err = f.ledger.SingleTaskRepo().FindByID(ctx, "images/a.png")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestReconcile_FreshTasksAreLeftAlone(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.upload(t, "upload-1", 2)
	require.NoError(t, f.ledger.SingleTaskRepo().Create(ctx, domain.SingleTask{ID: "a", Key: "a", ContentLength: 1}))
	f.advance(time.Minute)

	// Act
	report, err := f.service().Reconcile(ctx, f.now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileReport{}, report)
	assert.Empty(t, f.publisher.Tasks())
}

func TestReconcile_DeletesPartsOfTerminalUploads(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	for _, part := range f.upload(t, "upload-1", 3) {
		f.pickUpPart(t, part.UploadID, part.Part)
	}
	require.NoError(t, f.ledger.MultipartResultRepo().MarkFailed(ctx, "upload-1", "aborted by operator"))
	f.advance(6 * time.Minute)

	// Act
	report, err := f.service().Reconcile(ctx, f.now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, report.DeletedOrphanParts)
	assert.Empty(t, f.publisher.Tasks())
	listed, err := f.ledger.MultipartPartRepo().List(ctx, "upload-1")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestReconcile_PublishFailureDoesNotStopThePass(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.upload(t, "upload-1", 1)
	f.pickUpPart(t, "upload-1", 1)
	parts := f.upload(t, "upload-2", 2)
	f.completeParts(t, parts)
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-2.mp4", "upload-2", mock.Anything).Return(nil)
	f.publisher.FailWith(errors.New("nats: no responders"))
	f.advance(6 * time.Minute)

	// Act
	report, err := f.service().Reconcile(ctx, f.now)

	// Assert
	require.Error(t, err)
	assert.Equal(t, 1, report.Finalized)
	assert.Equal(t, 0, report.RepublishedParts)
}

func TestReconcile_ShuffledConcurrentPartsFinalizeOnce(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	parts := f.upload(t, "upload-1", 8)

	fallback := storage.NewMockFallbackOrigin()
	fallback.On("OpenRange", ctx, "video/upload-1.mp4", mock.Anything, mock.Anything).Return(func(context.Context, string, int64, int64) io.ReadCloser {
		return io.NopCloser(strings.NewReader("0123456789"))
	}, nil)
	f.primary.On("UploadPart", ctx, "video/upload-1.mp4", "upload-1", mock.Anything, mock.Anything, int64(10)).Return("etag", nil)
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).Return(nil)

	workers := worker.NewWorkerService(f.ledger, f.primary, fallback, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	service := f.service()

	// Act
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 4; w++ {
		order := rand.New(rand.NewSource(int64(w))).Perm(len(parts))
		g.Go(func() error {
			for _, i := range order {
				if err := workers.CopyPart(gctx, parts[i]); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			_, err := service.Reconcile(gctx, f.now)
			return err
		})
	}
	require.NoError(t, g.Wait())
	_, err := service.Reconcile(ctx, f.now)
	require.NoError(t, err)

	// Assert
	f.primary.AssertNumberOfCalls(t, "CompleteMultipartUpload", 1)
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, result.Status)
	assert.Equal(t, 8, result.CompletedParts)
}

func TestReconcile_QueuedSingleIsCopiedWhenDelivered(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	task := domain.SingleTask{ID: "images/a.png", Key: "images/a.png", ContentLength: 5, ContentType: "image/png"}
	require.NoError(t, f.ledger.SingleTaskRepo().Create(ctx, task))
	service := f.service()

	fallback := storage.NewMockFallbackOrigin()
	fallback.On("Open", ctx, "images/a.png").Return(io.NopCloser(strings.NewReader("hello")), nil)
	f.primary.On("PutObject", ctx, "images/a.png", mock.Anything, int64(5), "image/png").Return(nil).Once()
	workers := worker.NewWorkerService(f.ledger, f.primary, fallback, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Act
	for i := 0; i <= monitorCfg.MaxAttempts; i++ {
		f.advance(6 * time.Minute)
		report, err := service.Reconcile(ctx, f.now)
		require.NoError(t, err)
		assert.Equal(t, domain.ReconcileReport{}, report)
	}
	err := workers.CopySingle(ctx, task)

	// Assert
	require.NoError(t, err)
	assert.Empty(t, f.publisher.Tasks())
	result, err := f.ledger.SingleResultRepo().FindByID(ctx, "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, result.Status)
	f.primary.AssertExpectations(t)
}

func TestReconcile_QueuedPartsAreLeftAlone(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.upload(t, "upload-1", 2)
	service := f.service()

	// Act
	for i := 0; i <= monitorCfg.MaxAttempts; i++ {
		f.advance(6 * time.Minute)
		_, err := service.Reconcile(ctx, f.now)
		require.NoError(t, err)
	}

	// Assert
	assert.Empty(t, f.publisher.Tasks())
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, result.Status)
	f.primary.AssertNotCalled(t, "AbortMultipartUpload", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_QueuedPastRetentionIsRepublished(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.upload(t, "upload-1", 1)
	require.NoError(t, f.ledger.SingleTaskRepo().Create(ctx, domain.SingleTask{ID: "images/a.png", Key: "images/a.png", ContentLength: 10}))
	f.advance(monitorCfg.QueuedAfter + time.Minute)

	// Act
	report, err := f.service().Reconcile(ctx, f.now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.RepublishedParts)
	assert.Equal(t, 1, report.RepublishedSingles)
	for _, task := range f.publisher.Tasks() {
		assert.Equal(t, 1, task.Attempt)
	}
	saved, err := f.ledger.SingleTaskRepo().FindByID(ctx, "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, saved.State)
	assert.Equal(t, 1, saved.Attempts)
}

// unreliableLedger fails the next failures transactions
type unreliableLedger struct {
	*memory.Ledger
	failures int
}

func (l *unreliableLedger) Execute(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	if l.failures > 0 {
		l.failures--
		return errors.New("connection reset by peer")
	}
	return l.Ledger.Execute(ctx, fn)
}

func TestReconcile_LedgerFailureAfterCompleteIsRecovered(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.completeParts(t, f.upload(t, "upload-1", 2))
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).Return(nil).Once()
	f.primary.On("StatObject", ctx, "video/upload-1.mp4").Return(&domain.ObjectInfo{Key: "video/upload-1.mp4", Size: 20}, nil)
	ledger := &unreliableLedger{Ledger: f.ledger, failures: 1}
	service := monitor.NewMonitorService(ledger, f.primary, f.publisher, monitorCfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Act
	_, firstErr := service.Reconcile(ctx, f.now)
	f.advance(10 * time.Minute)
	retried, err := service.Reconcile(ctx, f.now)

	// Assert
	require.Error(t, firstErr)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Finalized)
	assert.Zero(t, retried.FinalizeFailures)
	f.primary.AssertNumberOfCalls(t, "CompleteMultipartUpload", 1)
	f.primary.AssertNotCalled(t, "AbortMultipartUpload", mock.Anything, mock.Anything, mock.Anything)
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, result.Status)
}

func TestReconcile_MissingUploadWithAssembledObjectCompletes(t *testing.T) {
	// Arrange
	ctx := context.Background()
	f := newFixture()
	f.completeParts(t, f.upload(t, "upload-1", 2))
	f.primary.On("CompleteMultipartUpload", ctx, "video/upload-1.mp4", "upload-1", mock.Anything).Return(domain.ErrUploadNotFound)
	f.primary.On("StatObject", ctx, "video/upload-1.mp4").Return(&domain.ObjectInfo{Key: "video/upload-1.mp4", Size: 20}, nil)

	// Act
	report, err := f.service().Reconcile(ctx, f.now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.Finalized)
	result, err := f.ledger.MultipartResultRepo().Find(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, result.Status)
}
