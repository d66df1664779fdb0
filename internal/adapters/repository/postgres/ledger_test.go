package postgres_test

import (
	"back-to-origin/internal/adapters/repository/postgres"
	"back-to-origin/internal/core/domain"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlURIRecordRepository(t *testing.T) {
	dbConnection, cleanup, truncate := postgres.NewTestDB(t)
	defer cleanup()
	ctx := context.Background()
	repo := postgres.NewSqlURIRecordRepository(dbConnection)

	record := domain.URIRecord{
		ID:            uuid.New(),
		URI:           "images/a.png",
		ContentLength: 40 * 1024 * 1024,
		ContentType:   "image/png",
		Kind:          domain.JobKindSingle,
		JobID:         "images/a.png",
	}

	t.Run("Create then Exists", func(t *testing.T) {
		// Arrange
		truncate()

		// Act
		created, err := repo.Create(ctx, record)

		// Assert
		require.NoError(t, err)
		assert.True(t, created)
		exists, err := repo.Exists(ctx, record.URI, record.ContentLength)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Create is idempotent on uri and length", func(t *testing.T) {
		// Arrange
		truncate()
		_, err := repo.Create(ctx, record)
		require.NoError(t, err)

		again := record
		again.ID = uuid.New()

		// Act
		created, err := repo.Create(ctx, again)

		// Assert
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("A new length is a new record", func(t *testing.T) {
		// Arrange
		truncate()
		_, err := repo.Create(ctx, record)
		require.NoError(t, err)

		// Act
		exists, err := repo.Exists(ctx, record.URI, record.ContentLength+1)

		// Assert
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestSqlSingleRepositories(t *testing.T) {
	dbConnection, cleanup, truncate := postgres.NewTestDB(t)
	defer cleanup()
	ctx := context.Background()
	tasks := postgres.NewSqlSingleTaskRepository(dbConnection)
	results := postgres.NewSqlSingleResultRepository(dbConnection)

	task := domain.SingleTask{ID: "images/a.png", Key: "images/a.png", ContentLength: 10, ContentType: "image/png"}

	t.Run("MarkInFlight then Delete", func(t *testing.T) {
		// Arrange
		truncate()
		require.NoError(t, tasks.Create(ctx, task))

		// Act
		err := tasks.MarkInFlight(ctx, task.ID)

		// Assert
		require.NoError(t, err)
		saved, err := tasks.FindByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateInFlight, saved.State)

		require.NoError(t, tasks.Delete(ctx, task.ID))
		assert.ErrorIs(t, tasks.MarkInFlight(ctx, task.ID), domain.ErrRecordNotFound)
	})

	t.Run("Create with same length keeps attempts", func(t *testing.T) {
		// Arrange
		truncate()
		require.NoError(t, tasks.Create(ctx, task))
		requeued, err := tasks.Requeue(ctx, task.ID, 0)
		require.NoError(t, err)
		require.True(t, requeued)

		// Act
		require.NoError(t, tasks.Create(ctx, task))

		// Assert
		saved, err := tasks.FindByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, saved.Attempts)
	})

	t.Run("Requeue is conditional on attempts", func(t *testing.T) {
		// Arrange
		truncate()
		require.NoError(t, tasks.Create(ctx, task))
		require.NoError(t, tasks.MarkInFlight(ctx, task.ID))

		// Act
		first, err1 := tasks.Requeue(ctx, task.ID, 0)
		second, err2 := tasks.Requeue(ctx, task.ID, 0)

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.True(t, first)
		assert.False(t, second)
		saved, err := tasks.FindByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatePending, saved.State)
		assert.Equal(t, 1, saved.Attempts)
	})

	t.Run("FindStale only counts queued tasks past the queue bound", func(t *testing.T) {
		// Arrange
		truncate()
		require.NoError(t, tasks.Create(ctx, task))
		past, future := time.Now().Add(-time.Hour), time.Now().Add(time.Hour)

		// Act
		queued, err := tasks.FindStale(ctx, future, past)
		require.NoError(t, err)
		expired, err := tasks.FindStale(ctx, future, future)
		require.NoError(t, err)
		require.NoError(t, tasks.MarkInFlight(ctx, task.ID))
		inFlight, err := tasks.FindStale(ctx, future, past)
		require.NoError(t, err)
		fresh, err := tasks.FindStale(ctx, past, past)
		require.NoError(t, err)

		// Assert
		assert.Empty(t, queued)
		require.Len(t, expired, 1)
		require.Len(t, inFlight, 1)
		assert.Equal(t, task.ID, inFlight[0].ID)
		assert.Empty(t, fresh)
	})

	t.Run("Record is write once per length", func(t *testing.T) {
		// Arrange
		truncate()
		completed := domain.SingleResult{ID: task.ID, Key: task.Key, ContentLength: 10, Status: domain.JobStateCompleted}
		failed := completed
		failed.Status = domain.JobStateFailed

		// Act
		first, err := results.Record(ctx, completed)
		require.NoError(t, err)
		second, err := results.Record(ctx, failed)
		require.NoError(t, err)

		// Assert
		assert.True(t, first)
		assert.False(t, second)
		saved, err := results.FindByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateCompleted, saved.Status)

		changed := failed
		changed.ContentLength = 11
		third, err := results.Record(ctx, changed)
		require.NoError(t, err)
		assert.True(t, third)
	})

	t.Run("Record rejects non terminal status", func(t *testing.T) {
		truncate()
		_, err := results.Record(ctx, domain.SingleResult{ID: "x", Key: "x", Status: domain.JobStateInFlight})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestSqlMultipartRepositories(t *testing.T) {
	dbConnection, cleanup, truncate := postgres.NewTestDB(t)
	defer cleanup()
	ctx := context.Background()
	results := postgres.NewSqlMultipartResultRepository(dbConnection)
	parts := postgres.NewSqlMultipartPartRepository(dbConnection)

	const partSize = 5 * 1024 * 1024
	setup := func(t *testing.T, total int) []domain.PartTask {
		t.Helper()
		truncate()
		length := int64(total) * partSize
		require.NoError(t, results.Create(ctx, domain.MultipartResult{
			UploadID:      "upload-1",
			Key:           "video/b.mp4",
			ContentType:   "video/mp4",
			ContentLength: length,
			PartSize:      partSize,
			TotalParts:    total,
		}))
		planned, err := domain.SplitParts("upload-1", "video/b.mp4", "video/mp4", length, partSize)
		require.NoError(t, err)
		require.NoError(t, parts.CreateMany(ctx, planned))
		return planned
	}

	t.Run("Create twice fails", func(t *testing.T) {
		setup(t, 2)
		err := results.Create(ctx, domain.MultipartResult{UploadID: "upload-1", Key: "k", ContentLength: 1, PartSize: 1, TotalParts: 1})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("FindActive ignores terminal uploads", func(t *testing.T) {
		setup(t, 2)
		length := int64(2 * partSize)

		active, err := results.FindActive(ctx, "video/b.mp4", length)
		require.NoError(t, err)
		assert.Equal(t, "upload-1", active.UploadID)

		_, err = results.FindActive(ctx, "video/b.mp4", length+1)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)

		require.NoError(t, results.MarkFailed(ctx, "upload-1", "aborted"))
		_, err = results.FindActive(ctx, "video/b.mp4", length)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("Only one open upload per object", func(t *testing.T) {
		setup(t, 2)
		second := domain.MultipartResult{
			UploadID:      "upload-2",
			Key:           "video/b.mp4",
			ContentType:   "video/mp4",
			ContentLength: 2 * partSize,
			PartSize:      partSize,
			TotalParts:    2,
		}

		err := results.Create(ctx, second)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		require.NoError(t, results.MarkFailed(ctx, "upload-1", "aborted"))
		require.NoError(t, results.Create(ctx, second))
	})

	t.Run("CreateMany is idempotent", func(t *testing.T) {
		planned := setup(t, 3)
		require.NoError(t, parts.CreateMany(ctx, planned))

		listed, err := parts.List(ctx, "upload-1")
		require.NoError(t, err)
		require.Len(t, listed, 3)
		assert.Equal(t, 1, listed[0].Part)
		assert.Equal(t, domain.JobStatePending, listed[0].State)
	})

	t.Run("Complete is conditional", func(t *testing.T) {
		setup(t, 2)

		first, err := parts.Complete(ctx, "upload-1", 1, "etag-1")
		require.NoError(t, err)
		second, err := parts.Complete(ctx, "upload-1", 1, "etag-other")
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
		saved, err := parts.Find(ctx, "upload-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "etag-1", saved.ETag)
		assert.Equal(t, domain.JobStateCompleted, saved.State)
	})

	t.Run("IncrementCompleted moves to all_parts_done on the last part", func(t *testing.T) {
		setup(t, 2)

		afterFirst, err := results.IncrementCompleted(ctx, "upload-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateInFlight, afterFirst.Status)
		assert.Equal(t, 1, afterFirst.CompletedParts)

		afterLast, err := results.IncrementCompleted(ctx, "upload-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateAllPartsDone, afterLast.Status)
		assert.Equal(t, 2, afterLast.CompletedParts)

		_, err = results.IncrementCompleted(ctx, "upload-1")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("Concurrent increments never lose updates", func(t *testing.T) {
		total := 40
		setup(t, total)

		var wg sync.WaitGroup
		for i := 0; i < total; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := results.IncrementCompleted(ctx, "upload-1")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		saved, err := results.Find(ctx, "upload-1")
		require.NoError(t, err)
		assert.Equal(t, total, saved.CompletedParts)
		assert.Equal(t, domain.JobStateAllPartsDone, saved.Status)
	})

	t.Run("Only one concurrent claim wins", func(t *testing.T) {
		setup(t, 1)
		_, err := results.IncrementCompleted(ctx, "upload-1")
		require.NoError(t, err)

		ready, err := results.FindReadyToFinalize(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, ready, 1)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := results.ClaimFinalize(ctx, "upload-1", time.Now().Add(-time.Minute))
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		saved, err := results.Find(ctx, "upload-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateFinalized, saved.Status)
		assert.Equal(t, 1, saved.Attempts)

		require.NoError(t, results.MarkCompleted(ctx, "upload-1"))
		assert.ErrorIs(t, results.MarkFailed(ctx, "upload-1", "late"), domain.ErrInvalidTransition)
	})

	t.Run("Stale finalized claim can be reclaimed", func(t *testing.T) {
		setup(t, 1)
		_, err := results.IncrementCompleted(ctx, "upload-1")
		require.NoError(t, err)
		ok, err := results.ClaimFinalize(ctx, "upload-1", time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = results.ClaimFinalize(ctx, "upload-1", time.Now().Add(time.Minute))

		require.NoError(t, err)
		assert.True(t, ok)
		saved, err := results.Find(ctx, "upload-1")
		require.NoError(t, err)
		assert.Equal(t, 2, saved.Attempts)
	})

	t.Run("MarkCompleted requires a claim", func(t *testing.T) {
		setup(t, 1)
		assert.ErrorIs(t, results.MarkCompleted(ctx, "upload-1"), domain.ErrInvalidTransition)
	})

	t.Run("Stale parts, requeue and delete", func(t *testing.T) {
		setup(t, 3)
		_, err := parts.Complete(ctx, "upload-1", 2, "etag-2")
		require.NoError(t, err)
		require.NoError(t, parts.MarkInFlight(ctx, "upload-1", 1))
		past, future := time.Now().Add(-time.Hour), time.Now().Add(time.Minute)

		inFlight, err := parts.FindStale(ctx, future, past)
		require.NoError(t, err)
		require.Len(t, inFlight, 1)
		assert.Equal(t, 1, inFlight[0].Part)

		stale, err := parts.FindStale(ctx, future, future)
		require.NoError(t, err)
		require.Len(t, stale, 2)
		assert.Equal(t, 1, stale[0].Part)
		assert.Equal(t, 3, stale[1].Part)

		requeued, err := parts.Requeue(ctx, "upload-1", 1, 0)
		require.NoError(t, err)
		assert.True(t, requeued)
		requeued, err = parts.Requeue(ctx, "upload-1", 2, 0)
		require.NoError(t, err)
		assert.False(t, requeued)
		saved, err := parts.Find(ctx, "upload-1", 1)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatePending, saved.State)

		require.NoError(t, parts.DeleteByUpload(ctx, "upload-1"))
		listed, err := parts.List(ctx, "upload-1")
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("Deleting the upload cascades to its parts", func(t *testing.T) {
		setup(t, 2)
		_, err := dbConnection.ExecContext(ctx, `DELETE FROM multipart_result WHERE upload_id = 'upload-1'`)
		require.NoError(t, err)

		listed, err := parts.List(ctx, "upload-1")
		require.NoError(t, err)
		assert.Empty(t, listed)
	})
}
