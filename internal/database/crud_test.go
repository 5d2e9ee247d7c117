package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"scan2game-backend/internal/database"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func queuedJob() *database.Job {
	jobId := uuid.New()
	return &database.Job{
		Id:           jobId,
		OutputId:     uuid.New(),
		Filename:     "rock.glb",
		InputKey:     jobId.String() + "/rock.glb",
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
	}
}

func TestGetJob(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, job.Id, found.Id)
	assert.Equal(t, job.OutputId, found.OutputId)
	assert.Equal(t, database.JobQueued, found.Status)

	_, err = database.GetJob(ctx, db, uuid.New())
	assert.ErrorIs(t, err, database.ErrJobNotFound)
}

func TestMarkJobStartedClaimsOnce(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	claimed, err := database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim must lose: the job is no longer queued.
	claimed, err = database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	assert.False(t, claimed)

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobStarted, found.Status)
}

func TestMarkJobStartedUnknownJob(t *testing.T) {
	db := createDB(t)

	claimed, err := database.MarkJobStarted(context.Background(), db, uuid.New())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMarkJobFinished(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	_, err := database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	require.NoError(t, database.MarkJobFinished(ctx, db, job.Id))

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFinished, found.Status)
	assert.Empty(t, found.Error)
	assert.True(t, found.CompletionTime.Valid)
	assert.False(t, found.CompletionTime.Time.Before(found.CreationTime))
}

func TestMarkJobFailed(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	_, err := database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	require.NoError(t, database.MarkJobFailed(ctx, db, job.Id, "engine failed: exit status 1"))

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, found.Status)
	assert.Equal(t, "engine failed: exit status 1", found.Error)
	assert.True(t, found.CompletionTime.Valid)
}

func TestMarkJobFailedDefaultsMessage(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	_, err := database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	require.NoError(t, database.MarkJobFailed(ctx, db, job.Id, ""))

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.NotEmpty(t, found.Error)
}

func TestCompletionRequiresStarted(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	// queued -> finished is not a legal transition.
	assert.Error(t, database.MarkJobFinished(ctx, db, job.Id))
	assert.Error(t, database.MarkJobFailed(ctx, db, job.Id, "boom"))

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobQueued, found.Status)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	ctx := context.Background()

	job := queuedJob()
	db := createDB(t, job)

	_, err := database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	require.NoError(t, database.MarkJobFinished(ctx, db, job.Id))

	assert.Error(t, database.MarkJobFailed(ctx, db, job.Id, "too late"))
	assert.Error(t, database.MarkJobFinished(ctx, db, job.Id))

	claimed, err := database.MarkJobStarted(ctx, db, job.Id)
	require.NoError(t, err)
	assert.False(t, claimed)

	found, err := database.GetJob(ctx, db, job.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFinished, found.Status)
	assert.Empty(t, found.Error)
}
