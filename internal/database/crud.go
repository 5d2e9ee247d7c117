package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

func GetJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID) (Job, error) {
	var job Job
	if err := db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("error retrieving job %v: %w", jobId, err)
	}
	return job, nil
}

// MarkJobStarted transitions a job from queued to started. It returns false if
// the job was not in the queued state, which means it was already claimed or
// has reached a terminal state; callers must not process it again.
func MarkJobStarted(ctx context.Context, db *gorm.DB, jobId uuid.UUID) (bool, error) {
	result := db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", jobId, JobQueued).
		Update("status", JobStarted)
	if result.Error != nil {
		return false, fmt.Errorf("error marking job %v started: %w", jobId, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkJobFinished transitions a job from started to finished and records the
// completion time. The guard keeps terminal states immutable.
func MarkJobFinished(ctx context.Context, db *gorm.DB, jobId uuid.UUID) error {
	return completeJob(ctx, db, jobId, JobFinished, "")
}

// MarkJobFailed transitions a job from started to failed with a summarized
// error message. Full diagnostics live in the output's process log.
func MarkJobFailed(ctx context.Context, db *gorm.DB, jobId uuid.UUID, message string) error {
	if message == "" {
		message = "job failed for unknown reason"
	}
	return completeJob(ctx, db, jobId, JobFailed, message)
}

func completeJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID, status, message string) error {
	result := db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", jobId, JobStarted).
		Updates(map[string]any{
			"status":          status,
			"error":           message,
			"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
		})
	if result.Error != nil {
		return fmt.Errorf("error marking job %v %s: %w", jobId, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %v is not in started state, refusing %s transition", jobId, status)
	}
	return nil
}
