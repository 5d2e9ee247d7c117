package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"scan2game-backend/internal/artifacts"
	"scan2game-backend/internal/database"
	"scan2game-backend/internal/messaging"
	"scan2game-backend/internal/storage"
)

// TaskProcessor consumes process-job tasks and drives each job through its
// state machine: queued -> started -> finished|failed. One task is processed
// to a terminal state before the next is claimed.
type TaskProcessor struct {
	db       *gorm.DB
	store    storage.ObjectStore
	reciever messaging.Reciever
	engine   Engine
}

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, reciever messaging.Reciever, engine Engine) *TaskProcessor {
	return &TaskProcessor{
		db:       db,
		store:    store,
		reciever: reciever,
		engine:   engine,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	switch task.Type() {
	case messaging.ProcessQueue:
		var payload messaging.ProcessJobPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling process job task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}

		if err := proc.processJob(ctx, payload); err != nil {
			slog.Error("error processing job", "job_id", payload.JobId, "error", err)
			if err := task.Nack(); err != nil {
				slog.Error("error nacking message from queue", "error", err)
			}
			return
		}

		if err := task.Ack(); err != nil {
			slog.Error("error acking message from queue", "error", err)
		}

	default:
		slog.Error("received message from unknown queue", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
	}
}

// processJob runs one job to a terminal state. Engine failures are recorded on
// the job record and do not propagate; the returned error is reserved for
// bookkeeping failures that leave the job in an undefined state.
func (proc *TaskProcessor) processJob(ctx context.Context, payload messaging.ProcessJobPayload) error {
	claimed, err := database.MarkJobStarted(ctx, proc.db, payload.JobId)
	if err != nil {
		return err
	}
	if !claimed {
		// Already claimed by another worker or already terminal.
		slog.Warn("skipping job that is not queued", "job_id", payload.JobId)
		return nil
	}

	slog.Info("processing job", "job_id", payload.JobId, "output_id", payload.OutputId, "file", payload.Filename)

	tempDir, err := os.MkdirTemp("", fmt.Sprintf("scan2game-%s-*", payload.JobId))
	if err != nil {
		return proc.failJob(ctx, payload, "", fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "input", filepath.Base(payload.Filename))
	outputDir := filepath.Join(tempDir, "output")

	if err := proc.store.DownloadObject(ctx, artifacts.UploadsBucket, payload.InputKey, inputPath); err != nil {
		return proc.failJob(ctx, payload, outputDir, fmt.Errorf("failed to fetch input: %w", err))
	}

	if err := proc.runEngine(ctx, inputPath, outputDir, payload); err != nil {
		return proc.failJob(ctx, payload, outputDir, err)
	}

	if err := artifacts.Verify(outputDir); err != nil {
		return proc.failJob(ctx, payload, outputDir, err)
	}

	if err := artifacts.WriteManifest(outputDir, payload.JobId, payload.OutputId, payload.Filename, payload.Params); err != nil {
		return proc.failJob(ctx, payload, outputDir, err)
	}

	if err := artifacts.BuildArchive(outputDir); err != nil {
		return proc.failJob(ctx, payload, outputDir, err)
	}

	if err := proc.store.UploadDir(ctx, artifacts.OutputsBucket, payload.OutputId.String(), outputDir); err != nil {
		return proc.failJob(ctx, payload, "", fmt.Errorf("failed to store output: %w", err))
	}

	if err := database.MarkJobFinished(ctx, proc.db, payload.JobId); err != nil {
		return err
	}

	slog.Info("job finished", "job_id", payload.JobId, "output_id", payload.OutputId)

	return nil
}

// runEngine invokes the engine with panic recovery so that a misbehaving run
// is mapped to a failed job instead of killing the worker loop.
func (proc *TaskProcessor) runEngine(ctx context.Context, inputPath, outputDir string, payload messaging.ProcessJobPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()

	return proc.engine.Process(ctx, inputPath, outputDir, payload.Params)
}

// failJob records a terminal failure. Whatever the engine produced, the
// process log in particular, is uploaded for later inspection; partial outputs
// are never exposed as finished artifacts because download checks status.
func (proc *TaskProcessor) failJob(ctx context.Context, payload messaging.ProcessJobPayload, outputDir string, cause error) error {
	slog.Error("job failed", "job_id", payload.JobId, "error", cause)

	if outputDir != "" {
		if _, statErr := os.Stat(outputDir); statErr == nil {
			if err := proc.store.UploadDir(ctx, artifacts.OutputsBucket, payload.OutputId.String(), outputDir); err != nil {
				slog.Error("failed to upload partial output for inspection", "job_id", payload.JobId, "error", err)
			}
		}
	}

	if err := database.MarkJobFailed(ctx, proc.db, payload.JobId, cause.Error()); err != nil {
		return fmt.Errorf("failed to record job failure (%v): %w", cause, err)
	}

	return nil
}
