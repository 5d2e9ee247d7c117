package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"scan2game-backend/internal/artifacts"
	"scan2game-backend/internal/database"
	"scan2game-backend/internal/messaging"
	"scan2game-backend/internal/pipeline"
	"scan2game-backend/internal/storage"
	"scan2game-backend/pkg/api"
)

const maxUploadMemory = 64 << 20 // larger uploads spill to disk

type BackendService struct {
	db        *gorm.DB
	store     storage.ObjectStore
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, publisher messaging.Publisher) *BackendService {
	return &BackendService{db: db, store: store, publisher: publisher}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Get("/", RestHandler(s.Root))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitJob))
		r.Get("/{job_id}", RestHandler(s.GetJob))
		r.Get("/{job_id}/download", RestHandler(s.Download))
		r.Get("/{job_id}/preview/{which}", RestHandler(s.Preview))
		r.Get("/{id}/model", RestHandler(s.Model))
	})
}

func (s *BackendService) Root(r *http.Request) (any, error) {
	return api.RootResponse{
		Ok:      true,
		Message: "scan2game backend running",
		Endpoints: []string{
			"/jobs (POST)",
			"/jobs/{job_id} (GET)",
			"/jobs/{job_id}/download (GET)",
			"/jobs/{job_id}/preview/{before|after} (GET)",
			"/jobs/{id}/model (GET)",
		},
	}, nil
}

// SubmitJob admits one upload: validates it, allocates job and output
// identities, persists the input and the queued job record, and enqueues the
// work. Nothing is allocated when validation fails.
func (s *BackendService) SubmitJob(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart upload")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'file' upload field")
	}
	defer file.Close()

	if !artifacts.AllowedUpload(header.Filename) {
		return nil, CodedErrorf(http.StatusBadRequest,
			"unsupported file type '%s': use .glb/.gltf (recommended), .zip (OBJ bundle), .fbx, or .obj",
			filepath.Ext(header.Filename))
	}

	if header.Size == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "uploaded file is empty")
	}

	form, err := ParseFormParams[api.SubmitJobForm](r.MultipartForm.Value)
	if err != nil {
		return nil, err
	}
	params := pipeline.NormalizeParams(form)

	ctx := r.Context()

	jobId, outputId := uuid.New(), uuid.New()
	inputKey := artifacts.InputKey(jobId, header.Filename)

	if err := s.store.PutObject(ctx, artifacts.UploadsBucket, inputKey, file); err != nil {
		slog.Error("error persisting upload", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store uploaded file")
	}

	paramsJson, err := json.Marshal(params)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize params")
	}

	job := &database.Job{
		Id:           jobId,
		OutputId:     outputId,
		Filename:     filepath.Base(header.Filename),
		InputKey:     inputKey,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
		Params:       paramsJson,
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		slog.Error("error creating job record", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	payload := messaging.ProcessJobPayload{
		JobId:    jobId,
		OutputId: outputId,
		InputKey: inputKey,
		Filename: job.Filename,
		Params:   params,
	}

	if err := s.publisher.PublishProcessJobTask(ctx, payload); err != nil {
		slog.Error("error publishing process job task", "job_id", jobId, "error", err)
		// The record exists but no worker will ever see it; surface that
		// instead of leaving the job queued forever. Failed is terminal, so
		// the completion time is set here like any other failure.
		s.db.WithContext(ctx).Model(&database.Job{}).Where("id = ?", jobId).Updates(map[string]any{
			"status":          database.JobFailed,
			"error":           "failed to enqueue job",
			"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
		})
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue job")
	}

	slog.Info("job submitted", "job_id", jobId, "output_id", outputId, "file", job.Filename)

	return api.SubmitJobResponse{
		JobId:    jobId,
		OutputId: outputId,
		Status:   database.JobQueued,
		Params:   params,
	}, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := s.getJob(r, jobId)
	if err != nil {
		return nil, err
	}

	return jobSnapshot(job), nil
}

// Download streams the result archive. Not-ready (job exists but is not
// finished) is a 409, distinct from 404 for unknown jobs.
func (s *BackendService) Download(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := s.getJob(r, jobId)
	if err != nil {
		return nil, err
	}

	if job.Status != database.JobFinished {
		return nil, CodedErrorf(http.StatusConflict, "job is not finished: job has status: %s", job.Status)
	}

	stream, err := s.store.GetObjectStream(r.Context(), artifacts.OutputsBucket, artifacts.OutputKey(job.OutputId, artifacts.ArchiveFile))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "result archive not found")
		}
		slog.Error("error opening result archive", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving result archive")
	}

	return &RawResponse{
		ContentType: "application/zip",
		Filename:    artifacts.ArchiveFile,
		Body:        stream,
	}, nil
}

func (s *BackendService) Preview(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	which := chi.URLParam(r, "which")
	if which != "before" && which != "after" {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid preview type '%s': must be 'before' or 'after'", which)
	}

	job, err := s.getJob(r, jobId)
	if err != nil {
		return nil, err
	}

	name := artifacts.PreviewBeforeFile
	if which == "after" {
		name = artifacts.PreviewAfterFile
	}

	stream, err := s.store.GetObjectStream(r.Context(), artifacts.OutputsBucket, artifacts.OutputKey(job.OutputId, name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "preview not found")
		}
		slog.Error("error opening preview", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving preview")
	}

	return &RawResponse{ContentType: "image/png", Body: stream}, nil
}

// Model fetches the low-poly model by either identifier. Precedence is fixed:
// the identifier is first tried as an output id (direct lookup), then resolved
// as a job id through the job record.
func (s *BackendService) Model(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	stream, err := s.store.GetObjectStream(ctx, artifacts.OutputsBucket, artifacts.OutputKey(id, artifacts.ModelFile))
	if errors.Is(err, storage.ErrObjectNotFound) {
		job, jobErr := database.GetJob(ctx, s.db, id)
		if jobErr != nil {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		stream, err = s.store.GetObjectStream(ctx, artifacts.OutputsBucket, artifacts.OutputKey(job.OutputId, artifacts.ModelFile))
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
	}
	if err != nil {
		slog.Error("error opening model", "id", id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model")
	}

	return &RawResponse{
		ContentType: "model/gltf-binary",
		Filename:    artifacts.ModelFile,
		Body:        stream,
	}, nil
}

func (s *BackendService) getJob(r *http.Request, jobId uuid.UUID) (database.Job, error) {
	job, err := database.GetJob(r.Context(), s.db, jobId)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			return database.Job{}, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return database.Job{}, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}
	return job, nil
}

func jobSnapshot(job database.Job) api.Job {
	snapshot := api.Job{
		JobId:     job.Id,
		OutputId:  job.OutputId,
		Status:    job.Status,
		CreatedAt: job.CreationTime,
		Error:     job.Error,
	}
	if job.CompletionTime.Valid {
		endedAt := job.CompletionTime.Time
		snapshot.EndedAt = &endedAt
	}
	return snapshot
}
