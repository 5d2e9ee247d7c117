package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "scan2game-backend/internal/api"
	"scan2game-backend/internal/artifacts"
	"scan2game-backend/internal/database"
	"scan2game-backend/internal/messaging"
	"scan2game-backend/internal/pipeline"
	"scan2game-backend/internal/storage"
	"scan2game-backend/pkg/api"
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

type env struct {
	db     *gorm.DB
	store  *storage.LocalObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func createEnv(t *testing.T, create ...any) *env {
	db := createDB(t, create...)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()

	service := backend.NewBackendService(db, store, queue)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return &env{db: db, store: store, queue: queue, router: router}
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)

	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}

	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (e *env) pendingTask(t *testing.T) (messaging.ProcessJobPayload, bool) {
	select {
	case task := <-e.queue.Tasks():
		var payload messaging.ProcessJobPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		return payload, true
	default:
		return messaging.ProcessJobPayload{}, false
	}
}

func TestSubmitJob(t *testing.T) {
	e := createEnv(t)

	req := uploadRequest(t, "boulder.glb", []byte("glTF-binary-bytes"), map[string]string{
		"target_tris": "5000",
		"tex_size":    "1024",
	})
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.NotEqual(t, uuid.Nil, response.JobId)
	assert.NotEqual(t, uuid.Nil, response.OutputId)
	assert.NotEqual(t, response.JobId, response.OutputId)
	assert.Equal(t, api.JobQueued, response.Status)
	assert.Equal(t, 5000, response.Params.TargetTris)
	assert.Equal(t, 1024, response.Params.TexSize)
	assert.Equal(t, pipeline.DefaultRayDistance, response.Params.RayDistance)

	var job database.Job
	require.NoError(t, e.db.First(&job, "id = ?", response.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, response.OutputId, job.OutputId)
	assert.Equal(t, "boulder.glb", job.Filename)
	assert.False(t, job.CompletionTime.Valid)

	data, err := e.store.GetObject(context.Background(), artifacts.UploadsBucket, job.InputKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("glTF-binary-bytes"), data)

	payload, ok := e.pendingTask(t)
	require.True(t, ok, "expected one queued task")
	assert.Equal(t, response.JobId, payload.JobId)
	assert.Equal(t, response.OutputId, payload.OutputId)
	assert.Equal(t, job.InputKey, payload.InputKey)
}

func TestSubmitJobRejectsUnsupportedExtension(t *testing.T) {
	e := createEnv(t)

	req := uploadRequest(t, "notes.txt", []byte("not a mesh"), nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var count int64
	require.NoError(t, e.db.Model(&database.Job{}).Count(&count).Error)
	assert.Zero(t, count, "rejected upload must not create a job")

	_, ok := e.pendingTask(t)
	assert.False(t, ok, "rejected upload must not enqueue a task")
}

func TestSubmitJobRejectsEmptyUpload(t *testing.T) {
	e := createEnv(t)

	req := uploadRequest(t, "boulder.glb", nil, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var count int64
	require.NoError(t, e.db.Model(&database.Job{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitJobRejectsMissingFile(t *testing.T) {
	e := createEnv(t)

	req := uploadRequest(t, "", nil, map[string]string{"target_tris": "5000"})
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJobNormalizesParams(t *testing.T) {
	e := createEnv(t)

	req := uploadRequest(t, "boulder.glb", []byte("bytes"), map[string]string{
		"target_tris":  "not-a-number",
		"tex_size":     "99999",
		"bake_margin":  "-3",
		"mystery_knob": "42",
	})
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, pipeline.DefaultTargetTris, response.Params.TargetTris)
	assert.Equal(t, 8192, response.Params.TexSize)
	assert.Equal(t, 0, response.Params.BakeMargin)
}

type failingPublisher struct{}

func (failingPublisher) PublishProcessJobTask(ctx context.Context, payload messaging.ProcessJobPayload) error {
	return errors.New("broker unreachable")
}

func (failingPublisher) Close() {}

func TestSubmitJobPublishFailure(t *testing.T) {
	db := createDB(t)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	service := backend.NewBackendService(db, store, failingPublisher{})
	router := chi.NewRouter()
	service.AddRoutes(router)

	req := uploadRequest(t, "boulder.glb", []byte("bytes"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The admitted record is driven to a complete terminal failure, not left
	// queued for a worker that will never hear about it.
	var job database.Job
	require.NoError(t, db.First(&job).Error)
	assert.Equal(t, database.JobFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.True(t, job.CompletionTime.Valid, "failed jobs must have a completion time")
}

func TestGetJobNotFound(t *testing.T) {
	e := createEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobSnapshot(t *testing.T) {
	jobId, outputId := uuid.New(), uuid.New()
	endedAt := time.Now().UTC().Truncate(time.Second)
	e := createEnv(t, &database.Job{
		Id:             jobId,
		OutputId:       outputId,
		Filename:       "boulder.glb",
		InputKey:       jobId.String() + "/boulder.glb",
		Status:         database.JobFailed,
		CreationTime:   endedAt.Add(-time.Minute),
		CompletionTime: sql.NullTime{Time: endedAt, Valid: true},
		Error:          "engine failed: exit status 1",
	})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String(), nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var job api.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobId, job.JobId)
	assert.Equal(t, outputId, job.OutputId)
	assert.Equal(t, api.JobFailed, job.Status)
	assert.Equal(t, "engine failed: exit status 1", job.Error)
	require.NotNil(t, job.EndedAt)
	assert.True(t, job.EndedAt.Equal(endedAt))

	// Polling has no side effects: a second read returns the same snapshot.
	rec2 := httptest.NewRecorder()
	e.router.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String(), nil))
	assert.Equal(t, rec.Body.String(), rec2.Body.String())
}

func TestDownloadNotReady(t *testing.T) {
	for _, status := range []string{database.JobQueued, database.JobStarted, database.JobFailed} {
		t.Run(status, func(t *testing.T) {
			jobId := uuid.New()
			e := createEnv(t, &database.Job{
				Id: jobId, OutputId: uuid.New(), Filename: "a.glb", InputKey: "k",
				Status: status, CreationTime: time.Now(),
			})

			req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/download", nil)
			rec := httptest.NewRecorder()
			e.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusConflict, rec.Code)
		})
	}
}

func TestDownload(t *testing.T) {
	jobId, outputId := uuid.New(), uuid.New()
	e := createEnv(t, &database.Job{
		Id: jobId, OutputId: outputId, Filename: "a.glb", InputKey: "k",
		Status: database.JobFinished, CreationTime: time.Now(),
		CompletionTime: sql.NullTime{Time: time.Now(), Valid: true},
	})

	archive := []byte("zip-bytes")
	require.NoError(t, e.store.PutObject(context.Background(), artifacts.OutputsBucket,
		artifacts.OutputKey(outputId, artifacts.ArchiveFile), bytes.NewReader(archive)))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/download", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), artifacts.ArchiveFile)
	assert.Equal(t, archive, rec.Body.Bytes())
}

func TestPreviewNotFound(t *testing.T) {
	jobId := uuid.New()
	e := createEnv(t, &database.Job{
		Id: jobId, OutputId: uuid.New(), Filename: "a.glb", InputKey: "k",
		Status: database.JobStarted, CreationTime: time.Now(),
	})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/preview/before", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewInvalidKind(t *testing.T) {
	jobId := uuid.New()
	e := createEnv(t, &database.Job{
		Id: jobId, OutputId: uuid.New(), Filename: "a.glb", InputKey: "k",
		Status: database.JobFinished, CreationTime: time.Now(),
	})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/preview/sideways", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreview(t *testing.T) {
	jobId, outputId := uuid.New(), uuid.New()
	e := createEnv(t, &database.Job{
		Id: jobId, OutputId: outputId, Filename: "a.glb", InputKey: "k",
		Status: database.JobFinished, CreationTime: time.Now(),
	})

	image := []byte("png-bytes")
	require.NoError(t, e.store.PutObject(context.Background(), artifacts.OutputsBucket,
		artifacts.OutputKey(outputId, artifacts.PreviewAfterFile), bytes.NewReader(image)))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String()+"/preview/after", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, image, rec.Body.Bytes())
}

func TestModelResolutionSymmetric(t *testing.T) {
	jobId, outputId := uuid.New(), uuid.New()
	e := createEnv(t, &database.Job{
		Id: jobId, OutputId: outputId, Filename: "a.glb", InputKey: "k",
		Status: database.JobFinished, CreationTime: time.Now(),
	})

	model := []byte("low-poly-glb")
	require.NoError(t, e.store.PutObject(context.Background(), artifacts.OutputsBucket,
		artifacts.OutputKey(outputId, artifacts.ModelFile), bytes.NewReader(model)))

	var bodies []string
	for _, id := range []uuid.UUID{outputId, jobId} {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+id.String()+"/model", nil)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
		bodies = append(bodies, rec.Body.String())
	}

	assert.Equal(t, bodies[0], bodies[1], "model bytes must be identical via job_id and output_id")
}

func TestModelNotFound(t *testing.T) {
	e := createEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString()+"/model", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoot(t *testing.T) {
	e := createEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response api.RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.Ok)
	assert.True(t, strings.Contains(strings.Join(response.Endpoints, " "), "/jobs"))
}
