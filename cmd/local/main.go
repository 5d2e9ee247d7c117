package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"scan2game-backend/cmd"
	"scan2game-backend/internal/api"
	"scan2game-backend/internal/database"
	"scan2game-backend/internal/messaging"
	"scan2game-backend/internal/pipeline"
	"scan2game-backend/internal/storage"
	apimodels "scan2game-backend/pkg/api"
)

type Config struct {
	Root          string        `env:"ROOT" envDefault:"./scan2game"`
	Port          int           `env:"PORT" envDefault:"8000"`
	BlenderBin    string        `env:"BLENDER_BIN" envDefault:"blender"`
	ProcessScript string        `env:"PROCESS_SCRIPT" envDefault:"./blender_process.py"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" envDefault:"30m"`
}

func createDatabase(root string) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(root, "db", "scan2game.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

// createQueue builds the in-memory queue and re-publishes jobs that were
// still queued when the previous process exited, so admitted work is not
// stranded by a restart.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var jobs []database.Job
	if err := db.Where("status = ?", database.JobQueued).Order("creation_time asc").Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch queued jobs from database: %v", err)
	}

	// Sized to the stranded backlog so re-publishing cannot block before the
	// worker starts consuming.
	queue := messaging.NewInMemoryQueueWithCapacity(len(jobs))

	for _, job := range jobs {
		var params apimodels.Params
		if err := json.Unmarshal(job.Params, &params); err != nil {
			slog.Error("skipping queued job with unreadable params", "job_id", job.Id, "error", err)
			continue
		}

		if err := queue.PublishProcessJobTask(context.Background(), messaging.ProcessJobPayload{
			JobId:    job.Id,
			OutputId: job.OutputId,
			InputKey: job.InputKey,
			Filename: job.Filename,
			Params:   params,
		}); err != nil {
			log.Fatalf("Failed to re-publish queued job: %v", err)
		}
	}

	if len(jobs) > 0 {
		slog.Info("re-published queued jobs", "count", len(jobs))
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)    // Log requests
	r.Use(middleware.Recoverer) // Recover from panics

	apiHandler := api.NewBackendService(db, store, queue)
	apiHandler.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	slog.Info("starting scan2game backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	queue := createQueue(db)

	engine := pipeline.NewBlenderEngine(cfg.BlenderBin, cfg.ProcessScript)
	engine.Timeout = cfg.JobTimeout

	processor := pipeline.NewTaskProcessor(db, store, queue, engine)

	server := createServer(db, store, queue, cfg.Port)

	slog.Info("starting worker")
	go processor.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		processor.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
