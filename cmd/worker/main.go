package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"scan2game-backend/cmd"
	"scan2game-backend/internal/database"
	"scan2game-backend/internal/pipeline"
)

type WorkerConfig struct {
	DatabaseURL   string        `env:"DATABASE_URL,notEmpty,required"`
	BlenderBin    string        `env:"BLENDER_BIN" envDefault:"blender"`
	ProcessScript string        `env:"PROCESS_SCRIPT" envDefault:"/app/blender_process.py"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" envDefault:"30m"`

	Queue   cmd.QueueConfig
	Storage cmd.StorageConfig
}

func main() {
	log.Println("Starting Worker...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cmd.CreateObjectStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	reciever, err := cmd.CreateReciever(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}

	engine := pipeline.NewBlenderEngine(cfg.BlenderBin, cfg.ProcessScript)
	engine.Timeout = cfg.JobTimeout

	processor := pipeline.NewTaskProcessor(db, store, reciever, engine)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down worker")
		processor.Stop()
	}()

	// Blocks until the task channel is closed by Stop. Jobs are processed
	// strictly one at a time.
	processor.Start()

	slog.Info("worker stopped")
}
