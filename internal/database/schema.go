package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued   string = "queued"
	JobStarted  string = "started"
	JobFinished string = "finished"
	JobFailed   string = "failed"
)

// Job is the persisted record of one admitted unit of work. Status only ever
// moves forward: queued -> started -> finished|failed.
type Job struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	// OutputId addresses the artifact set. It is reserved at admission so
	// that retrieval can answer "where will output live" while the job is
	// still queued.
	OutputId uuid.UUID `gorm:"type:uuid;not null"`

	Filename string `gorm:"not null"`
	InputKey string `gorm:"not null"`

	Status string `gorm:"size:20;not null"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Error string

	// Params is the normalized parameter snapshot, immutable after enqueue.
	Params datatypes.JSON `gorm:"type:jsonb"`
}
