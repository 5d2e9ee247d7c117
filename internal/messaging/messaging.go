package messaging

import (
	"context"
	"time"

	"scan2game-backend/pkg/api"

	"github.com/google/uuid"
)

const (
	ProcessQueue    = "scan2game_jobs"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// ProcessJobPayload is the unit of work handed from the submission service to
// a worker. Params are immutable once the payload is published.
type ProcessJobPayload struct {
	JobId    uuid.UUID  `json:"job_id"`
	OutputId uuid.UUID  `json:"output_id"`
	InputKey string     `json:"input_key"`
	Filename string     `json:"filename"`
	Params   api.Params `json:"params"`
}

type Publisher interface {
	PublishProcessJobTask(ctx context.Context, payload ProcessJobPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
