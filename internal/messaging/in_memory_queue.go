package messaging

import (
	"context"
	"encoding/json"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is a channel backed queue for single process deployments and
// tests. It preserves publish order.
type InMemoryQueue struct {
	tasks chan Task
}

const defaultQueueCapacity = 100

func NewInMemoryQueue() *InMemoryQueue {
	return NewInMemoryQueueWithCapacity(defaultQueueCapacity)
}

// NewInMemoryQueueWithCapacity sizes the task channel so that the given
// number of tasks can be published before any consumer runs.
func NewInMemoryQueueWithCapacity(capacity int) *InMemoryQueue {
	if capacity < defaultQueueCapacity {
		capacity = defaultQueueCapacity
	}
	return &InMemoryQueue{
		tasks: make(chan Task, capacity),
	}
}

func (q *InMemoryQueue) publishTaskInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.tasks <- &inMemoryTask{queue: queue, payload: data}

	return nil
}

func (q *InMemoryQueue) PublishProcessJobTask(ctx context.Context, payload ProcessJobPayload) error {
	return q.publishTaskInternal(ProcessQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	if q.tasks != nil {
		close(q.tasks)
		q.tasks = nil
	}
}
