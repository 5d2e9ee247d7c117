package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisClaimTimeout = 5 * time.Second
)

func processingKey(queue string) string {
	return queue + ":processing"
}

// RedisQueue is a Redis list backed queue. Publishing is an LPUSH onto the
// queue list; claiming is a BRPOPLPUSH into a per-queue processing list so an
// entry is held by at most one worker until it is acked. Entries acked or
// nacked are removed from the processing list; there is no redelivery because
// job outcomes are recorded in the job store, not the queue.
//
// The claim loop starts on the first Tasks call. A publish-only handle (the
// api server) never claims, so published entries stay on the queue list until
// a worker asks for them.
type RedisQueue struct {
	rdb       *redis.Client
	tasks     chan Task
	stop      chan struct{}
	claimOnce sync.Once
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisClaimTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	q := &RedisQueue{
		rdb:   rdb,
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}

	return q, nil
}

func (q *RedisQueue) PublishProcessJobTask(ctx context.Context, payload ProcessJobPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", ProcessQueue, err)
	}

	if err := q.rdb.LPush(ctx, ProcessQueue, body).Err(); err != nil {
		slog.Error("failed to publish task to redis", "queue", ProcessQueue, "error", err)
		return fmt.Errorf("failed to publish %s: %w", ProcessQueue, err)
	}

	return nil
}

func (q *RedisQueue) claimLoop() {
	ctx := context.Background()

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		body, err := q.rdb.BRPopLPush(ctx, ProcessQueue, processingKey(ProcessQueue), redisClaimTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // nothing queued during this wait slot
			}
			slog.Warn("redis claim failed, retrying", "error", err)
			time.Sleep(RetryDelay)
			continue
		}

		task := &redisTask{rdb: q.rdb, queue: ProcessQueue, body: body}

		select {
		case q.tasks <- task:
		case <-q.stop:
			return
		}
	}
}

func (q *RedisQueue) Tasks() <-chan Task {
	q.claimOnce.Do(func() {
		go q.claimLoop()
	})
	return q.tasks
}

func (q *RedisQueue) Close() {
	close(q.stop)
	if err := q.rdb.Close(); err != nil {
		slog.Error("error closing redis connection", "error", err)
	}
}

type redisTask struct {
	rdb   *redis.Client
	queue string
	body  string
}

func (t *redisTask) Type() string {
	return t.queue
}

func (t *redisTask) Payload() []byte {
	return []byte(t.body)
}

func (t *redisTask) release() error {
	return t.rdb.LRem(context.Background(), processingKey(t.queue), 1, t.body).Err()
}

func (t *redisTask) Ack() error {
	return t.release()
}

func (t *redisTask) Nack() error {
	return t.release()
}

func (t *redisTask) Reject() error {
	return t.release()
}
