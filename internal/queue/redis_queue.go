package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultName is the list the webhook pushes submission ids onto.
const DefaultName = "cs4all:grading_queue"

// ErrEmpty is returned by Claim when no job arrived before the timeout.
var ErrEmpty = errors.New("grading queue empty")

// Queue is a FIFO of submission ids.
type Queue interface {
	Enqueue(ctx context.Context, submissionID string) error
	Claim(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, submissionID string) error
	Recover(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// RedisQueue is a Redis list queue with a per-worker processing list. A
// claimed id stays in the processing list until it is acknowledged, so a
// crash between claim and ack leaves the id recoverable.
type RedisQueue struct {
	client     *redis.Client
	name       string
	processing string
	logger     zerolog.Logger
}

// NewRedisQueue builds a queue over the named list. workerID scopes the
// processing list and may be empty for producer-only use.
func NewRedisQueue(client *redis.Client, name, workerID string, logger zerolog.Logger) *RedisQueue {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		workerID = "default"
	}

	return &RedisQueue{
		client:     client,
		name:       name,
		processing: fmt.Sprintf("%s:processing:%s", name, workerID),
		logger:     logger.With().Str("component", "grading_queue").Str("queue", name).Logger(),
	}
}

// Name returns the backing list key.
func (q *RedisQueue) Name() string {
	return q.name
}

// Enqueue pushes an id onto the head of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, submissionID string) error {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if err := q.client.LPush(ctx, q.name, submissionID).Err(); err != nil {
		return fmt.Errorf("enqueue submission: %w", err)
	}
	return nil
}

// Claim blocks up to timeout for the oldest id and moves it to this worker's
// processing list.
func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (string, error) {
	id, err := q.client.BRPopLPush(ctx, q.name, q.processing, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("claim submission: %w", err)
	}
	return id, nil
}

// Ack drops a finished id from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, submissionID string) error {
	if err := q.client.LRem(ctx, q.processing, 1, submissionID).Err(); err != nil {
		return fmt.Errorf("ack submission: %w", err)
	}
	return nil
}

// Recover moves ids left in this worker's processing list back onto the
// queue. It returns how many ids were requeued.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		id, err := q.client.RPopLPush(ctx, q.processing, q.name).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return recovered, fmt.Errorf("recover claimed submissions: %w", err)
		}
		recovered++
		q.logger.Info().Str("submission_id", id).Msg("requeued unacknowledged submission")
	}
	return recovered, nil
}

// Depth reports how many ids are waiting.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
