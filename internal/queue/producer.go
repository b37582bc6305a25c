package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Producer enqueues analysis jobs for the asynq backend
type Producer struct {
	client     *asynq.Client
	queue      string
	maxRetries int
	timeout    time.Duration
}

// NewProducer creates an asynq producer
func NewProducer(redisURL, queueName string, maxRetries int, timeout time.Duration) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Producer{
		client:     asynq.NewClient(redisOpt),
		queue:      queueName,
		maxRetries: maxRetries,
		timeout:    timeout,
	}, nil
}

// NewAnalyzeTask builds the asynq task for payload, assigning a job ID when
// it has none
func NewAnalyzeTask(payload *JobPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeAnalyzeDocument, data), nil
}

// Enqueue submits payload and returns its job ID. The job ID doubles as
// the asynq task ID, so a job cannot be queued twice.
func (p *Producer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	task, err := NewAnalyzeTask(payload)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxRetries),
		asynq.TaskID(payload.JobID),
	}
	if p.timeout > 0 {
		// leave room for the worker's own timeout to fire first
		opts = append(opts, asynq.Timeout(p.timeout+time.Minute))
	}

	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return payload.JobID, nil
}

// Close releases the asynq client
func (p *Producer) Close() error {
	return p.client.Close()
}

// RedisProducer enqueues jobs for the Redis list backend
type RedisProducer struct {
	client     *redis.Client
	keys       redisKeys
	maxRetries int
}

// NewRedisProducer creates a list producer
func NewRedisProducer(redisURL, queueName string, maxRetries int) (*RedisProducer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RedisProducer{
		client:     redis.NewClient(opt),
		keys:       newRedisKeys(queueName),
		maxRetries: maxRetries,
	}, nil
}

// NewRedisJob wraps payload in the envelope the list consumer expects
func NewRedisJob(payload *JobPayload, maxRetries int, now time.Time) (*RedisJobData, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeAnalyzeDocument,
		Payload:    *payload,
		CreatedAt:  now.UTC(),
		MaxRetries: maxRetries,
	}, nil
}

// Enqueue stores the job and pushes its ID onto the queue
func (p *RedisProducer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	job, err := NewRedisJob(payload, p.maxRetries, time.Now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.data, job.ID, data)
		pipe.LPush(ctx, p.keys.queue, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Close releases the Redis client
func (p *RedisProducer) Close() error {
	return p.client.Close()
}
