/**
 * Redis List Queue Consumer
 *
 * Jobs are stored as JSON in the <queue>:data hash keyed by job ID, and the
 * ID is pushed onto the <queue> list. Workers BRPOP IDs, run the analysis
 * and track job state in Redis sets (<queue>:processing, :completed,
 * :rejected, :failed), result and error hashes, and publish every status
 * change on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/processor"
)

const (
	defaultPollTimeout = 5 * time.Second
	errorBackoff       = time.Second
)

// RedisJobData is the envelope stored in the <queue>:data hash
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// redisKeys names every Redis key derived from a queue name
type redisKeys struct {
	queue      string
	data       string
	processing string
	completed  string
	rejected   string
	failed     string
	results    string
	errors     string
	events     string
}

func newRedisKeys(queue string) redisKeys {
	return redisKeys{
		queue:      queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		rejected:   queue + ":rejected",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// statusSet returns the set a job ends up in for a terminal status
func (k redisKeys) statusSet(status string) string {
	switch status {
	case StatusCompleted:
		return k.completed
	case StatusRejected:
		return k.rejected
	case StatusFailed:
		return k.failed
	}
	return ""
}

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client *redis.Client
	runner *jobRunner
	config *RedisConsumerConfig
	keys   redisKeys
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int // Used when a job does not carry its own
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
	PollTimeout       time.Duration
}

// NewRedisConsumer connects to RedisURL and creates a consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumer, err := NewRedisConsumerWithClient(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return consumer, nil
}

// NewRedisConsumerWithClient creates a consumer on an existing client.
// Stop closes the client.
func NewRedisConsumerWithClient(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("Redis client is required")
	}
	if cfg == nil || cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}

	logger := logging.NewLogger("RedisConsumer")
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: newJobRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		keys:   newRedisKeys(cfg.QueueName),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Client exposes the underlying Redis client
func (c *RedisConsumer) Client() *redis.Client {
	return c.client
}

// Start launches the worker goroutines
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop waits for in-flight jobs and closes the client
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		if c.ctx.Err() != nil {
			c.logger.Debug("Worker stopping", "worker", id)
			return
		}

		if err := c.processNextJob(); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
		}
	}
}

// processNextJob blocks for up to PollTimeout for a job ID and runs it
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, c.config.PollTimeout, c.keys.queue).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid BRPOP result")
	}
	id := result[1]

	raw, err := c.client.HGet(c.ctx, c.keys.data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.recordStatus(id, StatusFailed, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.ID == "" {
		job.ID = id
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.handleJob(&job)
	return nil
}

// handleJob runs one job. Jobs outlive Stop: they run on a background
// context bounded only by the processing timeout.
func (c *RedisConsumer) handleJob(job *RedisJobData) {
	ctx := context.Background()
	payload := &job.Payload

	if err := payload.Validate(); err != nil {
		c.runner.fail(ctx, payload, err, 0, job.Attempts)
		c.recordStatus(payload.JobID, StatusFailed, map[string]interface{}{"error": err.Error()})
		return
	}

	c.recordStatus(payload.JobID, StatusProcessing, nil)

	result, duration, err := c.runner.execute(ctx, payload)
	if err == nil {
		status := c.runner.complete(ctx, payload, result)
		c.recordStatus(payload.JobID, status, result)
		return
	}

	job.Attempts++
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.config.MaxRetries
	}

	if retryable(err) && job.Attempts < maxRetries {
		requeueErr := c.requeue(ctx, job)
		if requeueErr == nil {
			c.logger.Warn("Job re-queued for retry",
				"job_id", payload.JobID,
				"attempt", job.Attempts,
				"max_retries", maxRetries,
				"error", err)
			c.publish(ctx, payload.JobID, "retrying")
			return
		}
		c.logger.Error("Failed to re-queue job", "job_id", payload.JobID, "error", requeueErr)
	}

	metadata := c.runner.fail(ctx, payload, err, duration, job.Attempts)
	c.recordStatus(payload.JobID, StatusFailed, metadata)
}

func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.keys.data, job.ID, data)
		pipe.SRem(ctx, c.keys.processing, job.Payload.JobID)
		pipe.LPush(ctx, c.keys.queue, job.ID)
		return nil
	})
	return err
}

// recordStatus moves the job between the Redis status sets and publishes
// the change
func (c *RedisConsumer) recordStatus(jobID, status string, data interface{}) {
	ctx := context.Background()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if status == StatusProcessing {
			pipe.SAdd(ctx, c.keys.processing, jobID)
			return nil
		}

		pipe.SRem(ctx, c.keys.processing, jobID)
		if set := c.keys.statusSet(status); set != "" {
			pipe.SAdd(ctx, set, jobID)
		}
		if data != nil {
			encoded, err := json.Marshal(data)
			if err != nil {
				return err
			}
			if status == StatusFailed {
				pipe.HSet(ctx, c.keys.errors, jobID, encoded)
			} else {
				pipe.HSet(ctx, c.keys.results, jobID, encoded)
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Failed to record job status in Redis", "job_id", jobID, "status", status, "error", err)
	}

	c.publish(ctx, jobID, status)
}

func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	event, _ := json.Marshal(statusEvent(jobID, status, time.Now()))
	if err := c.client.Publish(ctx, c.keys.events, event).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "job_id", jobID, "error", err)
	}
}

func statusEvent(jobID, status string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": at.UTC().Format(time.RFC3339),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.keys.queue)
	processing := pipe.SCard(ctx, c.keys.processing)
	completed := pipe.SCard(ctx, c.keys.completed)
	rejected := pipe.SCard(ctx, c.keys.rejected)
	failed := pipe.SCard(ctx, c.keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"rejected":   rejected.Val(),
		"failed":     failed.Val(),
	}, nil
}
