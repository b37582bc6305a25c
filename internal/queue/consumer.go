/**
 * Asynq Queue Consumer
 *
 * Alternative backend (QUEUE_BACKEND=asynq). Tasks of type
 * "analyze-document" carry a JSON JobPayload. Validation and template
 * failures skip asynq's retries; everything else is retried with
 * exponential backoff until the task's MaxRetry is reached, and only then
 * is the job marked failed.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/processor"
)

// Consumer handles job consumption through asynq
type Consumer struct {
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
}

// NewConsumer creates an asynq-backed consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 10,
			"default":     1,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			logger.Error("Task processing error", "type", task.Type(), "task_id", id, "error", err)
		}),
		Logger:          &asynqLogger{logger: logger},
		ShutdownTimeout: 30 * time.Second,
	})

	consumer := &Consumer{
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
		config:    cfg,
		logger:    logger,
	}

	consumer.mux.Handle(TaskTypeAnalyzeDocument, &analyzeHandler{
		runner: newJobRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
	})

	return consumer, nil
}

// Start runs the asynq server in the background
func (c *Consumer) Start() error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop waits for active tasks and shuts the server down
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	return c.inspector.Close()
}

// GetStats returns queue statistics
func (c *Consumer) GetStats(ctx context.Context) (map[string]int64, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue info: %w", err)
	}
	return map[string]int64{
		"waiting":    int64(info.Pending + info.Scheduled + info.Retry),
		"processing": int64(info.Active),
		"completed":  int64(info.Completed),
		"failed":     int64(info.Archived),
	}, nil
}

// retryDelay backs off 5s, 10s, 20s ... capped at one minute
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n > 4 {
		return time.Minute
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// analyzeHandler processes "analyze-document" tasks
type analyzeHandler struct {
	runner *jobRunner
}

func (h *analyzeHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		if payload.JobID != "" {
			h.runner.fail(ctx, &payload, err, 0, 1)
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result, duration, err := h.runner.execute(ctx, &payload)
	if err == nil {
		h.runner.complete(ctx, &payload, result)
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	if !retryable(err) {
		h.runner.fail(ctx, &payload, err, duration, retried+1)
		return fmt.Errorf("document analysis failed: %w: %w", err, asynq.SkipRetry)
	}

	if retried >= maxRetry {
		h.runner.fail(ctx, &payload, err, duration, retried+1)
	} else {
		h.runner.logger.Warn("Job attempt failed, asynq will retry",
			"job_id", payload.JobID,
			"attempt", retried+1,
			"max_retry", maxRetry,
			"error", err)
	}

	return fmt.Errorf("document analysis failed: %w", err)
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
