package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docanalysis-worker/internal/queue"
)

var (
	fileURL    string
	jobID      string
	topN       int
	maxRetries int
)

type enqueuer interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload) (string, error)
	Close() error
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file]",
	Short: "Queue a document for analysis",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := buildPayload(args)
		if err != nil {
			return err
		}

		producer, err := newEnqueuer()
		if err != nil {
			return err
		}
		defer producer.Close()

		id, err := producer.Enqueue(cmd.Context(), payload)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func buildPayload(args []string) (*queue.JobPayload, error) {
	payload := &queue.JobPayload{JobID: jobID, TopN: topN}

	switch {
	case len(args) == 1 && fileURL != "":
		return nil, fmt.Errorf("give either a file or --url, not both")
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, err
		}
		payload.Filename = filepath.Base(args[0])
		payload.FileBuffer = data
		payload.FileSize = int64(len(data))
	case fileURL != "":
		payload.FileURL = fileURL
		payload.Filename = filepath.Base(fileURL)
	default:
		return nil, fmt.Errorf("a file or --url is required")
	}

	return payload, nil
}

func newEnqueuer() (enqueuer, error) {
	switch queueBackend {
	case "asynq":
		return queue.NewProducer(redisURL, queueName, maxRetries, 0)
	case "redis":
		return queue.NewRedisProducer(redisURL, queueName, maxRetries)
	}
	return nil, fmt.Errorf("unknown backend %q", queueBackend)
}

func init() {
	enqueueCmd.Flags().StringVar(&fileURL, "url", "", "URL the worker downloads the document from")
	enqueueCmd.Flags().StringVar(&jobID, "id", "", "job ID (generated when empty)")
	enqueueCmd.Flags().IntVar(&topN, "top", 0, "number of top words to report (worker default when 0)")
	enqueueCmd.Flags().IntVar(&maxRetries, "retries", queue.DefaultMaxRetries, "maximum attempts")
}
