package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	redisURL     string
	queueBackend string
	queueName    string
	serverURL    string
)

var rootCmd = &cobra.Command{
	Use:   "docanalysis",
	Short: "Submit documents to the analysis worker and read results",
	Long: `docanalysis talks to a running document analysis worker.

  docanalysis enqueue paper.png           # queue a local file
  docanalysis enqueue --url https://...   # queue a file the worker downloads
  docanalysis result <document-id>        # print a stored outcome
  docanalysis stats                       # queue and storage statistics`,
	SilenceUsage: true,
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL",
	)
	rootCmd.PersistentFlags().StringVar(
		&queueBackend, "backend", envOr("QUEUE_BACKEND", "redis"), "queue backend: redis or asynq",
	)
	rootCmd.PersistentFlags().StringVar(
		&queueName, "queue", envOr("QUEUE_NAME", "docanalysis:jobs"), "queue name",
	)
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", envOr("DOCANALYSIS_SERVER", "http://localhost:8080"), "worker health server URL",
	)

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(statsCmd)
}
