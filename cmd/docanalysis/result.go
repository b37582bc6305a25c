package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var resultCmd = &cobra.Command{
	Use:   "result <document-id>",
	Short: "Print the stored outcome of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(cmd, "/analyses/"+url.PathEscape(args[0]))
	},
}

var similarLimit int

var similarCmd = &cobra.Command{
	Use:   "similar <document-id>",
	Short: "List analyzed documents with a similar vocabulary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/analyses/" + url.PathEscape(args[0]) + "/similar?limit=" + strconv.Itoa(similarLimit)
		return getJSON(cmd, path)
	},
}

func init() {
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 5, "maximum number of documents")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue and storage statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(cmd, "/stats")
	},
}

func getJSON(cmd *cobra.Command, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}
