package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// watcherItem mirrors the server's watcher JSON.
type watcherItem struct {
	ID             uint   `json:"id"`
	FolderPath     string `json:"folder_path"`
	FilePattern    string `json:"file_pattern"`
	JobType        string `json:"job_type,omitempty"`
	JobNamePrefix  string `json:"job_name_prefix,omitempty"`
	Status         string `json:"status"`
	ExpectedCount  int    `json:"expected_count"`
	CapturedCount  int    `json:"captured_count"`
	CreationTime   string `json:"creation_time"`
	CompletionTime string `json:"completion_time,omitempty"`
}

type watcherListResponse struct {
	Watchers  []watcherItem `json:"watchers"`
	TotalSize int           `json:"totalSize"`
	Page      int           `json:"page"`
	PageSize  int           `json:"pageSize"`
}

// fileItem mirrors the server's captured-file JSON.
type fileItem struct {
	ID          uint   `json:"id"`
	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path,omitempty"`
	Status      string `json:"status"`
	CaptureTime string `json:"capture_time,omitempty"`
	JobID       string `json:"job_id,omitempty"`
}

func newWatchersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchers",
		Short: "Manage folder watchers",
	}

	cmd.AddCommand(newWatchersListCmd())
	cmd.AddCommand(newWatchersCreateCmd())
	cmd.AddCommand(newWatchersFilesCmd())
	cmd.AddCommand(newWatchersRescanCmd())
	cmd.AddCommand(newWatchersStatusCmd("pause", "Pause a watcher", "paused"))
	cmd.AddCommand(newWatchersStatusCmd("resume", "Resume a paused watcher", "monitoring"))
	cmd.AddCommand(newWatchersStatusCmd("cancel", "Cancel a watcher", "cancelled"))

	return cmd
}

func newWatchersListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List watchers",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			path := "/api/watchers"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}

			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp watcherListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			headers := []string{"id", "folder", "pattern", "status", "captured", "created"}
			rows := make([][]string, len(resp.Watchers))
			for i, w := range resp.Watchers {
				captured := fmt.Sprint(w.CapturedCount)
				if w.ExpectedCount > 0 {
					captured = fmt.Sprintf("%d/%d", w.CapturedCount, w.ExpectedCount)
				}
				rows[i] = []string{
					fmt.Sprint(w.ID), w.FolderPath, w.FilePattern,
					w.Status, captured, w.CreationTime,
				}
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (comma-separated)")

	return cmd
}

func newWatchersCreateCmd() *cobra.Command {
	var (
		folder        string
		pattern       string
		jobType       string
		prefix        string
		demands       []string
		expectedCount int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a watcher",
		Long: `Create a folder watcher. The watcher starts monitoring immediately.
A semicolon-separated pattern list is accepted; exact file names double as
the expected-file set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			demandMap := make(map[string]string, len(demands))
			for _, d := range demands {
				key, value, ok := strings.Cut(d, "=")
				if !ok {
					return fmt.Errorf("invalid demand %q (expected key=value)", d)
				}
				demandMap[key] = value
			}

			payload, err := json.Marshal(map[string]any{
				"folder_path":     folder,
				"file_pattern":    pattern,
				"job_type":        jobType,
				"job_demands":     demandMap,
				"job_name_prefix": prefix,
				"expected_count":  expectedCount,
			})
			if err != nil {
				return err
			}

			body, err := globalClient.doRequest("POST", "/api/watchers", bytes.NewReader(payload))
			if err != nil {
				return err
			}

			var resp struct {
				Watcher watcherItem `json:"watcher"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Created watcher %d on %s (%s)\n",
				resp.Watcher.ID, resp.Watcher.FolderPath, resp.Watcher.FilePattern)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder to watch (required)")
	cmd.Flags().StringVar(&pattern, "pattern", "", "File pattern, semicolon-separated globs (required)")
	cmd.Flags().StringVar(&jobType, "job-type", "", "Job type to spawn per captured file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Name prefix for spawned jobs")
	cmd.Flags().StringArrayVar(&demands, "demand", nil, "Job demand key=value (repeatable)")
	cmd.Flags().IntVar(&expectedCount, "expected", 0, "Expected file count (0 derives from exact patterns)")
	_ = cmd.MarkFlagRequired("folder")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

func newWatchersFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <watcher-id>",
		Short: "List a watcher's captured files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			body, err := globalClient.doRequest("GET", "/api/watchers/"+url.PathEscape(args[0])+"/files", nil)
			if err != nil {
				return err
			}

			var resp struct {
				Files     []fileItem `json:"files"`
				TotalSize int        `json:"totalSize"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			headers := []string{"file", "status", "captured at", "job"}
			rows := make([][]string, len(resp.Files))
			for i, f := range resp.Files {
				rows[i] = []string{f.FileName, f.Status, f.CaptureTime, f.JobID}
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}
}

func newWatchersRescanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan <watcher-id>",
		Short: "Force an immediate poll of a watcher's folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("POST", "/api/watchers/"+url.PathEscape(args[0])+"/rescan", nil)
			if err != nil {
				return err
			}

			var resp struct {
				Files []fileItem `json:"files"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Rescan complete, %d files in ledger\n", len(resp.Files))
			return nil
		},
	}
}

func newWatchersStatusCmd(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <watcher-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"status": status})
			if err != nil {
				return err
			}

			_, err = globalClient.doRequest("POST",
				"/api/watchers/"+url.PathEscape(args[0])+"/update-status", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			fmt.Printf("Watcher %s is now %s\n", args[0], status)
			return nil
		},
	}
}
