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

// jobItem mirrors the server's job JSON.
type jobItem struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	JobType        string  `json:"job_type"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	StepsDone      int     `json:"steps_done"`
	TotalSteps     int     `json:"total_steps"`
	Submitter      string  `json:"submitter,omitempty"`
	WatcherID      *uint   `json:"watcher_id,omitempty"`
	WatcherName    string  `json:"watcher_name,omitempty"`
	ErrorDetail    string  `json:"error_detail,omitempty"`
	CreationTime   string  `json:"creation_time"`
	StartTime      string  `json:"start_time,omitempty"`
	CompletionTime string  `json:"completion_time,omitempty"`
}

type jobListResponse struct {
	Jobs      []jobItem `json:"jobs"`
	TotalSize int       `json:"totalSize"`
	Page      int       `json:"page"`
	PageSize  int       `json:"pageSize"`
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage jobs",
	}

	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsSubmitCmd())
	cmd.AddCommand(newJobsStopCmd())

	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		status   string
		search   string
		page     int
		pageSize int
		sortBy   string
		order    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if search != "" {
				params.Set("q", search)
			}
			if page > 0 {
				params.Set("page", fmt.Sprint(page))
			}
			if pageSize > 0 {
				params.Set("pageSize", fmt.Sprint(pageSize))
			}
			if sortBy != "" {
				params.Set("sortBy", sortBy)
			}
			if order != "" {
				params.Set("order", order)
			}

			path := "/api/jobs"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp jobListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			headers := []string{"id", "name", "type", "status", "progress", "created"}
			rows := make([][]string, len(resp.Jobs))
			for i, j := range resp.Jobs {
				rows[i] = []string{
					j.ID, j.Name, j.JobType, j.Status,
					fmt.Sprintf("%.0f%%", j.Progress),
					j.CreationTime,
				}
			}
			if err := printOutput(os.Stdout, format, resp, headers, rows); err != nil {
				return err
			}
			if format == outputTable {
				fmt.Printf("\nShowing %d of %d jobs (page %d)\n", len(resp.Jobs), resp.TotalSize, resp.Page)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (comma-separated)")
	cmd.Flags().StringVar(&search, "search", "", "Free-text search")
	cmd.Flags().IntVar(&page, "page", 0, "Page number (1-based)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "Sort column (id, name, status, type, progress, creation_time)")
	cmd.Flags().StringVar(&order, "order", "", "Sort order (asc or desc)")

	return cmd
}

func newJobsGetCmd() *cobra.Command {
	var showDemands bool

	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			body, err := globalClient.doRequest("GET", "/api/jobs/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}

			var resp struct {
				Job jobItem `json:"job"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			j := resp.Job
			headers := []string{"field", "value"}
			rows := [][]string{
				{"id", j.ID},
				{"name", j.Name},
				{"type", j.JobType},
				{"status", j.Status},
				{"progress", fmt.Sprintf("%d/%d (%.0f%%)", j.StepsDone, j.TotalSteps, j.Progress)},
				{"created", j.CreationTime},
				{"started", j.StartTime},
				{"completed", j.CompletionTime},
			}
			if j.WatcherName != "" {
				rows = append(rows, []string{"watcher", j.WatcherName})
			}
			if j.ErrorDetail != "" {
				rows = append(rows, []string{"error", j.ErrorDetail})
			}
			if err := printOutput(os.Stdout, format, resp, headers, rows); err != nil {
				return err
			}

			if showDemands {
				demandsBody, err := globalClient.doRequest("GET", "/api/jobs/"+url.PathEscape(args[0])+"/demands", nil)
				if err != nil {
					return err
				}
				var demands map[string]any
				if err := json.Unmarshal(demandsBody, &demands); err != nil {
					return fmt.Errorf("parsing demands: %w", err)
				}
				fmt.Println()
				return printJSON(os.Stdout, demands["demands"])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDemands, "demands", false, "Also print the job's demands")

	return cmd
}

func newJobsSubmitCmd() *cobra.Command {
	var (
		name      string
		jobType   string
		demands   []string
		submitter string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job",
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
				"name":      name,
				"job_type":  jobType,
				"demands":   demandMap,
				"submitter": submitter,
			})
			if err != nil {
				return err
			}

			body, err := globalClient.doRequest("POST", "/api/jobs", bytes.NewReader(payload))
			if err != nil {
				return err
			}

			var resp struct {
				Job jobItem `json:"job"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Submitted job %s (%s)\n", resp.Job.ID, resp.Job.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name (generated when empty)")
	cmd.Flags().StringVar(&jobType, "type", "", "Job type (required)")
	cmd.Flags().StringArrayVar(&demands, "demand", nil, "Demand key=value (repeatable)")
	cmd.Flags().StringVar(&submitter, "submitter", "", "Submitter name")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newJobsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Request cancellation of a job",
		Long: `Request cancellation of a job. The request is accepted asynchronously:
the job reaches cancelled only after its process is confirmed stopped.
Stopping a watcher-spawned job also cancels the watcher.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("POST", "/api/jobs/"+url.PathEscape(args[0])+"/stop", nil)
			if err != nil {
				return err
			}

			var resp struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Println(resp.Message)
			return nil
		},
	}
}
