package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// healthResponse mirrors the server's health endpoint response.
type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// readyResponse mirrors the server's readiness endpoint response.
type readyResponse struct {
	Status string                       `json:"status"`
	Checks map[string]map[string]string `json:"checks"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dashboard server status",
		Long: `Show the health and readiness of the dashboard server, including
the database connectivity check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServerStatus()
		},
	}
}

func runServerStatus() error {
	healthBody, err := globalClient.doRequest("GET", "/healthz", nil)
	if err != nil {
		return fmt.Errorf("checking server health: %w", err)
	}

	var health healthResponse
	if err := json.Unmarshal(healthBody, &health); err != nil {
		return fmt.Errorf("parsing health response: %w", err)
	}

	var ready readyResponse
	readyBody, readyErr := globalClient.doRequest("GET", "/readyz", nil)
	if readyErr != nil {
		// A 503 surfaces as an error from doRequest. Report the server as
		// not ready rather than failing the command.
		ready.Status = "not_ready"
	} else if err := json.Unmarshal(readyBody, &ready); err != nil {
		return fmt.Errorf("parsing readiness response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintf(os.Stdout, "Server:  %s\n", serverURL)
		fmt.Fprintf(os.Stdout, "Health:  %s\n", health.Status)
		fmt.Fprintf(os.Stdout, "Uptime:  %s\n", health.Uptime)
		fmt.Fprintf(os.Stdout, "Ready:   %s\n", ready.Status)
		if db, ok := ready.Checks["database"]; ok {
			fmt.Fprintf(os.Stdout, "DB:      %s\n", db["status"])
			if errMsg := db["error"]; errMsg != "" {
				fmt.Fprintf(os.Stdout, "DB err:  %s\n", errMsg)
			}
		}
		return nil
	}

	payload := map[string]any{
		"server": serverURL,
		"health": health,
		"ready":  ready,
	}
	if format == outputYAML {
		return printYAML(os.Stdout, payload)
	}
	return printJSON(os.Stdout, payload)
}
