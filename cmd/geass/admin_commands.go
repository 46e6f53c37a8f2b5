package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every job and stored audio (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("reset removes every job and transcript; re-run with --yes to confirm")
			}
			c, err := ctx.newClient(true)
			if err != nil {
				return err
			}
			result, message, err := c.Reset(cmd.Context())
			if err != nil {
				return wrapClientError(err, ctx.apiBind())
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm the reset")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health, workers, and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient(false)
			if err != nil {
				return err
			}
			health, err := c.Health(cmd.Context())
			if err != nil {
				return wrapClientError(err, ctx.apiBind())
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:        %s\n", statusLabel(health.Status))
			if health.Version != "" {
				fmt.Fprintf(out, "Version:       %s\n", health.Version)
			}
			fmt.Fprintf(out, "PID:           %d\n", health.PID)
			fmt.Fprintf(out, "Database:      %s\n", health.DatabasePath)
			fmt.Fprintf(out, "Rate limiter:  %s\n", health.RateLimiter)
			fmt.Fprintf(out, "Workers:       %d busy / %d\n", health.Workflow.BusyWorkers, health.Workflow.Workers)
			if health.Workflow.LastError != "" {
				fmt.Fprintf(out, "Last error:    %s\n", health.Workflow.LastError)
			}
			if len(health.Workflow.JobStats) > 0 {
				fmt.Fprintf(out, "Jobs:          %s\n", summarizeStats(health.Workflow.JobStats))
			}

			rows := make([][]string, 0, len(health.Dependencies))
			for _, dep := range health.Dependencies {
				detail := dep.Detail
				if detail == "" {
					detail = dep.Description
				}
				rows = append(rows, []string{dep.Name, dep.Command, yesNo(dep.Available), yesNo(dep.Optional), detail})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"Dependency", "Command", "Available", "Optional", "Detail"},
					rows, nil, shouldColorize(out),
				))
			}
			return nil
		},
	}
}
