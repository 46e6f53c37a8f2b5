package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"geass/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List every stored job (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient(true)
			if err != nil {
				return err
			}
			list, err := c.Jobs(cmd.Context())
			if err != nil {
				return wrapClientError(err, ctx.apiBind())
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, list)
			}
			out := cmd.OutOrStdout()
			if list.Count == 0 {
				fmt.Fprintln(out, "No jobs stored")
				return nil
			}
			fmt.Fprintln(out, renderJobTable(list.Jobs, shouldColorize(out)))
			fmt.Fprintln(out, summarizeStats(list.Stats))
			return nil
		},
	}
}

func renderJobTable(records []api.JobRecord, colorize bool) string {
	headers := []string{"Call ID", "Status", "File", "Age", "Took", "Error"}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		took := "-"
		if rec.TimeTaken != nil {
			took = formatSeconds(*rec.TimeTaken)
		}
		rows = append(rows, []string{
			rec.CallID,
			statusLabel(rec.Status),
			truncate(rec.Filename, 32),
			formatSeconds(rec.AgeSeconds),
			took,
			truncate(rec.Error, 40),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
	return renderTable(headers, rows, aligns, colorize)
}

func summarizeStats(stats map[string]int) string {
	parts := make([]string, 0, len(stats))
	for _, status := range api.SortedStats(stats) {
		parts = append(parts, fmt.Sprintf("%s: %d", statusLabel(status), stats[status]))
	}
	return strings.Join(parts, "  ")
}
