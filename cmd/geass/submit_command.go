package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"geass/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var pollInterval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <audio-file>",
		Short: "Upload an audio file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient(false)
			if err != nil {
				return err
			}
			sub, err := c.SubmitFile(cmd.Context(), args[0])
			if err != nil {
				return wrapClientError(err, ctx.apiBind())
			}
			job := sub.Job
			if wait && !isTerminal(job.Status) {
				waitCtx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					waitCtx, cancel = context.WithTimeout(waitCtx, timeout)
					defer cancel()
				}
				job, err = c.Wait(waitCtx, job.CallID, pollInterval)
				if err != nil {
					return wrapClientError(err, ctx.apiBind())
				}
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			if sub.Message != "" {
				fmt.Fprintln(out, sub.Message)
			}
			printJob(cmd, job)
			if job.Status == "failed" {
				return fmt.Errorf("transcription failed: %s", job.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the transcription finishes")
	cmd.Flags().DurationVar(&pollInterval, "poll", 2*time.Second, "Status poll interval when waiting")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <call-id>",
		Short: "Show the state of a submitted transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient(false)
			if err != nil {
				return err
			}
			job, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return wrapClientError(err, ctx.apiBind())
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Call ID: %s\n", job.CallID)
	fmt.Fprintf(out, "Status:  %s\n", statusLabel(job.Status))
	if job.TimeTaken != nil {
		fmt.Fprintf(out, "Took:    %s\n", formatSeconds(*job.TimeTaken))
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error:   %s\n", job.Error)
	}
	if job.Transcript != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, job.Transcript.Text)
	}
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed"
}
