package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewDLQRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dlq",
		Short: "Manage failed jobs",
	}
}

func NewDLQListCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs that failed for good",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), open, func(s *Session) error {
				jobs, err := s.DeadLetters.List(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No failed jobs.")
					return nil
				}
				for _, j := range jobs {
					fmt.Fprintf(out, "%s | %s | org=%s | attempts=%d | error=%s\n",
						j.ID, j.Name, j.OrganizationID, j.Attempts, j.Error)
				}
				return nil
			})
		},
	}
}

func NewDLQRetryCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <jobID>",
		Short: "Put a failed job back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), open, func(s *Session) error {
				newID, err := s.DeadLetters.Retry(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("retry failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Job returned to queue:", newID)
				return nil
			})
		},
	}
}
