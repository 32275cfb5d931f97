package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"featureworker/internal/queue"
)

func NewEnqueueCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <name> '{\"featureId\":\"f1\",\"organizationId\":\"org-1\",\"userId\":\"u1\"}'",
		Short: "Publish a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return errors.New("invalid job json")
			}

			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			id, _ := cmd.Flags().GetString("id")
			env := queue.Envelope{
				ID:          id,
				Name:        args[0],
				Data:        json.RawMessage(args[1]),
				MaxAttempts: maxAttempts,
			}
			env.Normalize()

			job, err := queue.Decode(env)
			if err != nil {
				return err
			}
			if job.Kind == queue.KindUnknown {
				return fmt.Errorf("unknown job name %q", env.Name)
			}

			return withSession(cmd.Context(), open, func(s *Session) error {
				if err := s.Enqueuer.Enqueue(cmd.Context(), env); err != nil {
					return fmt.Errorf("enqueue failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", env.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int("max-attempts", queue.DefaultMaxAttempts, "attempts before the job is dead-lettered")
	cmd.Flags().String("id", "", "job id (generated when empty)")
	return cmd
}
