package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "featureworker",
		Short:         "Background worker for feature lifecycle jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// NewCommand wires every subcommand to the given dependencies.
func NewCommand(open Opener, runWorker RunFunc) *cobra.Command {
	root := NewRootCmd()
	root.AddCommand(NewWorkerCmd(runWorker))
	root.AddCommand(NewEnqueueCmd(open))

	dlq := NewDLQRootCmd()
	dlq.AddCommand(NewDLQListCmd(open), NewDLQRetryCmd(open))
	root.AddCommand(dlq)

	features := NewFeatureRootCmd()
	features.AddCommand(NewFeatureCreateCmd(open), NewFeatureListCmd(open), NewFeatureUpdateCmd(open),
		NewFeatureRemoveCmd(open), NewFeatureBulkCmd(open))
	root.AddCommand(features)

	return root
}

// Execute runs the command line against the real infrastructure.
func Execute(ctx context.Context) int {
	cmd := NewCommand(DefaultOpener, RunWorker)
	if err := cmd.ExecuteContext(ctx); err != nil {
		cmd.PrintErrln("Error:", err)
		return 1
	}
	return 0
}
