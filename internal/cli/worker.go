package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewWorkerCmd(run RunFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker and its ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A signal stops leasing; jobs already running finish first.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}
