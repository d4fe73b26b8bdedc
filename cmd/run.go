package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/internal/observability"
	"github.com/m0rphlin/operetta/internal/service"
)

// componentFactory builds the component graph. Tests substitute it.
var componentFactory service.ComponentFactory = service.NewComponentFactory()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine workers and process queued session jobs until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		components, err := componentFactory.Create(ctx, loadedConfig, logger)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		components.Start(ctx)
		logger.Info("Engine running, waiting for work")

		<-ctx.Done()
		logger.Info("Shutdown signal received", zap.Error(ctx.Err()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
