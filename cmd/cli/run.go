package cli

import (
	"context"
	"os/signal"
	"syscall"

	"commentflow/internal/app"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the webhook and admin API server",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer deps.close()

	if deps.cfg.Database.AutoMigrate {
		if err := app.Migrate(deps.db); err != nil {
			return err
		}
	}

	a := app.New(deps.cfg, deps.db, logrus.StandardLogger())
	return a.Serve(ctx)
}
