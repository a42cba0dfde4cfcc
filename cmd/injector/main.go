// Command injector pushes upcoming departures to the downstream
// display system, once or on a cron schedule.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/injector"
	"github.com/transitdata/serviceinfo/storage"
)

var (
	configFile string
	daemon     bool
)

var rootCmd = &cobra.Command{
	Use:          "injector",
	Short:        "Inject upcoming departures into the display system",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := cfg.SetupLogging(); err != nil {
			return err
		}

		store := storage.NewRedisStore(cfg.ScheduleStore)
		defer store.Close()

		inj := injector.New(cfg.Injector, store)

		if daemon {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return inj.RunDaemon(ctx)
		}
		return inj.RunOnce(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run on the configured cron schedule")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
