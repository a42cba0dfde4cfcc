// Command arnu-listener runs the realtime ingest pipeline until
// interrupted.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/iff"
	"github.com/transitdata/serviceinfo/listener"
	"github.com/transitdata/serviceinfo/storage"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "arnu-listener",
	Short:        "Process realtime service updates",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := cfg.SetupLogging(); err != nil {
			return err
		}
		logrus.Info("ARNU listener starting")

		store := storage.NewRedisStore(cfg.ScheduleStore)
		defer store.Close()
		stats := storage.NewRedisStats(store.Client())

		l := listener.New(cfg.ARNUSource, store, stats, func() (listener.Timetable, error) {
			return iff.NewSource(cfg.IFFDatabase)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return l.Run(ctx)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
