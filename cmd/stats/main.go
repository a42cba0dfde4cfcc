// Command stats prints processing counters and store gauges.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/storage"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "stats COUNTER",
	Short:        "Print a processing counter",
	Long:         "Counters: messages, services, actual_services, scheduled_services",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		store := storage.NewRedisStore(cfg.ScheduleStore)
		defer store.Close()
		stats := storage.NewRedisStats(store.Client())

		value, err := counterValue(cmd.Context(), store, stats, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

func counterValue(ctx context.Context, store storage.Store, stats storage.Stats, counter string) (int64, error) {
	switch counter {
	case "messages":
		return stats.ProcessedMessages(ctx)
	case "services":
		return stats.ProcessedServices(ctx)
	case "actual_services":
		count, err := storage.StoredServices(ctx, store, storage.Actual)
		return int64(count), err
	case "scheduled_services":
		count, err := storage.StoredServices(ctx, store, storage.Scheduled)
		return int64(count), err
	default:
		return 0, fmt.Errorf("unknown counter %q", counter)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
