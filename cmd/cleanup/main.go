// Command cleanup removes service dates older than a threshold from
// the store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/storage"
	"github.com/transitdata/serviceinfo/timeutil"
)

var (
	configFile    string
	thresholdDays int
	tierName      string
)

var rootCmd = &cobra.Command{
	Use:          "cleanup",
	Short:        "Remove outdated services from the store",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := cfg.SetupLogging(); err != nil {
			return err
		}

		var tiers []storage.StoreType
		switch tierName {
		case "all":
			tiers = []storage.StoreType{storage.Actual, storage.Scheduled}
		case string(storage.Actual), string(storage.Scheduled):
			tiers = []storage.StoreType{storage.StoreType(tierName)}
		default:
			return fmt.Errorf("unknown store %q", tierName)
		}

		store := storage.NewRedisStore(cfg.ScheduleStore)
		defer store.Close()

		logrus.Info("Starting cleanup")
		return cleanup(cmd.Context(), store, tiers, thresholdDays)
	},
}

func cleanup(ctx context.Context, store storage.Store, tiers []storage.StoreType, threshold int) error {
	log := logrus.WithField("component", "cleanup")
	cutoff := timeutil.ServiceDate(time.Now()).AddDate(0, 0, -threshold)

	for _, tier := range tiers {
		dates, err := store.GetServiceDates(ctx, tier)
		if err != nil {
			return err
		}
		for _, date := range dates {
			parsed, err := timeutil.ParseDate(date)
			if err != nil {
				log.WithField("date", date).Warn("Skipping unparseable service date")
				continue
			}
			if !parsed.Before(cutoff) {
				log.WithFields(logrus.Fields{"date": date, "store": tier}).
					Info("Keeping data")
				continue
			}

			log.WithFields(logrus.Fields{"date": date, "store": tier}).
				Info("Removing outdated services")
			if err := store.TrashStore(ctx, date, tier); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.Flags().IntVarP(&thresholdDays, "threshold", "t", 1, "Keep service dates this many days back")
	rootCmd.Flags().StringVarP(&tierName, "store", "s", "all", "Store to clean (actual, scheduled or all)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
