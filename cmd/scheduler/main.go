// Command scheduler loads the scheduled timetable for one service
// date into the scheduled tier of the store.
package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/filter"
	"github.com/transitdata/serviceinfo/iff"
	"github.com/transitdata/serviceinfo/storage"
	"github.com/transitdata/serviceinfo/timeutil"
)

var (
	configFile  string
	serviceDate string
)

var rootCmd = &cobra.Command{
	Use:          "scheduler",
	Short:        "Load the scheduled timetable into the service store",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.Flags().StringVarP(&serviceDate, "servicedate", "d", "", "Service date (YYYY-MM-DD, default: current)")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}

	log := logrus.WithField("component", "scheduler")
	log.Info("Scheduler starting")

	date := timeutil.ServiceDate(time.Now())
	if serviceDate != "" {
		if date, err = timeutil.ParseDate(serviceDate); err != nil {
			return err
		}
	}

	source, err := iff.NewSource(cfg.IFFDatabase)
	if err != nil {
		return err
	}
	defer source.Close()

	ids, err := source.ServicesForDate(ctx, date)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"date":  timeutil.Date(date),
		"count": len(ids),
	}).Info("Found scheduled services")

	services, err := source.ServicesDetails(ctx, ids, date)
	if err != nil {
		return err
	}

	schedule := services[:0]
	for _, service := range services {
		if filter.IsIncluded(service, cfg.Scheduler.Filter) {
			schedule = append(schedule, service)
		}
	}
	log.WithField("count", len(schedule)).Info("Loaded services")

	store := storage.NewRedisStore(cfg.ScheduleStore)
	defer store.Close()

	if err := store.StoreServices(ctx, schedule, storage.Scheduled); err != nil {
		return err
	}
	log.Info("Services stored to schedule")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
