// Command archiver copies one service date from the store into the
// relational archive.
package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/archive"
	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/storage"
	"github.com/transitdata/serviceinfo/timeutil"
)

var (
	configFile  string
	serviceDate string
)

var rootCmd = &cobra.Command{
	Use:          "archiver",
	Short:        "Archive a service date to the archive database",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := cfg.SetupLogging(); err != nil {
			return err
		}
		logrus.Info("Archiver starting")

		date, err := resolveDate(serviceDate)
		if err != nil {
			return err
		}

		store := storage.NewRedisStore(cfg.ScheduleStore)
		defer store.Close()

		archiver, err := archive.NewArchiver(cfg.ArchiveDatabase, store)
		if err != nil {
			return err
		}
		defer archiver.Close()

		_, err = archiver.Run(cmd.Context(), date)
		return err
	},
}

// resolveDate accepts TODAY, YESTERDAY or an explicit YYYY-MM-DD.
func resolveDate(value string) (time.Time, error) {
	switch value {
	case "TODAY":
		return timeutil.ServiceDate(time.Now()), nil
	case "YESTERDAY":
		return timeutil.ServiceDate(time.Now()).AddDate(0, 0, -1), nil
	default:
		return timeutil.ParseDate(value)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.Flags().StringVarP(&serviceDate, "servicedate", "d", "YESTERDAY", "Service date (YYYY-MM-DD, TODAY or YESTERDAY)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
