// Command http-server serves the read-only service API.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/transitdata/serviceinfo/config"
	"github.com/transitdata/serviceinfo/httpapi"
	"github.com/transitdata/serviceinfo/iff"
	"github.com/transitdata/serviceinfo/storage"
)

var (
	configFile string
	bind       string
	port       int
)

var rootCmd = &cobra.Command{
	Use:          "http-server",
	Short:        "Serve service information over HTTP",
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

		source, err := iff.NewSource(cfg.IFFDatabase)
		if err != nil {
			return err
		}
		defer source.Close()

		server := httpapi.New(store, source, cfg.Scheduler.Filter)

		addr := fmt.Sprintf("%s:%d", bind, port)
		logrus.WithField("addr", addr).Info("HTTP server starting")
		return http.ListenAndServe(addr, server.Handler())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "0.0.0.0", "Bind address")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "Listen port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
