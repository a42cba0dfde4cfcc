// Package config loads the shared YAML configuration used by all
// binaries.
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/transitdata/serviceinfo/filter"
	"github.com/transitdata/serviceinfo/iff"
	"github.com/transitdata/serviceinfo/injector"
	"github.com/transitdata/serviceinfo/listener"
	"github.com/transitdata/serviceinfo/storage"
)

// DefaultPath is where the binaries look for the configuration when
// no -c flag is given.
const DefaultPath = "config/serviceinfo.yaml"

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Scheduler struct {
	Filter filter.Config `yaml:"filter"`
}

type Config struct {
	ScheduleStore   storage.RedisConfig `yaml:"schedule_store"`
	IFFDatabase     iff.DBConfig        `yaml:"iff_database"`
	ArchiveDatabase iff.DBConfig        `yaml:"archive_database"`
	ARNUSource      listener.Config     `yaml:"arnu_source"`
	Injector        injector.Config     `yaml:"injector"`
	Scheduler       Scheduler           `yaml:"scheduler"`
	Logging         Logging             `yaml:"logging"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	return &cfg, nil
}

// SetupLogging applies the logging section to the global logger.
func (c *Config) SetupLogging() error {
	if c.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if c.Logging.Level == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", c.Logging.Level)
	}
	logrus.SetLevel(level)
	return nil
}
