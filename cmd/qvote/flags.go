package main

import (
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"quantum-voting/config"
)

const (
	ConfigKey     = "config"
	LogLevelKey   = "log-level"
	StorageDirKey = "storage-dir"
)

func AddGlobalFlags(flags *pflag.FlagSet) {
	flags.String(ConfigKey, "", "Path to a YAML config file")
	flags.String(LogLevelKey, "", "Log level (overrides config)")
	flags.String(StorageDirKey, "", "Directory for ballots, snapshots and admin credentials (overrides config)")
}

// loadConfig reads the config file named by the flags and applies flag
// overrides on top.
func loadConfig(flags *pflag.FlagSet) (config.Config, *logrus.Logger, error) {
	path, err := flags.GetString(ConfigKey)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	if flags.Changed(LogLevelKey) {
		if cfg.LogLevel, err = flags.GetString(LogLevelKey); err != nil {
			return config.Config{}, nil, err
		}
	}
	if flags.Changed(StorageDirKey) {
		if cfg.StorageDir, err = flags.GetString(StorageDirKey); err != nil {
			return config.Config{}, nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
