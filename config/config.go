package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"quantum-voting/encryption"
	"quantum-voting/models"
	"quantum-voting/quantum"
)

type Config struct {
	StorageDir          string                `yaml:"storage_dir"`
	KeyBits             int                   `yaml:"key_bits"`
	RawMultiplier       int                   `yaml:"raw_multiplier"`
	SampleSize          int                   `yaml:"sample_size"`
	AttackInterceptRate float64               `yaml:"attack_intercept_rate"`
	KDF                 string                `yaml:"kdf"`
	BatchSize           int                   `yaml:"batch_size"`
	SessionTTL          time.Duration         `yaml:"session_ttl"`
	QueueSize           int                   `yaml:"queue_size"`
	Workers             int                   `yaml:"workers"`
	SnapshotKeep        int                   `yaml:"snapshot_keep"`
	RequiredElections   []models.ElectionType `yaml:"required_elections"`
	MaxConstituency     int                   `yaml:"max_constituency"`
	MaxCandidate        int                   `yaml:"max_candidate"`
	LogLevel            string                `yaml:"log_level"`
}

func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and fills unset fields with defaults. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.StorageDir == "" {
		c.StorageDir = "./data"
	}
	if c.KeyBits == 0 {
		c.KeyBits = quantum.DefaultKeyBits
	}
	if c.RawMultiplier == 0 {
		c.RawMultiplier = quantum.DefaultRawMultiplier
	}
	if c.SampleSize == 0 {
		c.SampleSize = quantum.DefaultSampleSize
	}
	if c.AttackInterceptRate == 0 {
		c.AttackInterceptRate = 0.5
	}
	if c.KDF == "" {
		c.KDF = encryption.KDFSimple
	}
	if c.BatchSize == 0 {
		c.BatchSize = 4
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 15 * time.Minute
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.SnapshotKeep == 0 {
		c.SnapshotKeep = 5
	}
	if len(c.RequiredElections) == 0 {
		c.RequiredElections = []models.ElectionType{models.ElectionMLA, models.ElectionMP}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// RawLength is the number of qubits sent per channel run.
func (c Config) RawLength() int {
	return c.KeyBits * c.RawMultiplier
}

func (c Config) Validate() error {
	var errs []error
	if c.KeyBits < 8 || c.KeyBits%8 != 0 {
		errs = append(errs, fmt.Errorf("key_bits must be a positive multiple of 8, got %d", c.KeyBits))
	}
	if c.RawMultiplier < 2 {
		errs = append(errs, fmt.Errorf("raw_multiplier must be at least 2, got %d", c.RawMultiplier))
	}
	if c.SampleSize < 1 {
		errs = append(errs, fmt.Errorf("sample_size must be positive, got %d", c.SampleSize))
	}
	if c.AttackInterceptRate <= 0 || c.AttackInterceptRate > 1 {
		errs = append(errs, fmt.Errorf("attack_intercept_rate must be in (0,1], got %v", c.AttackInterceptRate))
	}
	if _, err := encryption.KDFByName(c.KDF); err != nil {
		errs = append(errs, err)
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL))
	}
	if c.QueueSize < 1 || c.Workers < 1 {
		errs = append(errs, fmt.Errorf("queue_size and workers must be positive"))
	}
	if c.SnapshotKeep < 1 {
		errs = append(errs, fmt.Errorf("snapshot_keep must be positive, got %d", c.SnapshotKeep))
	}
	if c.MaxConstituency < 0 || c.MaxCandidate < 0 {
		errs = append(errs, fmt.Errorf("max_constituency and max_candidate must not be negative"))
	}
	for _, e := range c.RequiredElections {
		if e != models.ElectionMLA && e != models.ElectionMP {
			errs = append(errs, fmt.Errorf("unknown election type %q", e))
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewLogger builds a logrus logger at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
