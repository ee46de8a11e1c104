// Package config loads and validates the nested sampling run configuration
// from a YAML file with environment-variable overrides, following the same
// Load/defaultConfig/applyEnvOverrides shape the rest of this codebase's
// lineage uses for service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nestedsampling/polychord-go/internal/nserrors"
)

// RunConfig is the top-level sampler configuration. Field order follows the
// argument order of the original PyPolyChord C entry point so a reader
// familiar with that binding recognizes the same parameter list.
type RunConfig struct {
	NDims              int     `yaml:"nDims"`
	NDerived           int     `yaml:"nDerived"`
	NLive              int     `yaml:"nlive"`
	NumRepeats         int     `yaml:"numRepeats"`
	DoClustering       bool    `yaml:"doClustering"`
	Feedback           int     `yaml:"feedback"`
	PrecisionCriterion float64 `yaml:"precisionCriterion"`
	MaxNDead           int     `yaml:"maxNDead"`
	BoostPosterior     float64 `yaml:"boostPosterior"`
	Posteriors         bool    `yaml:"posteriors"`
	Equals             bool    `yaml:"equals"`
	ClusterPosteriors  bool    `yaml:"clusterPosteriors"`
	WriteResume        bool    `yaml:"writeResume"`
	WriteParamNames    bool    `yaml:"writeParamNames"`
	ReadResume         bool    `yaml:"readResume"`
	WriteStats         bool    `yaml:"writeStats"`
	WriteLive          bool    `yaml:"writeLive"`
	WriteDead          bool    `yaml:"writeDead"`
	UpdateFiles        int     `yaml:"updateFiles"`
	BaseDir            string  `yaml:"baseDir"`
	FileRoot           string  `yaml:"fileRoot"`

	NProcs int `yaml:"nprocs"`

	NMaxPosterior  int     `yaml:"nmaxPosterior"`
	MinimumWeight  float64 `yaml:"minimumWeight"`
	StackChainMult int     `yaml:"stackChainMultiplier"`

	Logging  LoggingConfig  `yaml:"logging"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KafkaConfig controls the optional dead-point event stream.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	DeadPoints    string   `yaml:"deadPointsTopic"`
}

// RedisConfig controls the optional progress pub/sub broadcast.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	Channel  string        `yaml:"channel"`
	DialWait time.Duration `yaml:"dialWait"`
}

// PostgresConfig controls the optional posterior/stats mirror.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// MetricsConfig controls the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if path is non-empty) and applies
// environment-variable overrides on top of Default().
func Load(path string) (*RunConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a RunConfig with sensible defaults for local runs.
func Default() *RunConfig {
	return &RunConfig{
		NDims:              2,
		NDerived:           0,
		NLive:              500,
		NumRepeats:         0,
		DoClustering:       false,
		Feedback:           1,
		PrecisionCriterion: 1e-3,
		MaxNDead:           0,
		BoostPosterior:     0,
		Posteriors:         true,
		Equals:             true,
		ClusterPosteriors:  false,
		WriteResume:        true,
		WriteParamNames:    false,
		ReadResume:         false,
		WriteStats:         true,
		WriteLive:          false,
		WriteDead:          false,
		UpdateFiles:        0,
		BaseDir:            "chains",
		FileRoot:           "run",
		NProcs:             1,
		NMaxPosterior:      10000,
		MinimumWeight:      1e-3,
		StackChainMult:     2,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "polychord-go",
			DeadPoints:    "polychord.dead-points",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			Channel:  "polychord:progress",
			DialWait: 2 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "polychord",
			User:            "polychord",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate enforces the startup configuration rules: positive dimensions,
// enough live points for the worker count, and sane termination criteria.
func Validate(cfg *RunConfig) error {
	if cfg.NDims <= 0 {
		return nserrors.Config("nDims must be positive, got %d", cfg.NDims)
	}
	if cfg.NDerived < 0 {
		return nserrors.Config("nDerived must be non-negative, got %d", cfg.NDerived)
	}
	if cfg.NLive <= 0 {
		return nserrors.Config("nlive must be positive, got %d", cfg.NLive)
	}
	if cfg.NProcs < 1 {
		return nserrors.Config("nprocs must be at least 1, got %d", cfg.NProcs)
	}
	if cfg.NProcs-1 >= cfg.NLive {
		return nserrors.Config("nprocs-1 (%d) must be less than nlive (%d)", cfg.NProcs-1, cfg.NLive)
	}
	if cfg.PrecisionCriterion <= 0 {
		return nserrors.Config("precisionCriterion must be positive, got %g", cfg.PrecisionCriterion)
	}
	if cfg.NMaxPosterior <= 0 {
		return nserrors.Config("nmaxPosterior must be positive, got %d", cfg.NMaxPosterior)
	}
	if cfg.StackChainMult < 2 {
		return nserrors.Config("stackChainMultiplier must be at least 2, got %d", cfg.StackChainMult)
	}
	if cfg.UpdateFiles < 0 {
		return nserrors.Config("updateFiles must be non-negative, got %d", cfg.UpdateFiles)
	}
	if cfg.BaseDir == "" || cfg.FileRoot == "" {
		return nserrors.Config("baseDir and fileRoot must both be set")
	}
	return nil
}

// UpdateInterval returns the promotion cadence at which output files and
// the resume checkpoint are rewritten. UpdateFiles of 0 means every nlive
// promotions.
func (c *RunConfig) UpdateInterval() int {
	if c.UpdateFiles > 0 {
		return c.UpdateFiles
	}
	return c.NLive
}

// StackCapacity computes the backing-array size nlive * multiplier,
// clamped to a minimum of 2*nlive so in-flight slots always fit.
func (c *RunConfig) StackCapacity() int {
	cap := c.NLive * c.StackChainMult
	if cap < 2*c.NLive {
		cap = 2 * c.NLive
	}
	return cap
}

// applyEnvOverrides reads PC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *RunConfig) {
	if v := os.Getenv("PC_NLIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NLive = n
		}
	}
	if v := os.Getenv("PC_NPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NProcs = n
		}
	}
	if v := os.Getenv("PC_MAX_NDEAD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxNDead = n
		}
	}
	if v := os.Getenv("PC_PRECISION_CRITERION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PrecisionCriterion = f
		}
	}
	if v := os.Getenv("PC_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("PC_FILE_ROOT"); v != "" {
		cfg.FileRoot = v
	}
	if v := os.Getenv("PC_READ_RESUME"); v != "" {
		cfg.ReadResume = v == "true" || v == "1"
	}
	if v := os.Getenv("PC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PC_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
}
