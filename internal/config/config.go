// Package config loads application configuration from config.yaml and
// MAINT_-prefixed environment variables, and wires the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/ledger"
)

// Config holds the full application configuration.
type Config struct {
	Ledger  LedgerConfig  `yaml:"ledger" mapstructure:"ledger"`
	Vector  VectorConfig  `yaml:"vector" mapstructure:"vector"`
	Dedup   DedupConfig   `yaml:"dedup" mapstructure:"dedup"`
	Execute ExecuteConfig `yaml:"execute" mapstructure:"execute"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// LedgerConfig configures the review ledger backend.
type LedgerConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        ledger.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// VectorConfig configures the vector store backend.
type VectorConfig struct {
	Driver    string  `yaml:"driver" mapstructure:"driver"`
	IndexURL  string  `yaml:"index_url" mapstructure:"index_url"`
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	Namespace string  `yaml:"namespace" mapstructure:"namespace"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// DedupConfig configures classification thresholds and retrieval.
type DedupConfig struct {
	AutoMergeThreshold  float64 `yaml:"auto_merge_threshold" mapstructure:"auto_merge_threshold"`
	ReviewThreshold     float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	CompoundThreshold   float64 `yaml:"compound_threshold" mapstructure:"compound_threshold"`
	TopK                int     `yaml:"top_k" mapstructure:"top_k"`
	DiagnosticThreshold float64 `yaml:"diagnostic_threshold" mapstructure:"diagnostic_threshold"`
}

// ExecuteConfig configures the execution pass.
type ExecuteConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.database_url", "maintenance.db")
	v.SetDefault("ledger.pool.max_conns", 10)
	v.SetDefault("ledger.pool.min_conns", 2)
	v.SetDefault("vector.driver", "memory")
	v.SetDefault("vector.rate_limit", 20)
	v.SetDefault("dedup.auto_merge_threshold", 0.92)
	v.SetDefault("dedup.review_threshold", 0.85)
	v.SetDefault("dedup.compound_threshold", 0.80)
	v.SetDefault("dedup.top_k", 5)
	v.SetDefault("dedup.diagnostic_threshold", 0.70)
	v.SetDefault("execute.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
