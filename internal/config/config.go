package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/bqaudit-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	BigQuery BigQueryConfig `yaml:"bigquery" mapstructure:"bigquery"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Store    store.Config   `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// AuditConfig configures the audit engine.
type AuditConfig struct {
	Project         string   `yaml:"project" mapstructure:"project"`
	Regions         []string `yaml:"regions" mapstructure:"regions"`
	LookbackDays    int      `yaml:"lookback_days" mapstructure:"lookback_days"`
	PerRegionLimit  int      `yaml:"per_region_limit" mapstructure:"per_region_limit"`
	TopN            int      `yaml:"top_n" mapstructure:"top_n"`
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	PageTimeoutSecs int      `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
}

// BigQueryConfig configures the metadata query client. The access token is
// acquired externally (gcloud, workload identity, ...) and passed in.
type BigQueryConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Token   string  `yaml:"token" mapstructure:"token"`
	RateQPS float64 `yaml:"rate_qps" mapstructure:"rate_qps"`
	Burst   int     `yaml:"burst" mapstructure:"burst"`
}

// ExportConfig configures the tabular export sink.
type ExportConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("BQAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Empty defaults for project and token register the keys so
	// AutomaticEnv can populate them.
	v.SetDefault("audit.project", "")
	v.SetDefault("bigquery.token", "")
	v.SetDefault("audit.regions", []string{"us", "eu"})
	v.SetDefault("audit.lookback_days", 90)
	v.SetDefault("audit.per_region_limit", 1000)
	v.SetDefault("audit.top_n", 5)
	v.SetDefault("audit.concurrency", 4)
	v.SetDefault("audit.page_timeout_secs", 60)
	v.SetDefault("bigquery.base_url", "https://bigquery.googleapis.com/bigquery/v2")
	v.SetDefault("bigquery.rate_qps", 5)
	v.SetDefault("bigquery.burst", 5)
	v.SetDefault("export.format", "csv")
	v.SetDefault("export.path", "bq_job_stats.csv")
	v.SetDefault("store.driver", "sqlite")
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
