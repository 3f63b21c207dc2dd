package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultOpenRouterURL is the default completion endpoint.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// Config holds the full application configuration.
type Config struct {
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Cleaning   CleaningConfig   `yaml:"cleaning" mapstructure:"cleaning"`
	Gender     GenderConfig     `yaml:"gender" mapstructure:"gender"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// APIConfig configures the completion provider.
type APIConfig struct {
	Provider       string  `yaml:"provider" mapstructure:"provider" validate:"oneof=openrouter anthropic"`
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	SiteURL        string  `yaml:"site_url" mapstructure:"site_url"`
	SiteName       string  `yaml:"site_name" mapstructure:"site_name"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec" validate:"gte=0"`
}

// RunConfig configures scheduling and file locations.
type RunConfig struct {
	Workers       int      `yaml:"workers" mapstructure:"workers" validate:"gt=0"`
	BatchSize     int      `yaml:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	TaskWaitUnits float64  `yaml:"task_wait_units" mapstructure:"task_wait_units" validate:"gte=0"`
	DataDir       string   `yaml:"data_dir" mapstructure:"data_dir" validate:"required"`
	InputCharset  string   `yaml:"input_charset" mapstructure:"input_charset"`
	OutputDir     string   `yaml:"output_dir" mapstructure:"output_dir" validate:"required"`
	Models        []string `yaml:"models" mapstructure:"models" validate:"min=1,dive,required"`
}

// RetryConfig configures the retry classifier.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gt=0"`
	RateLimitCeiling float64       `yaml:"rate_limit_ceiling" mapstructure:"rate_limit_ceiling" validate:"gt=0"`
	TimeUnit         time.Duration `yaml:"time_unit" mapstructure:"time_unit" validate:"gt=0"`
}

// CheckpointConfig configures the precomputation cache.
type CheckpointConfig struct {
	Interval int    `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
	Driver   string `yaml:"driver" mapstructure:"driver" validate:"oneof=file sqlite"`
	Path     string `yaml:"path" mapstructure:"path"`
	Workers  int    `yaml:"workers" mapstructure:"workers" validate:"gt=0"`
}

// CleaningConfig configures description cleaning for the age stage.
type CleaningConfig struct {
	Model string `yaml:"model" mapstructure:"model" validate:"required"`
}

// GenderConfig configures the gender stage.
type GenderConfig struct {
	NamesFile string `yaml:"names_file" mapstructure:"names_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TaskWait returns the per-task deadline, or zero when disabled.
func (c *Config) TaskWait() time.Duration {
	return time.Duration(c.Run.TaskWaitUnits * float64(c.Retry.TimeUnit))
}

// CallTimeout returns the per-call timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

var validate = validator.New()

// Validate checks field constraints and that an API key is set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if strings.TrimSpace(c.API.Key) == "" {
		return eris.New("config: api.key is required (set BIAS_API_KEY)")
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api.key", "BIAS_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY")

	// Defaults
	v.SetDefault("api.provider", "openrouter")
	v.SetDefault("api.key", "")
	v.SetDefault("api.base_url", DefaultOpenRouterURL)
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.temperature", 0.1)
	v.SetDefault("api.max_tokens", 1000)
	v.SetDefault("api.site_url", "https://localhost")
	v.SetDefault("api.site_name", "Bias Analysis Research")
	v.SetDefault("api.requests_per_sec", 20)
	v.SetDefault("run.workers", 50)
	v.SetDefault("run.batch_size", 100)
	v.SetDefault("run.task_wait_units", 60)
	v.SetDefault("run.data_dir", "data/")
	v.SetDefault("run.input_charset", "")
	v.SetDefault("run.output_dir", ".")
	v.SetDefault("run.models", []string{"meta-llama/llama-3.1-405b-instruct", "openai/gpt-5"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.rate_limit_ceiling", 120)
	v.SetDefault("retry.time_unit", "1s")
	v.SetDefault("checkpoint.interval", 100)
	v.SetDefault("checkpoint.driver", "file")
	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.workers", 1)
	v.SetDefault("cleaning.model", "openai/gpt-4o-mini")
	v.SetDefault("gender.names_file", "names.csv")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.addr", "")

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
