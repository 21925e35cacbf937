package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type RealtimeConfig struct {
	Disabled         bool   `mapstructure:"disabled"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	Cooldown         string `mapstructure:"cooldown"`
	DecayInterval    string `mapstructure:"decay_interval"`
	ChannelBuffer    int    `mapstructure:"channel_buffer"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type PipelineConfig struct {
	FunctionsURL   string `mapstructure:"functions_url"`
	FunctionsToken string `mapstructure:"functions_token"`
	TranscriberURL string `mapstructure:"transcriber_url"`
	PollInterval   string `mapstructure:"poll_interval"`
	PollAttempts   int    `mapstructure:"poll_attempts"`
	Workers        int    `mapstructure:"workers"`
	ClaimInterval  string `mapstructure:"claim_interval"`
	UploadDir      string `mapstructure:"upload_dir"`
}

type JanitorConfig struct {
	StuckAfter      string `mapstructure:"stuck_after"`
	RetainCompleted string `mapstructure:"retain_completed"`
	StuckSchedule   string `mapstructure:"stuck_schedule"`
	PurgeSchedule   string `mapstructure:"purge_schedule"`
}

type AnalysisConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	LockFile string         `mapstructure:"lock_file"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("logging.file", "")
	viper.SetDefault("realtime.disabled", false)
	viper.SetDefault("realtime.failure_threshold", 3)
	viper.SetDefault("realtime.cooldown", "300s")
	viper.SetDefault("realtime.decay_interval", "30s")
	viper.SetDefault("realtime.channel_buffer", 16)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("redis.min_idle_conns", 10)
	viper.SetDefault("redis.dial_timeout", "3s")
	viper.SetDefault("database.path", "soundscribe.db")
	viper.SetDefault("pipeline.functions_url", "")
	viper.SetDefault("pipeline.functions_token", "")
	viper.SetDefault("pipeline.transcriber_url", "")
	viper.SetDefault("pipeline.poll_interval", "1500ms")
	viper.SetDefault("pipeline.poll_attempts", 40)
	viper.SetDefault("pipeline.workers", 2)
	viper.SetDefault("pipeline.claim_interval", "2s")
	viper.SetDefault("pipeline.upload_dir", "uploads")
	viper.SetDefault("janitor.stuck_after", "30m")
	viper.SetDefault("janitor.retain_completed", "720h")
	viper.SetDefault("janitor.stuck_schedule", "0 */5 * * * *")
	viper.SetDefault("janitor.purge_schedule", "0 0 */6 * * *")
	viper.SetDefault("analysis.cache_size", 256)
	viper.SetDefault("lock_file", "soundscribe.lock")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Realtime,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RealtimeConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RealtimeConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.FailureThreshold,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&rc.Cooldown,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.DecayInterval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.ChannelBuffer,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Redis,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RedisConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RedisConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Addr,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&rc.DB,
						validation.Min(0),
					),
					validation.Field(&rc.PoolSize,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&rc.MinIdleConns,
						validation.Min(0),
					),
					validation.Field(&rc.DialTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Database,
			validation.Required,
			validation.By(func(value interface{}) error {
				dc, ok := value.(DatabaseConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a DatabaseConfig")
				}
				return validation.ValidateStruct(&dc,
					validation.Field(&dc.Path, validation.Required),
				)
			}),
		),
		validation.Field(&c.Pipeline,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PipelineConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PipelineConfig")
				}
				if pc.FunctionsURL != "" {
					if err := validateServerURL(pc.FunctionsURL); err != nil {
						return err
					}
				}
				if pc.TranscriberURL != "" {
					if err := validateServerURL(pc.TranscriberURL); err != nil {
						return err
					}
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.PollInterval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.PollAttempts,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&pc.Workers,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&pc.ClaimInterval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.UploadDir, validation.Required),
				)
			}),
		),
		validation.Field(&c.Janitor,
			validation.Required,
			validation.By(func(value interface{}) error {
				jc, ok := value.(JanitorConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a JanitorConfig")
				}
				return validation.ValidateStruct(&jc,
					validation.Field(&jc.StuckAfter,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&jc.RetainCompleted,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&jc.StuckSchedule,
						validation.Required,
						validation.By(validateCronSpec),
					),
					validation.Field(&jc.PurgeSchedule,
						validation.Required,
						validation.By(validateCronSpec),
					),
				)
			}),
		),
		validation.Field(&c.Analysis,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AnalysisConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AnalysisConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.CacheSize,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.LockFile, validation.Required),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

// Janitor schedules use six-field cron specs with a leading seconds column.
func validateCronSpec(value interface{}) error {
	spec, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(spec); err != nil {
		return validation.NewError("validation_invalid_cron", "must be a valid cron spec with seconds")
	}

	return nil
}
