// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	TransportMemory = "memory"
	TransportGRPC   = "grpc"
	TransportEtcd   = "etcd"
)

// Config holds all configuration for both processes.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	Transport        string         `mapstructure:"transport" validate:"required,oneof=memory grpc etcd"`
	ChannelKey       string         `mapstructure:"channel_key" validate:"required,max=128,excludesall=/"`
	ChannelCapacity  int            `mapstructure:"channel_capacity" validate:"gt=0"`
	MaxInnerDim      int            `mapstructure:"max_inner_dim" validate:"gt=0"`
	GrpcAddr         string         `mapstructure:"grpc_addr" validate:"required_if=Transport grpc"`
	GrpcListenAddr   string         `mapstructure:"grpc_listen_addr"`
	EtcdEndpoints    []string       `mapstructure:"etcd_endpoints" validate:"required_if=Transport etcd"`
	EtcdTimeout      time.Duration  `mapstructure:"etcd_timeout" validate:"gt=0"`
	DiscoveryTimeout time.Duration  `mapstructure:"discovery_timeout" validate:"gte=0"`
	WorkerLeaseTTL   time.Duration  `mapstructure:"worker_lease_ttl" validate:"gt=0"`
	StatsSchedule    string         `mapstructure:"stats_schedule" validate:"omitempty,cron"`
	LogLevel         string         `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	TracingEnabled   bool           `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64        `mapstructure:"trace_sample_ratio" validate:"gte=0,lte=1"`
	Producer         ProducerConfig `mapstructure:"producer"`
	Worker           WorkerConfig   `mapstructure:"worker"`
}

// ProducerConfig holds producer process settings.
type ProducerConfig struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=0"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout" validate:"gte=0"`
	HttpListenAddr  string        `mapstructure:"http_listen_addr"`
}

// WorkerConfig holds worker process settings. PoolSize is used when the
// producer hosts its own pool with the memory transport.
type WorkerConfig struct {
	PoolSize       int    `mapstructure:"pool_size" validate:"gte=0"`
	HttpListenAddr string `mapstructure:"http_listen_addr"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a stats schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportGRPC)
	v.SetDefault("channel_key", "matmul")
	v.SetDefault("channel_capacity", 1024)
	v.SetDefault("max_inner_dim", 50)
	v.SetDefault("grpc_addr", "localhost:50052")
	v.SetDefault("grpc_listen_addr", ":50052")
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("discovery_timeout", "10s")
	v.SetDefault("worker_lease_ttl", "10s")
	v.SetDefault("stats_schedule", "@every 30s")
	v.SetDefault("log_level", "info")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("producer.concurrency", 0)
	v.SetDefault("producer.response_timeout", "60s")
	v.SetDefault("producer.http_listen_addr", ":8080")
	v.SetDefault("worker.pool_size", 4)
	v.SetDefault("worker.http_listen_addr", ":8081")
}

// Load loads configuration from an optional file, environment variables
// (MATMUL_ prefix, dots as underscores) and any bound flags, then validates it.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MATMUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults, env and flags apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := ParseSchedule(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(details, "; "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
