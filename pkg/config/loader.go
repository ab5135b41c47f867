package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper. Precedence, highest first:
// flags, environment, secrets file, config file, defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

var _ Loader = (*ViperLoader)(nil)

// NewViperLoader creates a new ViperLoader.
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to "APP")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds the flags registered by RegisterFlags.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// Load reads and validates the configuration.
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.LoadWithSecrets()
	return cfg, err
}

// LoadWithSecrets loads the configuration and also returns the values that
// came from the secrets file, so callers can mask them when printing.
//
// The secrets file is optional. It is <APP>_SECRETS_FILE when set, otherwise
// secrets.yaml next to the config file if present.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, nil, err
	}
	var secrets *Config
	if secretsFile != "" {
		sv := viper.New()
		sv.SetConfigFile(secretsFile)
		if err := sv.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		secrets = &Config{}
		if err := sv.Unmarshal(secrets); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsFile, err)
		}
		if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
			return nil, nil, fmt.Errorf("failed to merge secrets file %s: %w", secretsFile, err)
		}
	}

	l.bindEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// Validate checks cfg.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	return cfg.Validate()
}

func (l *ViperLoader) discoverSecretsFile() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(l.prefixedEnv("SECRETS_FILE"))); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("secrets file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if l.configFile == "" {
		return "", nil
	}
	candidate := filepath.Join(filepath.Dir(l.configFile), "secrets.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", nil
}

// bindEnvVars binds every scalar key to its <PREFIX>_SECTION_KEY variable.
// Resources are only configurable from files.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	keys := []string{
		"router_type",
		"service.name",
		"service.version",
		"service.environment",
		"http.port",
		"http.base_path",
		"http.read_timeout",
		"http.write_timeout",
		"http.idle_timeout",
		"http.shutdown_timeout",
		"http.max_request_size",
		"http.cors.enabled",
		"http.cors.allow_origins",
		"http.cors.allow_headers",
		"http.cors.expose_headers",
		"http.cors.allow_credentials",
		"http.cors.max_age",
		"log.level",
		"log.format",
		"log.excluded_paths",
		"database.type",
		"database.url",
		"database.database_name",
		"database.max_pool_size",
		"database.connect_timeout",
		"database.operation_timeout",
		"observability.metrics_enabled",
		"observability.metrics_path",
		"observability.tracing_enabled",
		"observability.tracing_endpoint",
		"observability.tracing_insecure",
		"observability.tracing_sample_rate",
		"swagger.enabled",
		"swagger.title",
		"openapi_validation.mode",
		"compression.enabled",
		"compression.min_size",
		"audit.sink",
		"audit.kafka.brokers",
		"audit.kafka.topic",
		"audit.kafka.write_timeout",
	}
	for _, key := range keys {
		_ = v.BindEnv(key, l.prefixedEnv(strings.ToUpper(strings.ReplaceAll(key, ".", "_"))))
	}
	// Short aliases used by deployment manifests.
	_ = v.BindEnv("database.url", l.prefixedEnv("DATABASE_URL"), l.prefixedEnv("DB_URL"))
	_ = v.BindEnv("http.port", l.prefixedEnv("HTTP_PORT"), "PORT")
}

// Flag names bound by RegisterFlags.
const (
	FlagPort     = "port"
	FlagLogLevel = "log-level"
	FlagRouter   = "router"
	FlagDatabase = "database-type"
)

var flagKeys = map[string]string{
	FlagPort:     "http.port",
	FlagLogLevel: "log.level",
	FlagRouter:   "router_type",
	FlagDatabase: "database.type",
}

// RegisterFlags adds the overridable settings to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.Int(FlagPort, defaults.HTTP.Port, "HTTP port")
	flags.String(FlagLogLevel, defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String(FlagRouter, defaults.RouterType, "router engine (gin, gorilla)")
	flags.String(FlagDatabase, defaults.Database.Type, "document store (mongodb, memory)")
}

// bindFlags applies explicitly set flags on top of every other source.
func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "APP"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults registers every default so environment bindings and Unmarshal
// see the full key set.
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("router_type", cfg.RouterType)
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.version", cfg.Service.Version)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)
	v.SetDefault("http.cors.enabled", cfg.HTTP.CORS.Enabled)
	v.SetDefault("http.cors.allow_origins", cfg.HTTP.CORS.AllowOrigins)
	v.SetDefault("http.cors.allow_headers", cfg.HTTP.CORS.AllowHeaders)
	v.SetDefault("http.cors.expose_headers", cfg.HTTP.CORS.ExposeHeaders)
	v.SetDefault("http.cors.allow_credentials", cfg.HTTP.CORS.AllowCredentials)
	v.SetDefault("http.cors.max_age", cfg.HTTP.CORS.MaxAge)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.excluded_paths", cfg.Log.ExcludedPaths)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.database_name", cfg.Database.DatabaseName)
	v.SetDefault("database.max_pool_size", cfg.Database.MaxPoolSize)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.operation_timeout", cfg.Database.OperationTimeout)

	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.metrics_path", cfg.Observability.MetricsPath)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_insecure", cfg.Observability.TracingInsecure)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)

	v.SetDefault("swagger.enabled", cfg.Swagger.Enabled)
	v.SetDefault("swagger.title", cfg.Swagger.Title)
	v.SetDefault("openapi_validation.mode", cfg.OpenAPIValidation.Mode)
	v.SetDefault("compression.enabled", cfg.Compression.Enabled)
	v.SetDefault("compression.min_size", cfg.Compression.MinSize)

	v.SetDefault("audit.sink", cfg.Audit.Sink)
	v.SetDefault("audit.kafka.brokers", cfg.Audit.Kafka.Brokers)
	v.SetDefault("audit.kafka.topic", cfg.Audit.Kafka.Topic)
	v.SetDefault("audit.kafka.write_timeout", cfg.Audit.Kafka.WriteTimeout)
}
