// Package config loads the service configuration from defaults, an optional
// YAML file, an optional secrets file, environment variables and flags.
package config

import "time"

// Router types.
const (
	RouterTypeGin     = "gin"
	RouterTypeGorilla = "gorilla"
)

// Database types.
const (
	// DatabaseTypeMongoDB stores documents in MongoDB
	DatabaseTypeMongoDB = "mongodb"
	// DatabaseTypeMemory keeps documents in process memory
	DatabaseTypeMemory = "memory"
)

// Audit sinks.
const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
	AuditSinkOff   = "off"
)

// OpenAPI request validation modes.
const (
	ValidationModeOff      = "off"
	ValidationModeStrict   = "strict"
	ValidationModeWarnOnly = "warn-only"
)

// Config is the root configuration of the service.
type Config struct {
	RouterType        string `mapstructure:"router_type"`
	Service           ServiceConfig
	HTTP              HTTPConfig
	Log               LogConfig
	Database          DatabaseConfig
	Observability     ObservabilityConfig
	Swagger           SwaggerConfig
	OpenAPIValidation OpenAPIValidationConfig `mapstructure:"openapi_validation"`
	Compression       CompressionConfig
	Audit             AuditConfig
	Resources         []ResourceConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	BasePath        string        `mapstructure:"base_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	AllowHeaders     []string      `mapstructure:"allow_headers"`
	ExposeHeaders    []string      `mapstructure:"expose_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	// ExcludedPaths are not request-logged.
	ExcludedPaths []string `mapstructure:"excluded_paths"`
}

// DatabaseConfig configures the document store.
type DatabaseConfig struct {
	Type             string        `mapstructure:"type"` // mongodb, memory
	URL              string        `mapstructure:"url"`
	DatabaseName     string        `mapstructure:"database_name"`
	MaxPoolSize      uint64        `mapstructure:"max_pool_size"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled    bool    `mapstructure:"metrics_enabled"`
	MetricsPath       string  `mapstructure:"metrics_path"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
}

// SwaggerConfig configures the generated OpenAPI document and Swagger UI.
type SwaggerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Title of the generated document. Defaults to the service name.
	Title string `mapstructure:"title"`
}

// OpenAPIValidationConfig configures request validation against the
// generated document.
type OpenAPIValidationConfig struct {
	Mode string `mapstructure:"mode"` // off, strict, warn-only
}

// CompressionConfig configures response compression.
type CompressionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	MinSize int  `mapstructure:"min_size"`
}

// AuditConfig selects where audit records go.
type AuditConfig struct {
	Sink  string           `mapstructure:"sink"` // log, kafka, off
	Kafka KafkaAuditConfig `mapstructure:"kafka"`
}

// KafkaAuditConfig configures the Kafka audit sink.
type KafkaAuditConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ResourceConfig declares one REST resource backed by a collection.
type ResourceConfig struct {
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
	// SchemaFile is a JSON Schema describing the documents. Empty accepts
	// any fields.
	SchemaFile string   `mapstructure:"schema_file"`
	Select     []string `mapstructure:"select"`
	Omit       []string `mapstructure:"omit"`
	// DefaultFilter is a JSON object merged under every request filter.
	DefaultFilter          string     `mapstructure:"default_filter"`
	PermanentDeleteVisible bool       `mapstructure:"permanent_delete_visible"`
	Upsert                 bool       `mapstructure:"upsert"`
	SearchFields           []string   `mapstructure:"search_fields"`
	PageSize               int64      `mapstructure:"page_size"`
	BulkConcurrency        int        `mapstructure:"bulk_concurrency"`
	UserField              string     `mapstructure:"user_field"`
	UserHeader             string     `mapstructure:"user_header"`
	RUCC                   RUCCConfig `mapstructure:"rucc"`
}

// CollectionName returns the collection, defaulting to the resource name.
func (r ResourceConfig) CollectionName() string {
	if r.Collection != "" {
		return r.Collection
	}
	return r.Name
}

// RUCCConfig bounds the optimistic retry loop of a resource.
type RUCCConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		RouterType: RouterTypeGin,
		Service: ServiceConfig{
			Name:        "docrest",
			Environment: "development",
		},
		HTTP: HTTPConfig{
			Port:            8080,
			BasePath:        "/api",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxRequestSize:  10 << 20,
			CORS: CORSConfig{
				AllowHeaders:  []string{"Content-Type", "X-User", "X-Request-ID"},
				ExposeHeaders: []string{"X-Request-ID"},
				MaxAge:        12 * time.Hour,
			},
		},
		Log: LogConfig{
			Level:         "info",
			Format:        "json",
			ExcludedPaths: []string{"/metrics"},
		},
		Database: DatabaseConfig{
			Type:             DatabaseTypeMemory,
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled:    true,
			MetricsPath:       "/metrics",
			TracingSampleRate: 1.0,
			TracingEndpoint:   "localhost:4317",
		},
		Swagger: SwaggerConfig{
			Enabled: true,
		},
		OpenAPIValidation: OpenAPIValidationConfig{
			Mode: ValidationModeOff,
		},
		Compression: CompressionConfig{
			Enabled: true,
			MinSize: 1024,
		},
		Audit: AuditConfig{
			Sink: AuditSinkLog,
			Kafka: KafkaAuditConfig{
				Topic:        "docrest.audit",
				WriteTimeout: 10 * time.Second,
			},
		},
	}
}
