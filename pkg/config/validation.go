package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.RouterType {
	case RouterTypeGin, RouterTypeGorilla:
	default:
		add("router_type must be %q or %q, got %q", RouterTypeGin, RouterTypeGorilla, c.RouterType)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		add("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		add("http.base_path must start with /")
	}
	if c.HTTP.MaxRequestSize < 0 {
		add("http.max_request_size must not be negative")
	}
	if c.HTTP.CORS.Enabled && len(c.HTTP.CORS.AllowOrigins) == 0 {
		add("http.cors.allow_origins is required when CORS is enabled")
	}

	if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if !contains([]string{"json", "text"}, strings.ToLower(c.Log.Format)) {
		add("log.format %q is not one of json, text", c.Log.Format)
	}

	switch c.Database.Type {
	case DatabaseTypeMemory:
	case DatabaseTypeMongoDB:
		if c.Database.URL == "" {
			add("database.url is required for MongoDB")
		}
		if c.Database.DatabaseName == "" {
			add("database.database_name is required for MongoDB")
		}
	default:
		add("database.type must be %q or %q, got %q", DatabaseTypeMongoDB, DatabaseTypeMemory, c.Database.Type)
	}

	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		add("observability.tracing_endpoint is required when tracing is enabled")
	}
	if rate := c.Observability.TracingSampleRate; rate < 0 || rate > 1 {
		add("observability.tracing_sample_rate must be between 0 and 1, got %v", rate)
	}
	if c.Observability.MetricsEnabled && !strings.HasPrefix(c.Observability.MetricsPath, "/") {
		add("observability.metrics_path must start with /")
	}

	if !contains([]string{ValidationModeOff, ValidationModeStrict, ValidationModeWarnOnly}, c.OpenAPIValidation.Mode) {
		add("openapi_validation.mode %q is not one of off, strict, warn-only", c.OpenAPIValidation.Mode)
	}

	switch c.Audit.Sink {
	case AuditSinkLog, AuditSinkOff:
	case AuditSinkKafka:
		if len(c.Audit.Kafka.Brokers) == 0 {
			add("audit.kafka.brokers is required for the kafka audit sink")
		}
		if c.Audit.Kafka.Topic == "" {
			add("audit.kafka.topic is required for the kafka audit sink")
		}
	default:
		add("audit.sink %q is not one of log, kafka, off", c.Audit.Sink)
	}

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		for _, err := range r.validate() {
			add("resources[%d]: %w", i, err)
		}
		if r.Name != "" {
			if seen[r.Name] {
				add("resources[%d]: duplicate resource name %q", i, r.Name)
			}
			seen[r.Name] = true
		}
	}

	return errors.Join(errs...)
}

func (r ResourceConfig) validate() []error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	} else if strings.ContainsAny(r.Name, "/:{} ") {
		errs = append(errs, fmt.Errorf("name %q must be a single path segment", r.Name))
	}
	if r.DefaultFilter != "" {
		var filter map[string]interface{}
		if err := json.Unmarshal([]byte(r.DefaultFilter), &filter); err != nil {
			errs = append(errs, fmt.Errorf("default_filter is not a JSON object: %w", err))
		}
	}
	if r.PageSize < 0 {
		errs = append(errs, errors.New("page_size must not be negative"))
	}
	if r.BulkConcurrency < 0 {
		errs = append(errs, errors.New("bulk_concurrency must not be negative"))
	}
	if r.RUCC.MaxRetries < 0 || r.RUCC.InitialInterval < 0 || r.RUCC.MaxInterval < 0 {
		errs = append(errs, errors.New("rucc settings must not be negative"))
	}
	return errs
}

// String returns the configuration in a YAML-like layout.
func (c *Config) String() string {
	return c.Redacted(nil)
}

// Redacted formats the configuration, replacing with *** every value that
// secrets sets. Pass the secrets returned by LoadWithSecrets.
func (c *Config) Redacted(secrets *Config) string {
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	var sb strings.Builder
	formatStruct(&sb, reflect.ValueOf(c).Elem(), mask, "")
	return sb.String()
}

func formatStruct(sb *strings.Builder, v, mask reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		name := strings.ToLower(field.Name)
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			fmt.Fprintf(sb, "%s%s:\n", prefix, name)
			formatStruct(sb, value, maskValue, prefix+"  ")
		case reflect.Slice:
			if value.Len() == 0 {
				fmt.Fprintf(sb, "%s%s: []\n", prefix, name)
				continue
			}
			fmt.Fprintf(sb, "%s%s:\n", prefix, name)
			for j := 0; j < value.Len(); j++ {
				elem := value.Index(j)
				if elem.Kind() == reflect.Struct {
					var elemMask reflect.Value
					if maskValue.IsValid() && j < maskValue.Len() {
						elemMask = maskValue.Index(j)
					}
					fmt.Fprintf(sb, "%s  -\n", prefix)
					formatStruct(sb, elem, elemMask, prefix+"    ")
					continue
				}
				fmt.Fprintf(sb, "%s  - %v\n", prefix, elem.Interface())
			}
		default:
			display := value.Interface()
			if shouldRedact(maskValue) {
				display = "***"
			}
			fmt.Fprintf(sb, "%s%s: %v\n", prefix, name, display)
		}
	}
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Bool:
		return v.Bool()
	default:
		return false
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
