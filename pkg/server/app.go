package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/docrest/pkg/config"
	"github.com/nimburion/docrest/pkg/controller"
	"github.com/nimburion/docrest/pkg/health"
	"github.com/nimburion/docrest/pkg/middleware/compression"
	"github.com/nimburion/docrest/pkg/middleware/cors"
	"github.com/nimburion/docrest/pkg/middleware/logging"
	metricsmw "github.com/nimburion/docrest/pkg/middleware/metrics"
	"github.com/nimburion/docrest/pkg/middleware/openapivalidation"
	"github.com/nimburion/docrest/pkg/middleware/recovery"
	"github.com/nimburion/docrest/pkg/middleware/requestid"
	"github.com/nimburion/docrest/pkg/middleware/requestsize"
	tracingmw "github.com/nimburion/docrest/pkg/middleware/tracing"
	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/observability/metrics"
	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/openapi"
	"github.com/nimburion/docrest/pkg/server/router"
	"github.com/nimburion/docrest/pkg/server/router/factory"
	mongostore "github.com/nimburion/docrest/pkg/store/mongodb"
	"github.com/nimburion/docrest/pkg/version"
)

// Service endpoints mounted next to the resources.
const (
	HealthPath  = "/health"
	VersionPath = "/version"
)

// App is the assembled service: document store, resources, generated
// OpenAPI document and the HTTP handler serving them.
type App struct {
	config    *config.Config
	logger    logger.Logger
	router    router.Router
	models    []*document.Model
	resources []*controller.Resource
	document  *openapi3.T
	metrics   *metrics.Registry
	health    *health.Registry
	info      version.Info
	closers   []LifecycleHook
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	executor document.Executor
	system   string
	metrics  *metrics.Registry
}

// WithExecutor makes the app use executor instead of opening the configured
// database. system names the store in spans.
func WithExecutor(executor document.Executor, system string) AppOption {
	return func(o *appOptions) {
		o.executor = executor
		o.system = system
	}
}

// WithMetricsRegistry replaces the app's private Prometheus registry.
func WithMetricsRegistry(reg *metrics.Registry) AppOption {
	return func(o *appOptions) { o.metrics = reg }
}

// NewApp builds the service described by cfg. Resources are loaded in
// configuration order and mounted under the configured base path. On error
// every resource opened so far is released.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...AppOption) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	o := appOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewRegistry()
	}

	app = &App{
		config:  cfg,
		logger:  log,
		metrics: o.metrics,
		health:  health.NewRegistry(),
		info:    version.Current(cfg.Service.Name),
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	executor, system := o.executor, o.system
	if executor == nil {
		if executor, system, err = app.openStore(); err != nil {
			return app, err
		}
	}

	sink, err := app.auditSink()
	if err != nil {
		return app, err
	}

	for _, rc := range cfg.Resources {
		if err := app.addResource(rc, executor, system, sink); err != nil {
			return app, err
		}
	}

	app.document, err = openapi.Build(openapi.Info{
		Title:   app.title(),
		Version: app.apiVersion(),
	}, cfg.HTTP.BasePath, app.resources...)
	if err != nil {
		return app, fmt.Errorf("build openapi document: %w", err)
	}

	if err := app.buildRouter(); err != nil {
		return app, err
	}
	log.Info("application assembled",
		"resources", len(app.resources),
		"database", system,
		"router", cfg.RouterType,
	)
	return app, nil
}

func (a *App) openStore() (document.Executor, string, error) {
	db := a.config.Database
	switch db.Type {
	case config.DatabaseTypeMemory, "":
		a.logger.Warn("using the in-memory document store, data is lost on restart")
		return document.NewMemoryExecutor(), config.DatabaseTypeMemory, nil
	case config.DatabaseTypeMongoDB:
		adapter, err := mongostore.NewAdapter(mongostore.Config{
			URL:              db.URL,
			Database:         db.DatabaseName,
			AppName:          a.config.Service.Name,
			MaxPoolSize:      db.MaxPoolSize,
			ConnectTimeout:   db.ConnectTimeout,
			OperationTimeout: db.OperationTimeout,
		}, a.logger)
		if err != nil {
			return nil, "", err
		}
		a.onClose("mongodb", func(context.Context) error { return adapter.Close() })
		a.health.Register(health.NewAdapterChecker("mongodb", adapter, db.OperationTimeout))

		executor, err := document.NewMongoDBExecutor(adapter)
		if err != nil {
			return nil, "", err
		}
		return executor, config.DatabaseTypeMongoDB, nil
	default:
		return nil, "", fmt.Errorf("unsupported database type %q", db.Type)
	}
}

func (a *App) auditSink() (controller.AuditSink, error) {
	audit := a.config.Audit
	switch audit.Sink {
	case config.AuditSinkLog, "":
		return controller.NewLogAuditSink(a.logger), nil
	case config.AuditSinkOff:
		return controller.AuditSinkFunc(func(context.Context, controller.AuditRecord) {}), nil
	case config.AuditSinkKafka:
		sink, err := controller.NewKafkaAuditSink(controller.KafkaAuditConfig{
			Brokers:      audit.Kafka.Brokers,
			Topic:        audit.Kafka.Topic,
			WriteTimeout: audit.Kafka.WriteTimeout,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create kafka audit sink: %w", err)
		}
		a.onClose("kafka audit sink", func(context.Context) error { return sink.Close() })
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported audit sink %q", audit.Sink)
	}
}

func (a *App) addResource(rc config.ResourceConfig, executor document.Executor, system string, sink controller.AuditSink) error {
	schema, err := LoadSchema(rc.SchemaFile)
	if err != nil {
		return fmt.Errorf("resource %s: %w", rc.Name, err)
	}
	defaultFilter, err := document.ParseFilter(rc.DefaultFilter)
	if err != nil {
		return fmt.Errorf("resource %s: default_filter: %w", rc.Name, err)
	}

	model, err := document.NewModel(rc.CollectionName(), executor, schema,
		document.WithLogger(a.logger),
		document.WithObserver(a.metrics),
		document.WithTextIndex(rc.SearchFields...),
		document.WithRUCC(document.RUCCConfig{
			MaxRetries:      rc.RUCC.MaxRetries,
			InitialInterval: rc.RUCC.InitialInterval,
			MaxInterval:     rc.RUCC.MaxInterval,
		}),
		document.WithSystem(system),
	)
	if err != nil {
		return fmt.Errorf("resource %s: %w", rc.Name, err)
	}

	res, err := controller.NewResource(controller.Config{
		Name:                   rc.Name,
		Select:                 rc.Select,
		Omit:                   rc.Omit,
		DefaultFilter:          defaultFilter,
		PermanentDeleteVisible: rc.PermanentDeleteVisible,
		Upsert:                 rc.Upsert,
		PageSize:               rc.PageSize,
		BulkConcurrency:        rc.BulkConcurrency,
		UserField:              rc.UserField,
		UserHeader:             rc.UserHeader,
	}, model,
		controller.WithLogger(a.logger),
		controller.WithAuditSink(sink),
		controller.WithOperationObserver(a.metrics),
	)
	if err != nil {
		return err
	}
	a.models = append(a.models, model)
	a.resources = append(a.resources, res)
	return nil
}

// LoadSchema reads a JSON Schema from a .json, .yaml or .yml file. An empty
// path yields nil, which accepts any domain fields.
func LoadSchema(path string) (*document.Schema, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("convert schema %s: %w", path, err)
		}
	}
	schema, err := document.ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return schema, nil
}

func (a *App) buildRouter() error {
	cfg := a.config
	r, err := factory.NewRouter(cfg.RouterType)
	if err != nil {
		return err
	}

	excluded := []string{HealthPath}
	if cfg.Observability.MetricsEnabled {
		excluded = append(excluded, cfg.Observability.MetricsPath)
	}

	r.Use(
		requestid.RequestID(),
		logging.WithConfig(a.logger, logging.Config{
			Enabled:              true,
			ExcludedPathPrefixes: cfg.Log.ExcludedPaths,
		}),
		tracingmw.Tracing(tracingmw.Config{
			TracerName:           cfg.Service.Name,
			ExcludedPathPrefixes: excluded,
		}),
	)
	if cfg.Observability.MetricsEnabled {
		r.Use(metricsmw.Metrics(a.metrics))
	}
	r.Use(recovery.Recovery(a.logger))
	if cfg.HTTP.CORS.Enabled {
		r.Use(cors.Middleware(cors.Config{
			AllowOrigins:     cfg.HTTP.CORS.AllowOrigins,
			AllowHeaders:     cfg.HTTP.CORS.AllowHeaders,
			ExposeHeaders:    cfg.HTTP.CORS.ExposeHeaders,
			AllowCredentials: cfg.HTTP.CORS.AllowCredentials,
			MaxAge:           cfg.HTTP.CORS.MaxAge,
		}))
	}
	if cfg.HTTP.MaxRequestSize > 0 {
		r.Use(requestsize.Middleware(cfg.HTTP.MaxRequestSize))
	}
	if cfg.Compression.Enabled {
		cc := compression.DefaultConfig()
		if cfg.Compression.MinSize > 0 {
			cc.MinSize = cfg.Compression.MinSize
		}
		r.Use(compression.Middleware(cc))
	}

	var routeMiddleware []router.MiddlewareFunc
	mode := cfg.OpenAPIValidation.Mode
	if mode != "" && mode != config.ValidationModeOff {
		validate, err := openapivalidation.NewRequestValidationMiddleware(a.document, openapivalidation.Config{Mode: mode}, a.logger)
		if err != nil {
			return fmt.Errorf("openapi validation: %w", err)
		}
		routeMiddleware = append(routeMiddleware, validate)
	}
	routes := mountResources(r, cfg.HTTP.BasePath, a.resources, routeMiddleware...)
	if cfg.HTTP.CORS.Enabled {
		mountPreflight(r, routes)
	}

	docs, err := openapi.NewHandler(a.document)
	if err != nil {
		return err
	}
	docs.RegisterRoutes(r)
	if cfg.Swagger.Enabled {
		swagger, err := openapi.NewSwaggerHandler(openapi.JSONPath)
		if err != nil {
			return err
		}
		swagger.RegisterRoutes(r)
	}
	if cfg.Observability.MetricsEnabled {
		r.GET(cfg.Observability.MetricsPath, wrapHandler(a.metrics.Handler()))
	}
	r.GET(HealthPath, a.handleHealth)
	registerVersionEndpoint(r, a.info)

	a.router = r
	return nil
}

// mountResources registers the route table of every resource under base and
// returns the mounted routes.
func mountResources(r router.Router, base string, resources []*controller.Resource, middleware ...router.MiddlewareFunc) []router.Route {
	prefix := "/" + strings.Trim(strings.TrimSpace(base), "/")
	if prefix == "/" {
		prefix = ""
	}
	var mounted []router.Route
	for _, res := range resources {
		routes := res.Routes(middleware...)
		for i := range routes {
			routes[i].Path = prefix + routes[i].Path
		}
		router.Mount(r, routes)
		mounted = append(mounted, routes...)
	}
	return mounted
}

// mountPreflight registers one OPTIONS route per distinct path so browsers
// get a CORS answer under both router engines.
func mountPreflight(r router.Router, routes []router.Route) {
	seen := make(map[string]bool, len(routes))
	for _, route := range routes {
		if seen[route.Path] {
			continue
		}
		seen[route.Path] = true
		r.Handle(http.MethodOptions, route.Path, cors.Preflight)
	}
}

func (a *App) handleHealth(c router.Context) error {
	result := a.health.Check(c.Request().Context())
	status := http.StatusOK
	if !result.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, result)
}

func registerVersionEndpoint(r router.Router, info version.Info) {
	r.GET(VersionPath, func(c router.Context) error {
		return c.JSON(http.StatusOK, info)
	})
}

func wrapHandler(h http.Handler) router.HandlerFunc {
	return func(c router.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

func (a *App) title() string {
	if t := strings.TrimSpace(a.config.Swagger.Title); t != "" {
		return t
	}
	return a.info.Service
}

func (a *App) apiVersion() string {
	if v := strings.TrimSpace(a.config.Service.Version); v != "" {
		return v
	}
	return a.info.APIVersion()
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, LifecycleHook{Name: name, Fn: fn})
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler { return a.router }

// Document returns the generated OpenAPI document.
func (a *App) Document() *openapi3.T { return a.document }

// Resources returns the mounted resources in configuration order.
func (a *App) Resources() []*controller.Resource {
	return append([]*controller.Resource(nil), a.resources...)
}

// Metrics returns the Prometheus registry fed by the app.
func (a *App) Metrics() *metrics.Registry { return a.metrics }

// EnsureIndexes creates the metadata and text indexes of every model.
func (a *App) EnsureIndexes(ctx context.Context) error {
	var errs []error
	for _, m := range a.models {
		if err := m.EnsureIndexes(ctx); err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", m.Collection(), err))
			continue
		}
		a.logger.Info("indexes ensured", "collection", m.Collection())
	}
	return errors.Join(errs...)
}

// Close releases the store connection and the audit sink, last opened first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Fn(ctx); err != nil {
			a.logger.Error("failed to close", "component", c.Name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
