package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/docrest/pkg/config"
	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/observability/tracing"
	"github.com/nimburion/docrest/pkg/version"
)

// LifecycleHook defines a named startup/shutdown action.
type LifecycleHook struct {
	Name string
	Fn   func(context.Context) error
}

// RunOptions defines inputs for running the service.
type RunOptions struct {
	Config *config.Config
	Logger logger.Logger

	// AppOptions are passed to NewApp.
	AppOptions []AppOption

	// SkipIndexes disables index creation at startup.
	SkipIndexes bool

	StartupHooks        []LifecycleHook
	ShutdownHooks       []LifecycleHook
	ShutdownHookTimeout time.Duration
}

// Run assembles the app and serves it until ctx is cancelled. Startup hooks
// run after the app is built and before the server listens; shutdown hooks
// run after the server stopped, followed by the app's own cleanup.
func Run(ctx context.Context, opts *RunOptions) error {
	if opts == nil || opts.Config == nil {
		return errors.New("config is required")
	}
	if opts.Logger == nil {
		return errors.New("logger is required")
	}
	cfg := opts.Config
	info := version.Current(cfg.Service.Name)
	opts.Logger.Info("starting service",
		"service", info.Service,
		"version", info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"environment", normalizeEnvironment(cfg.Service.Environment),
	)

	provider, err := initTracerProvider(ctx, cfg, info)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracerProvider(provider, opts.Logger)

	app, err := NewApp(ctx, cfg, opts.Logger, opts.AppOptions...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownHookTimeout(opts))
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	startup := opts.StartupHooks
	if !opts.SkipIndexes {
		startup = append([]LifecycleHook{{Name: "ensure indexes", Fn: app.EnsureIndexes}}, startup...)
	}
	if err := runStartupHooks(ctx, opts.Logger, startup); err != nil {
		return err
	}

	srv := NewServer(Config{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, app.Handler(), opts.Logger)
	serveErr := srv.Start(ctx)

	hookErr := runShutdownHooks(opts.Logger, opts.ShutdownHooks, shutdownHookTimeout(opts))
	return errors.Join(serveErr, hookErr)
}

func initTracerProvider(ctx context.Context, cfg *config.Config, info version.Info) (*tracing.TracerProvider, error) {
	return tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    info.Service,
		ServiceVersion: info.Version,
		Environment:    normalizeEnvironment(cfg.Service.Environment),
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
}

func shutdownTracerProvider(provider *tracing.TracerProvider, log logger.Logger) {
	if provider == nil {
		return
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		log.Error("failed to shutdown tracing provider", "error", err)
	}
}

func normalizeEnvironment(env string) string {
	trimmed := strings.TrimSpace(env)
	if trimmed == "" {
		return version.Unknown
	}
	return trimmed
}

func shutdownHookTimeout(opts *RunOptions) time.Duration {
	if opts.ShutdownHookTimeout > 0 {
		return opts.ShutdownHookTimeout
	}
	return 10 * time.Second
}

func hookName(hook LifecycleHook) string {
	if name := strings.TrimSpace(hook.Name); name != "" {
		return name
	}
	return "unnamed"
}

func runStartupHooks(ctx context.Context, log logger.Logger, hooks []LifecycleHook) error {
	for _, hook := range hooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		log.Info("startup hook start", "hook", name)
		if err := hook.Fn(ctx); err != nil {
			log.Error("startup hook failed", "hook", name, "error", err)
			return fmt.Errorf("startup hook %q failed: %w", name, err)
		}
		log.Info("startup hook complete", "hook", name)
	}
	return nil
}

func runShutdownHooks(log logger.Logger, hooks []LifecycleHook, timeout time.Duration) error {
	var errs []error
	for _, hook := range hooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		log.Info("shutdown hook start", "hook", name)

		hookCtx, cancel := context.WithTimeout(context.Background(), timeout)
		err := hook.Fn(hookCtx)
		cancel()

		if err != nil {
			log.Error("shutdown hook failed", "hook", name, "error", err)
			errs = append(errs, fmt.Errorf("shutdown hook %q failed: %w", name, err))
			continue
		}
		log.Info("shutdown hook complete", "hook", name)
	}
	return errors.Join(errs...)
}
