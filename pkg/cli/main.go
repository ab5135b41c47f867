// Package cli builds the docrest command line: serve, indexes, openapi,
// config and version.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cliopenapi "github.com/nimburion/docrest/pkg/cli/openapi"
	"github.com/nimburion/docrest/pkg/config"
	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server"
	"github.com/nimburion/docrest/pkg/version"
)

// ServiceCommandOptions configures the command tree.
type ServiceCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// RunServer replaces the default server.Run; tests use it to avoid
	// binding a port.
	RunServer func(ctx context.Context, opts *server.RunOptions) error

	// AppOptions are passed to every app built by the commands.
	AppOptions []server.AppOption
}

// NewServiceCommand creates the CLI. Running it without a subcommand serves.
func NewServiceCommand(opts ServiceCommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "docrest"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "APP"
	}
	if opts.RunServer == nil {
		opts.RunServer = server.Run
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath, secretFilePath, serviceNameOverride string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&serviceNameOverride, "service-name", "", "service name override")
	config.RegisterFlags(rootCmd.PersistentFlags())

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, secretFilePath, flags, opts.Name, serviceNameOverride)
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
		},
	})

	var skipIndexes bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			defer syncLogger(log)
			return opts.RunServer(cmd.Context(), &server.RunOptions{
				Config:      cfg,
				Logger:      log,
				AppOptions:  opts.AppOptions,
				SkipIndexes: skipIndexes,
			})
		},
	}
	for _, flags := range []*pflag.FlagSet{serveCmd.Flags(), rootCmd.Flags()} {
		flags.BoolVar(&skipIndexes, "skip-indexes", false, "do not ensure indexes at startup")
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(&cobra.Command{
		Use:   "indexes",
		Short: "Create the metadata and text indexes of every resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			defer syncLogger(log)
			app, err := server.NewApp(cmd.Context(), cfg, log, opts.AppOptions...)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(cmd.Context()))
			if err := app.EnsureIndexes(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexes ensured for %d resources\n", len(app.Resources()))
			return nil
		},
	})

	rootCmd.AddCommand(cliopenapi.NewCommand(cliopenapi.CommandOptions{
		LoadConfig: loadConfig,
		BuildDocument: func(ctx context.Context, cfg *config.Config, log logger.Logger) (*openapi3.T, error) {
			return buildDocument(ctx, cfg, log, opts.AppOptions)
		},
	}))

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := loadConfig(cmd.Flags()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := applySecretFileFlag(opts.EnvPrefix, secretFilePath); err != nil {
				return err
			}
			cfg, secrets, err := config.NewViperLoader(cfgPath, opts.EnvPrefix).
				WithFlags(cmd.Flags()).
				LoadWithSecrets()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyResolvedServiceName(cfg, opts.Name, serviceNameOverride)
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Redacted(secrets))
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

// buildDocument generates the document without touching the configured
// database: the document only depends on the resource schemas.
func buildDocument(ctx context.Context, cfg *config.Config, log logger.Logger, appOpts []server.AppOption) (*openapi3.T, error) {
	opts := append([]server.AppOption{server.WithExecutor(document.NewMemoryExecutor(), config.DatabaseTypeMemory)}, appOpts...)
	app, err := server.NewApp(ctx, cfg, log, opts...)
	if err != nil {
		return nil, err
	}
	defer app.Close(context.WithoutCancel(ctx))
	return app.Document(), nil
}

// LoadConfigAndLogger loads and validates the configuration, then creates
// the zap logger it describes.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	flags *pflag.FlagSet,
	defaultServiceName string,
	serviceNameOverride string,
) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)

	zl, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(strings.ToLower(cfg.Log.Level)),
		Format: logger.LogFormat(strings.ToLower(cfg.Log.Format)),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log := zl.With("service", cfg.Service.Name)

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

// Execute runs the command until it returns or SIGINT/SIGTERM cancels its
// context, and exits with a non-zero code on error.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if !strings.EqualFold(cfg.Log.Level, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "config", cfg.String())
}

func syncLogger(log logger.Logger) {
	if zl, ok := log.(*logger.ZapLogger); ok {
		_ = zl.Sync()
	}
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "APP"
	}
	return strings.ToUpper(trimmed)
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "app"
}
