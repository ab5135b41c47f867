// Package openapi provides the "openapi" command printing or writing the
// OpenAPI document generated from the configured resources.
package openapi

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/docrest/pkg/config"
	"github.com/nimburion/docrest/pkg/observability/logger"
	serveropenapi "github.com/nimburion/docrest/pkg/server/openapi"
)

// ConfigLoader loads the service config using command flags.
type ConfigLoader func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error)

// DocumentBuilder generates the OpenAPI document of cfg.
type DocumentBuilder func(ctx context.Context, cfg *config.Config, log logger.Logger) (*openapi3.T, error)

// CommandOptions configures the OpenAPI command tree.
type CommandOptions struct {
	LoadConfig    ConfigLoader
	BuildDocument DocumentBuilder
}

// NewCommand creates the "openapi" command and its "generate" subcommand.
// It returns nil when a callback is missing.
func NewCommand(opts CommandOptions) *cobra.Command {
	if opts.BuildDocument == nil || opts.LoadConfig == nil {
		return nil
	}

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "OpenAPI specification commands",
	}

	var outputPath, format, titleOverride string
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the OpenAPI specification of the configured resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts, outputPath, format, titleOverride)
		},
	}
	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (.yaml or .json); stdout when empty")
	generateCmd.Flags().StringVarP(&format, "format", "f", "yaml", "stdout format (json, yaml)")
	generateCmd.Flags().StringVar(&titleOverride, "title", "", "OpenAPI title override")
	cmd.AddCommand(generateCmd)

	return cmd
}

func runGenerate(cmd *cobra.Command, opts CommandOptions, outputPath, format, titleOverride string) error {
	switch strings.ToLower(format) {
	case "json", "yaml", "yml":
	default:
		return fmt.Errorf("unsupported format %q (supported: json, yaml)", format)
	}

	cfg, log, err := opts.LoadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if title := strings.TrimSpace(titleOverride); title != "" {
		cfg.Swagger.Title = title
	}

	doc, err := opts.BuildDocument(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if strings.TrimSpace(outputPath) == "" {
		return writeDocument(out, doc, format)
	}
	if err := serveropenapi.WriteSpec(outputPath, doc); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "OpenAPI spec generated at %s (%d paths)\n", outputPath, doc.Paths.Len())
	return nil
}

func writeDocument(w io.Writer, doc *openapi3.T, format string) error {
	data, err := serveropenapi.Marshal(doc, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
