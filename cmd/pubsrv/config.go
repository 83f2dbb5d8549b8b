package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pubsrv/internal/config"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatHuman OutputFormat = "human"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatTOML  OutputFormat = "toml"
)

func newConfigCmd(stdout io.Writer) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect pubsrv configuration",
	}

	var format string
	showCmd := &cobra.Command{
		Use:   "show [host] [port]",
		Short: "Show the effective configuration",
		Long: `Display the configuration pubsrv would start with, given the same
arguments and flags.

Examples:
  pubsrv config show                    # Human-readable
  pubsrv config show 127.0.0.1 8080     # With positional overrides
  pubsrv config show --format yaml      # yaml, json or toml`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), args)
			if err != nil {
				return err
			}
			out, err := FormatConfig(cfg, OutputFormat(format))
			if err != nil {
				return err
			}
			_, err = io.WriteString(stdout, out)
			return err
		},
	}
	showCmd.Flags().StringVar(&format, "format", string(FormatHuman), "Output format (human, json, yaml, toml)")
	config.RegisterFlags(showCmd.Flags())

	configCmd.AddCommand(showCmd)
	return configCmd
}

// FormatConfig renders cfg in the requested format.
func FormatConfig(cfg *config.Config, format OutputFormat) (string, error) {
	switch format {
	case FormatHuman, "":
		return formatConfigHuman(cfg), nil
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(data) + "\n", nil
	case FormatYAML:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return string(data), nil
	case FormatTOML:
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal TOML: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatConfigHuman(cfg *config.Config) string {
	defaults := config.DefaultConfig()
	var b strings.Builder

	b.WriteString("pubsrv configuration\n")
	b.WriteString(strings.Repeat("─", 40))
	b.WriteString("\n")
	writeSetting(&b, "host", cfg.Host, defaults.Host)
	writeSetting(&b, "port", cfg.Port, defaults.Port)
	writeSetting(&b, "staticRoot", cfg.StaticRoot, cfg.StaticRoot)
	writeSetting(&b, "compress", cfg.Compress, defaults.Compress)
	b.WriteString("\nlogging:\n")
	writeSetting(&b, "  level", cfg.Logging.Level, defaults.Logging.Level)
	writeSetting(&b, "  format", cfg.Logging.Format, defaults.Logging.Format)
	return b.String()
}

func writeSetting(b *strings.Builder, name string, value, defaultValue interface{}) {
	modified := ""
	if fmt.Sprint(value) != fmt.Sprint(defaultValue) {
		modified = fmt.Sprintf(" (default: %v)", defaultValue)
	}
	fmt.Fprintf(b, "%s: %v%s\n", name, value, modified)
}
