package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"stemgen/config"
	"stemgen/logger"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing and validating stemgen configuration.",
}

// configValidateCmd validates the current configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the current configuration file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging for validation
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Validate configuration
		if err := cfg.Validate(); err != nil {
			slog.Error("Configuration validation failed", slog.Any("error", err))
			return err
		}
		if cfg.Separation.Command == "" {
			slog.Warn("No separation command configured, split needs --model")
		}

		slog.Info("Configuration is valid")
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Configuration is valid")
		return nil
	},
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration values from file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Current Configuration:")
		fmt.Fprintf(out, "  Separation:\n")
		fmt.Fprintf(out, "    Command: %s %s\n", orNone(cfg.Separation.Command), strings.Join(cfg.Separation.Args, " "))
		fmt.Fprintf(out, "    Segment length: %d\n", cfg.Separation.SegmentLength)
		fmt.Fprintf(out, "    Overlap: %.2f\n", cfg.Separation.Overlap)
		fmt.Fprintf(out, "    Power: %.2f\n", cfg.Separation.Power)
		fmt.Fprintf(out, "    Workers: %d\n", cfg.Separation.Workers)
		fmt.Fprintf(out, "  Store:\n")
		fmt.Fprintf(out, "    Dir: %s\n", cfg.Store.Dir)
		fmt.Fprintf(out, "    Keep: %t\n", cfg.Store.Keep)
		fmt.Fprintf(out, "  Playback:\n")
		fmt.Fprintf(out, "    Window: %d\n", cfg.Playback.Window)
		fmt.Fprintf(out, "    Low water: %d\n", cfg.Playback.LowWater)
		fmt.Fprintf(out, "    Buffer: %s\n", cfg.Playback.Buffer)
		fmt.Fprintf(out, "  Output:\n")
		fmt.Fprintf(out, "    Dir: %s\n", cfg.Output.Dir)
		fmt.Fprintf(out, "    Mode: %s\n", cfg.Output.Mode)
		fmt.Fprintf(out, "    Precision: %d bytes\n", cfg.Output.Precision)
		fmt.Fprintf(out, "    Package: %t (%s, %s %s)\n", cfg.Output.Package, cfg.Output.FFmpeg, cfg.Output.Codec, cfg.Output.Bitrate)
		for _, s := range cfg.Stems() {
			fmt.Fprintf(out, "    Stem: %-8s %s\n", s.Name, s.Hex())
		}
		fmt.Fprintf(out, "  Catalog:\n")
		fmt.Fprintf(out, "    Enabled: %t\n", cfg.Catalog.Enabled)
		fmt.Fprintf(out, "    Path: %s\n", cfg.Catalog.Path)
		fmt.Fprintf(out, "  Logging:\n")
		fmt.Fprintf(out, "    Level: %s\n", cfg.Logging.Level)
		fmt.Fprintf(out, "    Format: %s\n", cfg.Logging.Format)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// orNone returns "(none)" for empty values
func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
