package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fmridesign/internal/config"
	"github.com/nvandessel/fmridesign/internal/hrf"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage fmridesign configuration",
		Long: `View and modify fmridesign configuration settings.

Configuration is stored in ~/.fmridesign/config.yaml.

Examples:
  fmridesign config list                          # Show all settings
  fmridesign config get conversion.tr             # Get a specific setting
  fmridesign config set conversion.tr 2000        # Set a setting
  fmridesign config set hrf.normalization peak`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, cfg)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "HRF Settings:")
			fmt.Fprintf(out, "  hrf.peak_delay:            %g\n", cfg.HRF.PeakDelay)
			fmt.Fprintf(out, "  hrf.undershoot_delay:      %g\n", cfg.HRF.UndershootDelay)
			fmt.Fprintf(out, "  hrf.peak_dispersion:       %g\n", cfg.HRF.PeakDispersion)
			fmt.Fprintf(out, "  hrf.undershoot_dispersion: %g\n", cfg.HRF.UndershootDispersion)
			fmt.Fprintf(out, "  hrf.ratio:                 %g\n", cfg.HRF.Ratio)
			fmt.Fprintf(out, "  hrf.onset:                 %g\n", cfg.HRF.Onset)
			fmt.Fprintf(out, "  hrf.length:                %g\n", cfg.HRF.Length)
			fmt.Fprintf(out, "  hrf.normalization:         %s\n", valueOrDefault(cfg.HRF.Normalization, "none"))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Conversion Settings:")
			fmt.Fprintf(out, "  conversion.rounding:       %s\n", valueOrDefault(cfg.Conversion.Rounding, "nearest"))
			if cfg.Conversion.TR > 0 {
				fmt.Fprintf(out, "  conversion.tr:             %g\n", cfg.Conversion.TR)
			} else {
				fmt.Fprintf(out, "  conversion.tr:             (not set)\n")
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Design Settings:")
			fmt.Fprintf(out, "  design.convolve:           %v\n", cfg.Design.Convolve)
			fmt.Fprintf(out, "  design.add_constant:       %v\n", cfg.Design.AddConstant)
			fmt.Fprintf(out, "  design.derivatives:        %d\n", cfg.Design.Derivatives)
			fmt.Fprintf(out, "  design.z_transform:        %v\n", cfg.Design.ZTransform)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  catalog.path:              %s\n", valueOrDefault(cfg.Catalog.Path, "(default)"))
			fmt.Fprintf(out, "  logging.level:             %s\n", valueOrDefault(cfg.Logging.Level, "info"))
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			value, ok := getConfigValue(cfg, key)
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"key": key, "value": value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"key": key, "value": value, "status": "saved"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

// getConfigValue returns a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (any, bool) {
	switch key {
	case "hrf.peak_delay":
		return cfg.HRF.PeakDelay, true
	case "hrf.undershoot_delay":
		return cfg.HRF.UndershootDelay, true
	case "hrf.peak_dispersion":
		return cfg.HRF.PeakDispersion, true
	case "hrf.undershoot_dispersion":
		return cfg.HRF.UndershootDispersion, true
	case "hrf.ratio":
		return cfg.HRF.Ratio, true
	case "hrf.onset":
		return cfg.HRF.Onset, true
	case "hrf.length":
		return cfg.HRF.Length, true
	case "hrf.normalization":
		return cfg.HRF.Normalization, true
	case "conversion.rounding":
		return cfg.Conversion.Rounding, true
	case "conversion.tr":
		return cfg.Conversion.TR, true
	case "design.convolve":
		return cfg.Design.Convolve, true
	case "design.add_constant":
		return cfg.Design.AddConstant, true
	case "design.derivatives":
		return cfg.Design.Derivatives, true
	case "design.z_transform":
		return cfg.Design.ZTransform, true
	case "catalog.path":
		return cfg.Catalog.Path, true
	case "logging.level":
		return cfg.Logging.Level, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	float := func(dst *float64) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		*dst = f
		return nil
	}
	boolean := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s", key, value)
		}
		*dst = b
		return nil
	}

	switch key {
	case "hrf.peak_delay":
		return float(&cfg.HRF.PeakDelay)
	case "hrf.undershoot_delay":
		return float(&cfg.HRF.UndershootDelay)
	case "hrf.peak_dispersion":
		return float(&cfg.HRF.PeakDispersion)
	case "hrf.undershoot_dispersion":
		return float(&cfg.HRF.UndershootDispersion)
	case "hrf.ratio":
		return float(&cfg.HRF.Ratio)
	case "hrf.onset":
		return float(&cfg.HRF.Onset)
	case "hrf.length":
		return float(&cfg.HRF.Length)
	case "hrf.normalization":
		if _, err := hrf.ParseNormalization(value); err != nil {
			return err
		}
		cfg.HRF.Normalization = value
	case "conversion.rounding":
		if _, err := protocol.ParseRounding(value); err != nil {
			return err
		}
		cfg.Conversion.Rounding = value
	case "conversion.tr":
		return float(&cfg.Conversion.TR)
	case "design.convolve":
		return boolean(&cfg.Design.Convolve)
	case "design.add_constant":
		return boolean(&cfg.Design.AddConstant)
	case "design.derivatives":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %s", key, value)
		}
		cfg.Design.Derivatives = n
	case "design.z_transform":
		return boolean(&cfg.Design.ZTransform)
	case "catalog.path":
		cfg.Catalog.Path = value
	case "logging.level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
