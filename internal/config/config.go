// Package config provides unified configuration loading for fmridesign.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/fmridesign/internal/hrf"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

// DirName is the per-user directory holding config, catalog and journal.
const DirName = ".fmridesign"

// FileName is the config file inside DirName.
const FileName = "config.yaml"

// Config contains all fmridesign configuration settings.
type Config struct {
	// HRF contains the default two-gamma kernel parameters.
	HRF HRFConfig `json:"hrf" yaml:"hrf"`

	// Conversion contains settings for protocol unit conversion.
	Conversion ConversionConfig `json:"conversion" yaml:"conversion"`

	// Design contains defaults applied by design build.
	Design DesignConfig `json:"design" yaml:"design"`

	// Catalog contains settings for the document catalog.
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Logging contains settings for operational logging and the journal.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// HRFConfig holds kernel parameters in seconds.
type HRFConfig struct {
	PeakDelay            float64 `json:"peak_delay" yaml:"peak_delay"`
	UndershootDelay      float64 `json:"undershoot_delay" yaml:"undershoot_delay"`
	PeakDispersion       float64 `json:"peak_dispersion" yaml:"peak_dispersion"`
	UndershootDispersion float64 `json:"undershoot_dispersion" yaml:"undershoot_dispersion"`
	Ratio                float64 `json:"ratio" yaml:"ratio"`
	Onset                float64 `json:"onset" yaml:"onset"`
	Length               float64 `json:"length" yaml:"length"`

	// Normalization is "none" (default), "sum" or "peak".
	Normalization string `json:"normalization" yaml:"normalization"`
}

// Params converts the section into kernel parameters.
func (c HRFConfig) Params() (hrf.Params, error) {
	norm, err := hrf.ParseNormalization(c.Normalization)
	if err != nil {
		return hrf.Params{}, err
	}
	p := hrf.Params{
		PeakDelay:            c.PeakDelay,
		UndershootDelay:      c.UndershootDelay,
		PeakDispersion:       c.PeakDispersion,
		UndershootDispersion: c.UndershootDispersion,
		Ratio:                c.Ratio,
		Onset:                c.Onset,
		Length:               c.Length,
		Normalization:        norm,
	}
	return p, p.Validate()
}

// ConversionConfig configures volume/millisecond conversion.
type ConversionConfig struct {
	// Rounding is "nearest" (default), "floor" or "reject".
	Rounding string `json:"rounding" yaml:"rounding"`

	// TR is the default repetition time in milliseconds, 0 for none.
	TR float64 `json:"tr" yaml:"tr"`
}

// RoundingPolicy parses Rounding.
func (c ConversionConfig) RoundingPolicy() (protocol.Rounding, error) {
	return protocol.ParseRounding(c.Rounding)
}

// DesignConfig holds defaults for building design matrices.
type DesignConfig struct {
	// Convolve applies the HRF to every condition predictor.
	Convolve bool `json:"convolve" yaml:"convolve"`

	// AddConstant appends the all-ones column.
	AddConstant bool `json:"add_constant" yaml:"add_constant"`

	// Derivatives is the highest derivative order added as confounds (0-2).
	Derivatives int `json:"derivatives" yaml:"derivatives"`

	// ZTransform standardises every non-constant column.
	ZTransform bool `json:"z_transform" yaml:"z_transform"`
}

// CatalogConfig configures the document catalog.
type CatalogConfig struct {
	// Path is the SQLite file, empty for ~/.fmridesign/catalog.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig configures fmridesign's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" and "trace" also write the pipeline journal.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	p := hrf.DefaultParams()
	return &Config{
		HRF: HRFConfig{
			PeakDelay:            p.PeakDelay,
			UndershootDelay:      p.UndershootDelay,
			PeakDispersion:       p.PeakDispersion,
			UndershootDispersion: p.UndershootDispersion,
			Ratio:                p.Ratio,
			Onset:                p.Onset,
			Length:               p.Length,
			Normalization:        p.Normalization.String(),
		},
		Conversion: ConversionConfig{
			Rounding: protocol.RoundNearest.String(),
		},
		Design: DesignConfig{
			Convolve:    true,
			AddConstant: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns ~/.fmridesign.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// DefaultPath returns ~/.fmridesign/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.fmridesign/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	// Try to load from default config file
	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Catalog.Path = expandEnvVars(config.Catalog.Path)

	return config, nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.HRF.Params(); err != nil {
		return err
	}

	if _, err := c.Conversion.RoundingPolicy(); err != nil {
		return err
	}
	if c.Conversion.TR < 0 {
		return fmt.Errorf("tr must be non-negative, got %g", c.Conversion.TR)
	}

	if c.Design.Derivatives < 0 || c.Design.Derivatives > 2 {
		return fmt.Errorf("derivatives must be between 0 and 2, got %d", c.Design.Derivatives)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// CatalogPath returns the configured catalog file or the default one.
func (c *Config) CatalogPath() (string, error) {
	if c.Catalog.Path != "" {
		return c.Catalog.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FMRIDESIGN_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("FMRIDESIGN_ROUNDING"); v != "" {
		config.Conversion.Rounding = v
	}

	if v := os.Getenv("FMRIDESIGN_TR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Conversion.TR = f
		}
	}

	if v := os.Getenv("FMRIDESIGN_CATALOG"); v != "" {
		config.Catalog.Path = v
	}

	if v := os.Getenv("FMRIDESIGN_HRF_NORMALIZATION"); v != "" {
		config.HRF.Normalization = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
