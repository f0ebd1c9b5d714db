// Package config loads pipeline configuration from YAML files, ASTROPHOT_*
// environment variables and command-line flags.
//
// Precedence, highest first: flags that were set explicitly, environment,
// the config file, then pipeline.DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/astrophot/internal/pipeline"
)

// EnvPrefix prefixes every environment override, e.g. ASTROPHOT_FWHM or
// ASTROPHOT_CALIBRATION_URL.
const EnvPrefix = "ASTROPHOT"

// FileName is the config file searched for when no path is given.
const FileName = "astrophot"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"image":           "image_path",
	"fwhm":            "fwhm",
	"threshold":       "detection_threshold",
	"aperture":        "aperture_radius",
	"annulus-inner":   "annulus_inner",
	"annulus-outer":   "annulus_outer",
	"sigma-clip":      "sigma_clip",
	"max-iters":       "max_iters",
	"exclude-border":  "exclude_border",
	"exposure":        "exposure_time",
	"mag-system":      "mag_system",
	"calibration-url": "calibration.url",
	"instrument":      "calibration.instrument",
	"filter":          "calibration.filter",
	"date":            "calibration.date",
	"workers":         "workers",
}

// Load builds a pipeline.Config.
//
// When path is empty the working directory and $HOME/.config/astrophot are
// searched for astrophot.yaml; a missing file is not an error in that case.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (pipeline.Config, error) {
	v := viper.New()
	setDefaults(v, pipeline.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return pipeline.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "astrophot"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return pipeline.Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return pipeline.Config{}, err
		}
	}

	var cfg pipeline.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return pipeline.Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d pipeline.Config) {
	v.SetDefault("image_path", d.ImagePath)
	v.SetDefault("region_bounds.rows.start", d.RegionBounds.Rows.Start)
	v.SetDefault("region_bounds.rows.end", d.RegionBounds.Rows.End)
	v.SetDefault("region_bounds.cols.start", d.RegionBounds.Cols.Start)
	v.SetDefault("region_bounds.cols.end", d.RegionBounds.Cols.End)
	v.SetDefault("fwhm", d.FWHM)
	v.SetDefault("detection_threshold", d.DetectionThreshold)
	v.SetDefault("aperture_radius", d.ApertureRadius)
	v.SetDefault("annulus_inner", d.AnnulusInner)
	v.SetDefault("annulus_outer", d.AnnulusOuter)
	v.SetDefault("sigma_clip", d.SigmaClip)
	v.SetDefault("max_iters", d.MaxIters)
	v.SetDefault("sharp_lo", d.SharpLo)
	v.SetDefault("sharp_hi", d.SharpHi)
	v.SetDefault("round_lo", d.RoundLo)
	v.SetDefault("round_hi", d.RoundHi)
	v.SetDefault("exclude_border", d.ExcludeBorder)
	v.SetDefault("exposure_time", d.ExposureTime)
	v.SetDefault("mag_system", d.MagSystem)
	v.SetDefault("calibration.url", d.Calibration.URL)
	v.SetDefault("calibration.timeout", d.Calibration.Timeout)
	v.SetDefault("calibration.cache_ttl", d.Calibration.CacheTTL)
	v.SetDefault("calibration.instrument", d.Calibration.Instrument)
	v.SetDefault("calibration.filter", d.Calibration.Filter)
	v.SetDefault("calibration.date", d.Calibration.Date)
	v.SetDefault("workers", d.Workers)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// AsYAML renders cfg in the config file format.
func AsYAML(cfg pipeline.Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

// WriteFile writes cfg to path as YAML.
func WriteFile(path string, cfg pipeline.Config) error {
	out, err := AsYAML(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
