package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/astrophot/internal/config"
	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/logging"
	"github.com/ironsheep/astrophot/internal/pipeline"
)

// addPipelineFlags defines the flags that override configuration keys. Flag
// defaults are zero; only flags set on the command line take effect.
func addPipelineFlags(fs *pflag.FlagSet) {
	fs.Float64("fwhm", 0, "Expected stellar FWHM in pixels")
	fs.Float64("threshold", 0, "Detection threshold in background standard deviations")
	fs.Float64("aperture", 0, "Aperture radius in pixels")
	fs.Float64("annulus-inner", 0, "Inner sky annulus radius in pixels")
	fs.Float64("annulus-outer", 0, "Outer sky annulus radius in pixels")
	fs.Float64("sigma-clip", 0, "Sigma-clipping threshold")
	fs.Int("max-iters", 0, "Maximum sigma-clipping passes")
	fs.Bool("exclude-border", false, "Skip sources whose kernel footprint leaves the region")
	fs.Float64("exposure", 0, "Exposure time in seconds, overriding EXPTIME")
	fs.String("mag-system", "", "Magnitude system for zero-point lookups")
	fs.String("calibration-url", "", "Base URL of the zero-point service")
	fs.String("instrument", "", "Instrument override for calibration")
	fs.String("filter", "", "Filter override for calibration")
	fs.String("date", "", "Observation date override for calibration")
	fs.Int("workers", 0, "Images processed concurrently")
}

// loadConfig reads the configuration and applies region flags.
func loadConfig(g *globalFlags, cmd *cobra.Command) (pipeline.Config, error) {
	cfg, err := config.Load(g.configPath, cmd.Flags())
	if err != nil {
		return pipeline.Config{}, err
	}

	fs := cmd.Flags()
	if fs.Lookup("rows") == nil {
		return cfg, nil
	}
	rows, _ := fs.GetString("rows")
	cols, _ := fs.GetString("cols")
	if rows != "" {
		if cfg.RegionBounds.Rows, err = parseRange(rows); err != nil {
			return pipeline.Config{}, fmt.Errorf("--rows: %w", err)
		}
	}
	if cols != "" {
		if cfg.RegionBounds.Cols, err = parseRange(cols); err != nil {
			return pipeline.Config{}, fmt.Errorf("--cols: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// parseRange parses "start:end" into a half-open range.
func parseRange(s string) (imaging.Range, error) {
	var r imaging.Range
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &r.Start, &r.End); err != nil {
		return imaging.Range{}, fmt.Errorf("invalid range %q, want start:end", s)
	}
	if r.Start < 0 || r.End <= r.Start {
		return imaging.Range{}, fmt.Errorf("invalid range %q: need 0 <= start < end", s)
	}
	return r, nil
}

func runCommand(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run [image.fits ...]",
		Short: "Detect sources and measure photometry",
		Long: "Run region extraction, background estimation, source detection, zero-point " +
			"lookup and aperture photometry on one or more FITS images. Without arguments " +
			"the image_path from the configuration is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, cmd)
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				if cfg.ImagePath == "" {
					return fmt.Errorf("no image given and image_path not configured")
				}
				paths = []string{cfg.ImagePath}
			}

			logger := slog.Default()
			svc, err := pipeline.NewCalibrationService(cfg.Calibration, logger)
			if err != nil {
				return err
			}
			if svc == nil {
				logging.ForService("run").Warn("no calibration source configured; magnitudes will be omitted")
			}
			runner, err := pipeline.NewRunner(cfg, pipeline.WithCalibration(svc), pipeline.WithLogger(logger))
			if err != nil {
				return err
			}

			results, err := runner.RunBatch(cmd.Context(), paths)
			if err != nil {
				return err
			}
			return writeResults(cmd.OutOrStdout(), output, results)
		},
	}

	addPipelineFlags(cmd.Flags())
	cmd.Flags().String("rows", "", "Row range start:end (default: all rows)")
	cmd.Flags().String("cols", "", "Column range start:end (default: all columns)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}

func writeResults(w io.Writer, format string, results []*pipeline.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(results)
	case "table":
		return writeTable(w, results)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeTable(w io.Writer, results []*pipeline.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, res := range results {
		fmt.Fprintf(w, "# %s  sky=%.3f  sigma=%.3f  sources=%d", res.ImagePath,
			res.Background.Median, res.Background.StdDev, len(res.Sources))
		if res.ZeroPoint != nil {
			fmt.Fprintf(w, "  zp=%.4f (%s, MJD %.1f)", res.ZeroPoint.ZeroPoint, res.ZeroPoint.System, res.ZeroPoint.MJD)
		}
		fmt.Fprintln(w)
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "# warning: %s\n", warn)
		}

		fmt.Fprintln(tw, "id\tx\ty\tpeak\tsharp\tround1\tnet_flux\tmag\tflags\t")
		for i, p := range res.Photometry {
			src := res.Sources[i]
			mag := "-"
			if p.Magnitude != nil {
				mag = fmt.Sprintf("%.4f", *p.Magnitude)
			}
			fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%.2f\t%.3f\t%.3f\t%.2f\t%s\t%s\t\n",
				src.ID, src.X, src.Y, src.Peak, src.Sharpness, src.Roundness1, p.NetFlux, mag, p.Flags)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func configCommand(g *globalFlags) *cobra.Command {
	var writePath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: "Print the configuration that results from defaults, the config file, " +
			"ASTROPHOT_* environment variables and flags. With --write, save it instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, cmd)
			if err != nil {
				return err
			}
			if writePath != "" {
				if err := config.WriteFile(writePath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", writePath)
				return nil
			}
			out, err := config.AsYAML(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addPipelineFlags(cmd.Flags())
	cmd.Flags().StringVar(&writePath, "write", "", "Write the effective configuration to this YAML file")
	return cmd
}
