package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/pipeline"
	"github.com/ironsheep/astrophot/internal/render"
)

func headerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "header <image.fits> [KEY ...]",
		Short: "Print FITS header cards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := imaging.Load(args[0])
			if err != nil {
				return err
			}
			keys := args[1:]
			if len(keys) == 0 {
				keys = img.HeaderKeys()
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, k := range keys {
				v, ok := img.Header(k)
				if !ok {
					v = "(missing)"
				}
				fmt.Fprintf(tw, "%s\t%s\n", k, v)
			}
			return tw.Flush()
		},
	}
}

func cutoutCommand() *cobra.Command {
	var rows, cols string

	cmd := &cobra.Command{
		Use:   "cutout <image.fits> <out.fits>",
		Short: "Write a region of an image to a new FITS file",
		Long: "Copy a rectangular region and the header to a new FITS file. LTV1/LTV2 " +
			"record the offset back to the parent frame.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := imaging.Load(args[0])
			if err != nil {
				return err
			}
			b, err := parseBounds(img, rows, cols)
			if err != nil {
				return err
			}
			region, err := imaging.Extract(img, b.Rows, b.Cols)
			if err != nil {
				return err
			}
			if err := imaging.Save(args[1], region.Cutout()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %dx%d cutout to %s\n", region.Cols(), region.Rows(), args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&rows, "rows", "", "Row range start:end (required)")
	cmd.Flags().StringVar(&cols, "cols", "", "Column range start:end (required)")
	_ = cmd.MarkFlagRequired("rows")
	_ = cmd.MarkFlagRequired("cols")
	return cmd
}

// parseBounds resolves --rows/--cols against img; an empty flag spans the
// whole axis.
func parseBounds(img *imaging.Image, rows, cols string) (pipeline.RegionBounds, error) {
	b := pipeline.RegionBounds{
		Rows: imaging.Range{Start: 0, End: img.Height()},
		Cols: imaging.Range{Start: 0, End: img.Width()},
	}
	var err error
	if rows != "" {
		if b.Rows, err = parseRange(rows); err != nil {
			return b, fmt.Errorf("--rows: %w", err)
		}
	}
	if cols != "" {
		if b.Cols, err = parseRange(cols); err != nil {
			return b, fmt.Errorf("--cols: %w", err)
		}
	}
	return b, nil
}

func renderCommand(g *globalFlags) *cobra.Command {
	var (
		rows, cols  string
		stretch     string
		colormap    string
		scale       int
		showSources bool
		labels      bool
	)

	cmd := &cobra.Command{
		Use:   "render <image.fits> <out.png>",
		Short: "Render an image region to PNG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := imaging.Load(args[0])
			if err != nil {
				return err
			}
			b, err := parseBounds(img, rows, cols)
			if err != nil {
				return err
			}
			region, err := imaging.Extract(img, b.Rows, b.Cols)
			if err != nil {
				return err
			}

			opts := render.Options{
				Stretch:  render.Stretch(stretch),
				Colormap: colormap,
				Scale:    scale,
				Labels:   labels,
			}
			if showSources {
				cfg, err := loadConfig(g, cmd)
				if err != nil {
					return err
				}
				runner, err := pipeline.NewRunner(cfg)
				if err != nil {
					return err
				}
				det, err := runner.Detect(cmd.Context(), region)
				if err != nil {
					return err
				}
				opts.Sources = det.Sources
				opts.ApertureRadius = cfg.ApertureRadius
				opts.AnnulusInner = cfg.AnnulusInner
				opts.AnnulusOuter = cfg.AnnulusOuter
			}

			if err := render.SavePNG(args[1], region, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
			return nil
		},
	}

	addPipelineFlags(cmd.Flags())
	cmd.Flags().StringVar(&rows, "rows", "", "Row range start:end (default: all rows)")
	cmd.Flags().StringVar(&cols, "cols", "", "Column range start:end (default: all columns)")
	cmd.Flags().StringVar(&stretch, "stretch", "linear", "Intensity stretch: linear, log, asinh")
	cmd.Flags().StringVar(&colormap, "colormap", "gray", "Colormap: gray, heat")
	cmd.Flags().IntVar(&scale, "scale", 1, "Integer magnification")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Detect sources and draw their apertures")
	cmd.Flags().BoolVar(&labels, "labels", false, "Label drawn sources with their IDs")
	return cmd
}
