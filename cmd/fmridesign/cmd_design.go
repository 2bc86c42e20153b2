package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/fmridesign/internal/columnar"
	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/protocol"
)

func newDesignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Build and inspect design matrices (.sdm)",
	}
	cmd.AddCommand(
		newDesignBuildCmd(),
		newDesignShowCmd(),
		newDesignDeriveCmd(),
		newDesignExportCmd(),
	)
	return cmd
}

// loadMatrix reads a .sdm file or an Arrow export.
func loadMatrix(path string) (*design.Matrix, error) {
	if strings.EqualFold(filepath.Ext(path), columnar.Ext) {
		return columnar.Import(path)
	}
	return design.Load(path)
}

func newDesignBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <file.prt>",
		Short: "Expand a protocol into a design matrix",
		Long: `Expand every protocol condition into predictors over a run of
--data-points volumes, then apply the configured transforms in order:
HRF convolution, derivative confounds, z-transform, constant.

Parametric conditions produce a "[Main]" and a "[Parametric]" column.

Examples:
  fmridesign design build run1.prt --data-points 240 --tr 2000
  fmridesign design build run1.prt -n 240 --derivatives 1 --z --arrow
  fmridesign design build run1.prt -n 240 --no-convolve --no-constant`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dataPoints, _ := cmd.Flags().GetInt("data-points")
			tr, _ := cmd.Flags().GetFloat64("tr")
			output, _ := cmd.Flags().GetString("output")
			rounding, _ := cmd.Flags().GetString("rounding")
			arrowOut, _ := cmd.Flags().GetBool("arrow")
			store, _ := cmd.Flags().GetBool("catalog")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if tr == 0 {
				tr = cfg.Conversion.TR
			}
			r, err := protocol.ParseRounding(valueOrDefault(rounding, cfg.Conversion.Rounding))
			if err != nil {
				return err
			}
			params, err := cfg.HRF.Params()
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			journal := openJournal(cfg)
			defer journal.Close()

			opts := design.BuildOptions{
				Convolve:    cfg.Design.Convolve,
				HRF:         params,
				Rounding:    r,
				Derivatives: cfg.Design.Derivatives,
				ZTransform:  cfg.Design.ZTransform,
				AddConstant: cfg.Design.AddConstant,
				Logger:      logger,
				Journal:     journal,
			}
			if noConvolve, _ := cmd.Flags().GetBool("no-convolve"); noConvolve {
				opts.Convolve = false
			}
			if noConstant, _ := cmd.Flags().GetBool("no-constant"); noConstant {
				opts.AddConstant = false
			}
			if cmd.Flags().Changed("derivatives") {
				opts.Derivatives, _ = cmd.Flags().GetInt("derivatives")
			}
			if cmd.Flags().Changed("z") {
				opts.ZTransform, _ = cmd.Flags().GetBool("z")
			}

			prot, err := protocol.Load(args[0])
			if err != nil {
				return err
			}
			m, err := design.Build(prot, dataPoints, tr, opts)
			if err != nil {
				return err
			}

			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + design.Ext
			}
			written, err := m.Save(output)
			if err != nil {
				return err
			}
			journal.Record("save", map[string]any{"path": filepath.Base(written), "predictors": m.Len()})

			result := map[string]any{
				"path":           written,
				"predictors":     m.Names(),
				"data_points":    m.DataPoints(),
				"first_confound": m.FirstConfound(),
				"constant":       m.HasConstant(),
			}

			if arrowOut {
				arrowPath, err := columnar.Export(strings.TrimSuffix(written, design.Ext)+columnar.Ext, m)
				if err != nil {
					return err
				}
				result["arrow_path"] = arrowPath
			}

			if store {
				cat, err := openCatalog(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer cat.Close()
				if _, _, err := cat.PutProtocol(cmd.Context(), filepath.Base(args[0]), prot, tags...); err != nil {
					return err
				}
				id, _, err := cat.PutDesign(cmd.Context(), filepath.Base(written), m, tags...)
				if err != nil {
					return err
				}
				result["catalog_id"] = id
			}

			if jsonOut {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d predictors x %d data points to %s\n", m.Len(), m.DataPoints(), written)
			if p, ok := result["arrow_path"]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Arrow export: %s\n", p)
			}
			if id, ok := result["catalog_id"]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Catalog id:   %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().IntP("data-points", "n", 0, "Number of volumes in the run (required)")
	cmd.Flags().Float64("tr", 0, "Repetition time in milliseconds (default from config)")
	cmd.Flags().StringP("output", "o", "", "Output .sdm file (default: protocol name with .sdm)")
	cmd.Flags().String("rounding", "", "msec to volume rounding: nearest, floor or reject (default from config)")
	cmd.Flags().Bool("no-convolve", false, "Keep boxcar predictors")
	cmd.Flags().Bool("no-constant", false, "Do not append the constant column")
	cmd.Flags().Int("derivatives", 0, "Add derivative confounds up to this order (0-2)")
	cmd.Flags().Bool("z", false, "z-transform every non-constant column")
	cmd.Flags().Bool("arrow", false, "Also export the matrix as an Arrow IPC file")
	cmd.Flags().Bool("catalog", false, "Store the protocol and the matrix in the catalog")
	cmd.Flags().StringSlice("tag", nil, "Catalog tags (with --catalog)")
	cmd.MarkFlagRequired("data-points")
	return cmd
}

type predictorView struct {
	Name     string  `json:"name"`
	Colour   string  `json:"colour"`
	Confound bool    `json:"confound"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

func describeMatrix(m *design.Matrix) []predictorView {
	first, confounds := m.FirstConfound()-1, len(m.ConfoundPredictors())
	views := make([]predictorView, 0, m.Len())
	for i, p := range m.Predictors() {
		v := predictorView{
			Name:     p.Name,
			Colour:   p.Colour.String(),
			Confound: i >= first && i < first+confounds,
		}
		if p.Len() > 0 {
			v.Mean, v.Std = stat.PopMeanStdDev(p.Values, nil)
			v.Min, v.Max = floats.Min(p.Values), floats.Max(p.Values)
		}
		views = append(views, v)
	}
	return views
}

func newDesignShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file.sdm|file.arrow>",
		Short: "Describe the columns of a design matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			m, err := loadMatrix(args[0])
			if err != nil {
				return err
			}
			views := describeMatrix(m)

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"data_points":    m.DataPoints(),
					"first_confound": m.FirstConfound(),
					"constant":       m.HasConstant(),
					"tr":             m.TR,
					"transformation": m.Transformation.String(),
					"predictors":     views,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Data points:    %d\n", m.DataPoints())
			fmt.Fprintf(out, "First confound: %d\n", m.FirstConfound())
			fmt.Fprintf(out, "Constant:       %v\n\n", m.HasConstant())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tPREDICTOR\tCONFOUND\tMEAN\tSTD\tMIN\tMAX")
			for i, v := range views {
				fmt.Fprintf(tw, "%d\t%s\t%v\t%.4f\t%.4f\t%.4f\t%.4f\n", i+1, v.Name, v.Confound, v.Mean, v.Std, v.Min, v.Max)
			}
			return tw.Flush()
		},
	}
}

func newDesignDeriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive <file.sdm>",
		Short: "Append derivative confounds to an existing design matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			order, _ := cmd.Flags().GetInt("order")
			output, _ := cmd.Flags().GetString("output")

			m, err := design.Load(args[0])
			if err != nil {
				return err
			}
			before := m.Len()
			if err := m.AddDerivatives(order); err != nil {
				return err
			}
			written, err := m.Save(valueOrDefault(output, args[0]))
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"path": written, "added": m.Len() - before, "predictors": m.Names()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d derivative confounds to %s\n", m.Len()-before, written)
			return nil
		},
	}
	cmd.Flags().Int("order", 1, "Derivative order (1 or 2)")
	cmd.Flags().StringP("output", "o", "", "Output file (default: overwrite input)")
	return cmd
}

func newDesignExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file.sdm>",
		Short: "Export a design matrix as an Arrow IPC file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")

			m, err := design.Load(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + columnar.Ext
			}
			written, err := columnar.Export(output, m)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"path": written, "predictors": m.Len(), "data_points": m.DataPoints()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d predictors to %s\n", m.Len(), written)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output .arrow file (default: input name with .arrow)")
	return cmd
}
