package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fmridesign/internal/contrast"
	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/study"
	"github.com/nvandessel/fmridesign/internal/textfmt"
	"github.com/nvandessel/fmridesign/internal/voi"
)

func newContrastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contrast",
		Short: "Read and write contrast definitions (.ctr)",
	}
	cmd.AddCommand(newContrastShowCmd(), newContrastAddCmd())
	return cmd
}

func newContrastShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file.ctr>",
		Short: "Print the contrasts of a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			d, err := contrast.Load(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"values": d.NrOfValues(), "contrasts": d.Contrasts()})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTRAST\tWEIGHTS")
			for _, c := range d.Contrasts() {
				weights := make([]string, len(c.Weights))
				for i, w := range c.Weights {
					weights[i] = strconv.Itoa(w)
				}
				fmt.Fprintf(tw, "%s\t%s\n", c.Name, strings.Join(weights, " "))
			}
			return tw.Flush()
		},
	}
}

// parseWeights reads "Predictor=weight" pairs.
func parseWeights(pairs []string) (map[string]int, error) {
	weights := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid weight %q (want name=weight)", pair)
		}
		w, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", pair, err)
		}
		weights[strings.TrimSpace(name)] = w
	}
	return weights, nil
}

func newContrastAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <file.ctr> <name>",
		Short: "Append a contrast over the columns of a design matrix",
		Long: `Append a named contrast to a definition, creating the file when it
does not exist. Weights name columns of the design matrix given with
--design; unnamed columns get 0.

Example:
  fmridesign contrast add run1.ctr "Task>Rest" --design run1.sdm -w Task=1 -w Rest=-1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			designPath, _ := cmd.Flags().GetString("design")
			pairs, _ := cmd.Flags().GetStringArray("weight")

			m, err := design.Load(designPath)
			if err != nil {
				return err
			}
			weights, err := parseWeights(pairs)
			if err != nil {
				return err
			}
			c, err := contrast.FromWeights(args[1], m.Names(), weights)
			if err != nil {
				return err
			}

			path := textfmt.EnsureExt(args[0], contrast.Ext)
			d, err := contrast.Load(path)
			if errors.Is(err, fs.ErrNotExist) {
				d, err = contrast.New(), nil
			}
			if err != nil {
				return err
			}
			if err := d.Add(c); err != nil {
				return err
			}
			written, err := d.Save(path)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"path": written, "contrast": c, "contrasts": d.Len()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added contrast %q to %s (%d contrasts)\n", c.Name, written, d.Len())
			return nil
		},
	}
	cmd.Flags().String("design", "", "Design matrix whose columns the weights refer to (required)")
	cmd.Flags().StringArrayP("weight", "w", nil, "Column weight as name=weight (repeatable)")
	cmd.MarkFlagRequired("design")
	return cmd
}

func newStudyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Read multi-study design lists (.mdm)",
	}
	cmd.AddCommand(newStudyShowCmd())
	return cmd
}

type studyView struct {
	Files []string `json:"files"`
	SDM   string   `json:"sdm"`
}

func newStudyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <file.mdm>",
		Short: "List the studies of a multi-study design",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			check, _ := cmd.Flags().GetBool("check")

			l, err := study.Load(args[0])
			if err != nil {
				return err
			}
			if check {
				if _, err := l.LoadDesigns(); err != nil {
					return err
				}
			}

			views := make([]studyView, 0, l.Len())
			for _, s := range l.Studies() {
				views = append(views, studyView{Files: s.Source.Files(), SDM: s.SDM})
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"type":                l.DataType().String(),
					"rfx_glm":             l.RFXGLM,
					"transformation":      l.Transformation.String(),
					"separate_predictors": l.SeparatePredictors,
					"studies":             views,
					"checked":             check,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Type:           %s\n", l.DataType())
			fmt.Fprintf(out, "RFX GLM:        %v\n", l.RFXGLM)
			fmt.Fprintf(out, "Transformation: %s\n\n", l.Transformation)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tDATA\tDESIGN")
			for i, v := range views {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, strings.Join(v.Files, " "), v.SDM)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if check {
				fmt.Fprintln(out, "\nAll design matrices load and share predictor names.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "Load every design matrix and check predictor names match")
	return cmd
}

func newVOICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voi",
		Short: "Read volume-of-interest definitions (.voi)",
	}
	cmd.AddCommand(newVOIShowCmd())
	return cmd
}

type voiView struct {
	Name     string     `json:"name"`
	Colour   string     `json:"colour"`
	Voxels   int        `json:"voxels"`
	Centroid [3]float64 `json:"centroid"`
}

func newVOIShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file.voi>",
		Short: "List the regions of a VOI definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			d, err := voi.Load(args[0])
			if err != nil {
				return err
			}
			views := make([]voiView, 0, d.Len())
			for _, v := range d.VOIs() {
				views = append(views, voiView{
					Name:     v.Name,
					Colour:   v.Colour.String(),
					Voxels:   len(v.Voxels),
					Centroid: v.Centroid(),
				})
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"reference_space": d.ReferenceSpace,
					"vois":            views,
					"vtcs":            d.VTCs,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reference space: %s\n\n", d.ReferenceSpace)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VOI\tVOXELS\tCENTROID\tCOLOUR")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%d\t%.1f %.1f %.1f\t%s\n", v.Name, v.Voxels, v.Centroid[0], v.Centroid[1], v.Centroid[2], v.Colour)
			}
			return tw.Flush()
		},
	}
}
