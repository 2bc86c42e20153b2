package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fmridesign/internal/protocol"
)

func newProtocolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocol",
		Short: "Inspect and transform stimulation protocols (.prt)",
	}
	cmd.AddCommand(
		newProtocolShowCmd(),
		newProtocolConvertCmd(),
		newProtocolCombineCmd(),
		newProtocolEventsCmd(),
	)
	return cmd
}

type conditionView struct {
	Name       string  `json:"name"`
	Colour     string  `json:"colour"`
	Intervals  int     `json:"intervals"`
	Duration   float64 `json:"duration"`
	Parametric bool    `json:"parametric"`
}

func newProtocolShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file.prt>",
		Short: "Summarise a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			prot, err := protocol.Load(args[0])
			if err != nil {
				return err
			}

			views := make([]conditionView, 0, prot.Len())
			for _, c := range prot.Conditions() {
				v := conditionView{
					Name:       c.Name,
					Colour:     c.Colour.String(),
					Intervals:  len(c.Intervals),
					Parametric: c.IsParametric(),
				}
				for _, iv := range c.Intervals {
					v.Duration += prot.Duration(iv)
				}
				views = append(views, v)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"experiment":   prot.Experiment,
					"unit":         prot.Unit().String(),
					"file_version": prot.FileVersion(),
					"parametric":   prot.ParametricWeights,
					"conditions":   views,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Experiment: %s\n", prot.Experiment)
			fmt.Fprintf(out, "Unit:       %s\n", prot.Unit())
			fmt.Fprintf(out, "Version:    %d\n\n", prot.FileVersion())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONDITION\tINTERVALS\tDURATION\tCOLOUR\tPARAMETRIC")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%d\t%g\t%s\t%v\n", v.Name, v.Intervals, v.Duration, v.Colour, v.Parametric)
			}
			return tw.Flush()
		},
	}
}

func newProtocolConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file.prt>",
		Short: "Convert a protocol between volumes and msec",
		Long: `Convert every interval of a protocol to the other time unit.

Volume intervals are 1-based and inclusive: volume v covers
[(v-1)*TR, v*TR) milliseconds. Converting msec back to volumes snaps
onto the volume grid using the rounding policy.

Examples:
  fmridesign protocol convert run1.prt --tr 2000 -o run1_ms.prt
  fmridesign protocol convert run1_ms.prt --tr 2000 --rounding reject`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			tr, _ := cmd.Flags().GetFloat64("tr")
			rounding, _ := cmd.Flags().GetString("rounding")
			output, _ := cmd.Flags().GetString("output")

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

			prot, err := protocol.Load(args[0])
			if err != nil {
				return err
			}
			from := prot.Unit()
			if from == protocol.Volumes {
				err = prot.ConvertToMsec(tr)
			} else {
				err = prot.ConvertToVolumes(tr, r)
			}
			if err != nil {
				return err
			}

			written, err := prot.Save(valueOrDefault(output, args[0]))
			if err != nil {
				return err
			}
			newLogger(cmd, cfg).Debug("protocol converted", "from", from.String(), "to", prot.Unit().String(), "tr", tr)

			if jsonOut {
				return writeJSON(cmd, map[string]any{"path": written, "from": from.String(), "to": prot.Unit().String(), "tr": tr})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %s from %s to %s (TR %g ms)\n", written, from, prot.Unit(), tr)
			return nil
		},
	}
	cmd.Flags().Float64("tr", 0, "Repetition time in milliseconds (default from config)")
	cmd.Flags().String("rounding", "", "msec to volume rounding: nearest, floor or reject (default from config)")
	cmd.Flags().StringP("output", "o", "", "Output file (default: overwrite input)")
	return cmd
}

func newProtocolCombineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "combine <file.prt> <condition> <condition>",
		Short: "Merge two conditions into a new \"a+b\" condition",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			replace, _ := cmd.Flags().GetBool("replace")
			output, _ := cmd.Flags().GetString("output")

			prot, err := protocol.Load(args[0])
			if err != nil {
				return err
			}
			a, ok := prot.Condition(args[1])
			if !ok {
				return fmt.Errorf("condition %q not found", args[1])
			}
			b, ok := prot.Condition(args[2])
			if !ok {
				return fmt.Errorf("condition %q not found", args[2])
			}
			combined, err := a.Combine(b)
			if err != nil {
				return err
			}
			if replace {
				prot.RemoveCondition(a.Name)
				prot.RemoveCondition(b.Name)
			}
			if err := prot.AddCondition(combined); err != nil {
				return err
			}

			written, err := prot.Save(valueOrDefault(output, args[0]))
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"path":       written,
					"condition":  combined.Name,
					"intervals":  len(combined.Intervals),
					"conditions": prot.ConditionNames(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%d intervals) to %s\n", combined.Name, len(combined.Intervals), written)
			return nil
		},
	}
	cmd.Flags().Bool("replace", false, "Remove the two source conditions")
	cmd.Flags().StringP("output", "o", "", "Output file (default: overwrite input)")
	return cmd
}

func newProtocolEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <file.prt>",
		Short: "List every interval ordered by onset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			prot, err := protocol.Load(args[0])
			if err != nil {
				return err
			}
			events := prot.Events()
			if jsonOut {
				return writeJSON(cmd, map[string]any{"unit": prot.Unit().String(), "events": events})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ONSET\tOFFSET\tCONDITION\tWEIGHT")
			for _, e := range events {
				fmt.Fprintf(tw, "%g\t%g\t%s\t%g\n", e.Onset, e.Offset, e.Condition, e.Weight)
			}
			return tw.Flush()
		},
	}
}
