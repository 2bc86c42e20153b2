package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fmridesign/internal/catalog"
	"github.com/nvandessel/fmridesign/internal/contrast"
	"github.com/nvandessel/fmridesign/internal/design"
	"github.com/nvandessel/fmridesign/internal/protocol"
	"github.com/nvandessel/fmridesign/internal/study"
	"github.com/nvandessel/fmridesign/internal/voi"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Store and retrieve documents in the local catalog",
		Long: `The catalog is a SQLite database (~/.fmridesign/catalog.db by default)
holding protocols, design matrices, contrasts, study lists and VOI
definitions. Identical content is stored once. Entries are addressed by
id or by a unique id prefix of at least four characters.

Examples:
  fmridesign catalog add run1.prt --tag subject01
  fmridesign catalog list --kind design
  fmridesign catalog show 3f2a -o restored.sdm
  fmridesign catalog rm 3f2a`,
	}
	cmd.AddCommand(
		newCatalogAddCmd(),
		newCatalogListCmd(),
		newCatalogShowCmd(),
		newCatalogRmCmd(),
	)
	return cmd
}

// summarizeDocument decodes content as kind and describes it. Content that
// does not decode is rejected.
func summarizeDocument(kind catalog.Kind, content []byte) (map[string]any, error) {
	r := bytes.NewReader(content)
	switch kind {
	case catalog.KindProtocol:
		p, err := protocol.Decode(r)
		if err != nil {
			return nil, err
		}
		return catalog.ProtocolSummary(p), nil
	case catalog.KindDesign:
		m, err := design.Decode(r)
		if err != nil {
			return nil, err
		}
		return catalog.DesignSummary(m), nil
	case catalog.KindContrast:
		d, err := contrast.Decode(r)
		if err != nil {
			return nil, err
		}
		return map[string]any{"contrasts": d.Names(), "values": d.NrOfValues()}, nil
	case catalog.KindStudy:
		l, err := study.Decode(r)
		if err != nil {
			return nil, err
		}
		return map[string]any{"studies": l.Len(), "type": l.DataType().String()}, nil
	case catalog.KindVOI:
		d, err := voi.Decode(r)
		if err != nil {
			return nil, err
		}
		return map[string]any{"vois": d.Names(), "reference_space": d.ReferenceSpace}, nil
	}
	return nil, fmt.Errorf("unsupported document kind %q", kind)
}

func newCatalogAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Store files in the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			type added struct {
				ID      string `json:"id"`
				Kind    string `json:"kind"`
				Name    string `json:"name"`
				Created bool   `json:"created"`
			}
			var results []added
			for _, path := range args {
				kind, err := catalog.ParseKind(filepath.Ext(path))
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				content, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				summary, err := summarizeDocument(kind, content)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				id, created, err := cat.Put(cmd.Context(), kind, filepath.Base(path), content, summary, tags)
				if err != nil {
					return err
				}
				logger.Debug("catalog add", "kind", kind, "id", id, "created", created)
				results = append(results, added{ID: id, Kind: string(kind), Name: filepath.Base(path), Created: created})
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"added": results})
			}
			for _, r := range results {
				status := "stored"
				if !r.Created {
					status = "already stored"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%s)\n", r.ID, r.Kind, r.Name, status)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("tag", nil, "Tags to attach")
	return cmd
}

func newCatalogListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			kindArg, _ := cmd.Flags().GetString("kind")
			tag, _ := cmd.Flags().GetString("tag")

			var kind catalog.Kind
			if kindArg != "" {
				k, err := catalog.ParseKind(kindArg)
				if err != nil {
					return err
				}
				kind = k
			}

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.List(cmd.Context(), kind, tag)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"entries": entries, "count": len(entries)})
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No catalog entries.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tNAME\tTAGS\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID[:8], e.Kind, e.Name, strings.Join(e.Tags, ","), e.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("kind", "", "Only list this kind (protocol, design, contrast, study, voi or an extension)")
	cmd.Flags().String("tag", "", "Only list entries with this tag")
	return cmd
}

func newCatalogShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print or restore a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			entry, content, err := cat.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, content, 0644); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
			}

			switch {
			case jsonOut:
				return writeJSON(cmd, map[string]any{"entry": entry, "output": output})
			case output != "":
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s %s to %s\n", entry.Kind, entry.Name, output)
			default:
				_, err = cmd.OutOrStdout().Write(content)
			}
			return err
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write the document to this file instead of stdout")
	return cmd
}

func newCatalogRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cat, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
