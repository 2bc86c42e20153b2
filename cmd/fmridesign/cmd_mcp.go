package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fmridesign/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server on stdio",
		Long: `Run a Model Context Protocol server over stdin/stdout.

Tools: protocol_inspect, design_build, design_inspect, catalog_list.
Resource: fmridesign://catalog.

File paths given to tools are resolved against --root and may not
leave it.

Example MCP client configuration:
  {
    "mcpServers": {
      "fmridesign": {
        "command": "fmridesign",
        "args": ["mcp-server", "--root", "/data/study01"]
      }
    }
  }`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working directory: %w", err)
				}
				root = wd
			}

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "fmridesign",
				Version:  version,
				Root:     root,
				Settings: cfg,
				Logger:   newLogger(cmd, cfg),
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().String("root", "", "Directory tool file paths are confined to (default: working directory)")
	return cmd
}
