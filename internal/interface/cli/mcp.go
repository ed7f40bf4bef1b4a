package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neilberkman/chatsync/cmd/chatsync/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP server exposing conversations as tools",
	Long: `Start an MCP (Model Context Protocol) server over stdio so an assistant
can list conversations, read transcripts, send messages and search history
as the signed-in user.

Configure in your MCP client's config file:
  {
    "mcpServers": {
      "chatsync": {
        "command": "chatsync",
        "args": ["serve-mcp"]
      }
    }
  }
`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	stopMetrics := serveMetrics(metricsAddr, a)
	defer stopMetrics()
	a.StartMaintenance(ctx)

	if err := mcp.StartServer(a); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
