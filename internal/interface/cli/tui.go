package cli

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/neilberkman/chatsync/internal/core/app"
	"github.com/neilberkman/chatsync/internal/interface/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive chat TUI",
	Long:  "Launch an interactive terminal UI for browsing conversations and chatting with live updates",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bridge := &tui.Bridge{}
	a, err := openApp(ctx, app.WithOnChange(bridge.DirectoryChanged))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	stopMetrics := serveMetrics(metricsAddr, a)
	defer stopMetrics()
	a.StartMaintenance(ctx)

	model, err := tui.New(ctx, a, bridge)
	if err != nil {
		return err
	}
	defer func() { _ = model.Close() }()

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	bridge.Bind(p)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}
