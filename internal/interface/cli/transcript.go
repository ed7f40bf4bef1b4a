package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/transcript"
)

var (
	sendNoWait  bool
	metricsAddr string
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var sendCmd = &cobra.Command{
	Use:   "send <id> <message>",
	Short: "Send a message and print the automated reply",
	Long: `Send a message to a conversation, then wait for the automated reply.

The reply is picked up from the live subscription or from the delayed
refetch, whichever sees it first.

Examples:
  chatsync send 6f1c... "What's the plan for today?"
  echo "long message" | chatsync send 6f1c... -`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Stream a conversation's transcript as it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(showCmd, sendCmd, watchCmd)
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "Return as soon as the message is stored")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func printMessage(w io.Writer, m models.Message) {
	fmt.Fprintf(w, "[%s] %s:\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), speaker(m))
	for _, line := range strings.Split(m.Content, "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	s, err := a.NewSynchronizer()
	if err != nil {
		return err
	}
	defer s.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Directory.Refresh(gctx) })
	g.Go(func() error { return s.Attach(gctx, args[0]) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	conv, ok := a.Directory.Get(args[0])
	if !ok {
		return fmt.Errorf("conversation %s not found", args[0])
	}
	msgs := s.Messages()
	fmt.Printf("%s\n", conv.Title)
	fmt.Printf("%d message(s), updated %s\n\n", len(msgs), formatTimestamp(conv.UpdatedAt))
	for _, m := range msgs {
		printMessage(os.Stdout, m)
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	content := strings.Join(args[1:], " ")
	if content == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read message from stdin: %w", err)
		}
		content = string(data)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	s, err := a.NewSynchronizer()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Attach(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	sent, err := s.Send(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	if sendNoWait {
		fmt.Printf("Sent %s\n", sent.ID)
		return nil
	}

	spinner := NewSpinner("Waiting for reply...")
	spinner.Start()
	err = s.Drain(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	replies := repliesAfter(s.Messages(), sent)
	if len(replies) == 0 {
		fmt.Printf("Sent %s. No reply yet; run 'chatsync show %s' later.\n", sent.ID, args[0])
		return nil
	}
	for _, m := range replies {
		printMessage(os.Stdout, m)
	}
	return nil
}

// repliesAfter returns the automated messages that follow sent
func repliesAfter(msgs []models.Message, sent models.Message) []models.Message {
	var out []models.Message
	seen := false
	for _, m := range msgs {
		if m.ID == sent.ID {
			seen = true
			continue
		}
		if seen && m.IsAutomated {
			out = append(out, m)
		}
	}
	return out
}

// transcriptPrinter writes each message once, in order
type transcriptPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[string]struct{}
}

func (p *transcriptPrinter) update(msgs []models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		printMessage(p.w, m)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	stopMetrics := serveMetrics(metricsAddr, a)
	defer stopMetrics()

	printer := &transcriptPrinter{w: os.Stdout, printed: make(map[string]struct{})}
	var s *transcript.Synchronizer
	s, err = a.NewSynchronizer(transcript.WithOnChange(func() {
		if s != nil {
			printer.update(s.Messages())
		}
	}))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Attach(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	printer.update(s.Messages())
	fmt.Fprintln(os.Stderr, "Watching for new messages (Ctrl+C to stop)...")

	<-ctx.Done()
	return nil
}
