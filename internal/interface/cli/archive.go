package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/importer"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/pkg/chatlog"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a conversation as a JSONL archive",
	Long: `Write a conversation to a JSONL archive: one header line, then one line
per message in order. Archives can be loaded with 'chatsync import'.

Examples:
  chatsync export 6f1c... > plans.jsonl
  chatsync export 6f1c... -o plans.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file-or-dir>...",
	Short: "Import JSONL archives as new conversations",
	Long: `Import conversation archives into the local store. Directories are
searched for .jsonl files. Archives that were imported before are skipped.
Local backend only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
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

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close %s: %w", exportOutput, cerr)
			}
		}()
		w = f
	}

	msgs := s.Messages()
	if err := chatlog.Write(w, archiveHeader(conv), archiveMessages(msgs)); err != nil {
		return err
	}
	if exportOutput != "" {
		fmt.Fprintf(os.Stderr, "Exported %d message(s) to %s\n", len(msgs), exportOutput)
	}
	return nil
}

func archiveHeader(conv models.Conversation) chatlog.Header {
	return chatlog.Header{ConversationID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt}
}

func archiveMessages(msgs []models.Message) []chatlog.ParsedMessage {
	out := make([]chatlog.ParsedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = chatlog.ParsedMessage{
			ID:        m.ID,
			Sender:    m.Sender(),
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		}
	}
	return out
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if a.Store == nil {
		return fmt.Errorf("import needs the %s backend", config.BackendLocal)
	}
	id, err := a.RequireIdentity()
	if err != nil {
		return err
	}

	var progress importer.ProgressCallback
	if isatty.IsTerminal(os.Stderr.Fd()) {
		progress = importer.NewProgressReporter(os.Stderr)
	}

	results, err := importer.New(a.Store, a.Logger).ImportPaths(ctx, id.ID, args, progress)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	imported, skipped := 0, 0
	for _, r := range results {
		if r.Imported {
			imported++
			fmt.Printf("%s  %s (%d messages)\n", r.Conversation.ID, r.Conversation.Title, r.Messages)
		} else {
			skipped++
		}
	}
	fmt.Printf("Imported %d conversation(s), skipped %d already imported\n", imported, skipped)
	return nil
}
