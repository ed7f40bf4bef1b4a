package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neilberkman/chatsync/internal/core/models"
)

var (
	listLimit int
	listSince string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Long: `List your conversations, most recently updated first.

Examples:
  chatsync list
  chatsync list --limit 10
  chatsync list --since "last week"`,
	RunE: runList,
}

var newCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a conversation",
	Long: `Create a conversation. Without a title it is called "New Chat".`,
	RunE:  runNew,
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRename,
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a conversation and its messages",
	Args:    cobra.ExactArgs(1),
	RunE:    runRm,
}

func init() {
	rootCmd.AddCommand(listCmd, newCmd, renameCmd, rmCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of conversations to display")
	listCmd.Flags().StringVar(&listSince, "since", "", `Only conversations updated since this date ("yesterday", "last week", 2025-01-31)`)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	if err := a.Directory.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := a.Directory.Conversations()
	if listSince != "" {
		since, ok := parseDate(listSince, time.Now())
		if !ok {
			return fmt.Errorf("could not understand --since %q", listSince)
		}
		convs = updatedSince(convs, since)
	}

	if len(convs) == 0 {
		if listSince != "" {
			fmt.Printf("No conversations updated since %s\n", listSince)
		} else {
			fmt.Println("No conversations yet. Run 'chatsync new' to start one.")
		}
		return nil
	}

	total := len(convs)
	if listLimit > 0 && total > listLimit {
		convs = convs[:listLimit]
	}
	fmt.Printf("Showing %d of %d conversation(s)\n\n", len(convs), total)

	for _, c := range convs {
		fmt.Printf("%s  %s  %3d msgs  %s\n",
			c.ID, padWidth(c.Title, 32), c.MessageCount, formatTimestamp(c.UpdatedAt))
		if c.LastMessagePreview != "" {
			fmt.Printf("    %s\n", truncateWidth(c.LastMessagePreview, 72))
		}
	}
	return nil
}

func updatedSince(convs []models.Conversation, since time.Time) []models.Conversation {
	var out []models.Conversation
	for _, c := range convs {
		if !c.UpdatedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out
}

func runNew(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	title := strings.Join(args, " ")
	if strings.TrimSpace(title) == "" {
		title = models.DefaultTitle
	}
	conv, err := a.Directory.Create(ctx, title)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	fmt.Printf("Created %s  %s\n", conv.ID, conv.Title)
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	conv, err := a.Directory.Rename(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	fmt.Printf("Renamed %s to %s\n", conv.ID, conv.Title)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.RequireIdentity(); err != nil {
		return err
	}
	if err := a.Directory.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
