package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/search"
)

var (
	searchLimit int
	searchExact bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search your messages using full-text search",
	Long: `Search through every message in your conversations.

Uses FTS5 full-text search with porter stemming for natural language;
--exact matches whole words without stemming (good for identifiers).
Results are grouped by conversation. Local backend only.

Examples:
  chatsync search "deployment plan"
  chatsync search --exact getUserById
  chatsync search "dev@example.com"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of conversations to show")
	searchCmd.Flags().BoolVar(&searchExact, "exact", false, "Match whole words without stemming")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if a.Store == nil {
		return fmt.Errorf("search needs the %s backend", config.BackendLocal)
	}
	id, err := a.RequireIdentity()
	if err != nil {
		return err
	}

	find := search.Search
	if searchExact {
		find = search.SearchExact
	}
	results, err := find(a.Store, id.ID, query, search.DefaultLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("No results found for: %s\n", query)
		return nil
	}

	groups := search.GroupByConversation(results)
	fmt.Printf("Found %d conversation(s) with %d match(es) for: %s\n\n", len(groups), len(results), query)

	for i, group := range groups {
		if i >= searchLimit {
			fmt.Printf("... and %d more conversations (use --limit to see more)\n", len(groups)-searchLimit)
			break
		}

		fmt.Printf("=== %s ===\n", group.ConversationTitle)
		fmt.Printf("ID:      %s\n", group.ConversationID)
		fmt.Printf("Matches: %d\n\n", len(group.Matches))

		// Show up to 3 matches per conversation
		matchLimit := 3
		for j, match := range group.Matches {
			if j >= matchLimit {
				fmt.Printf("  ... %d more\n\n", len(group.Matches)-matchLimit)
				break
			}
			who := "you"
			if match.IsAutomated {
				who = "assistant"
			}
			fmt.Printf("  [%s] %s\n", formatTimestamp(match.CreatedAt), who)
			fmt.Printf("  %s\n\n", truncateWidth(match.Snippet, 200))
		}
	}
	return nil
}
