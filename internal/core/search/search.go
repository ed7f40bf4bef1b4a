package search

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/neilberkman/chatsync/internal/core/db"
)

// Result is one message matching a query
type Result struct {
	MessageID         string
	ConversationID    string
	ConversationTitle string
	Snippet           string
	IsAutomated       bool
	CreatedAt         time.Time
}

// ConversationResult groups matches by conversation
type ConversationResult struct {
	ConversationID    string
	ConversationTitle string
	Matches           []Result
}

// DefaultLimit caps results when the caller passes no limit
const DefaultLimit = 200

// Default sort order for search results (most recent first)
const defaultOrderBy = "m.created_at DESC"

// Search performs a full-text search over ownerID's messages using the
// natural language FTS table. Results are ordered most recent first.
func Search(database *db.DB, ownerID, query string, limit int) ([]Result, error) {
	return search(database, ownerID, query, "messages_fts", limit)
}

// SearchExact uses the unstemmed FTS table, for identifiers and exact words
func SearchExact(database *db.DB, ownerID, query string, limit int) ([]Result, error) {
	return search(database, ownerID, query, "messages_fts_code", limit)
}

func search(database *db.DB, ownerID, query, ftsTable string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	// FTS5 treats these as syntax; match them as plain substrings instead
	if strings.ContainsAny(query, "-_@#$%&:/.") {
		return searchLike(database, ownerID, query, limit)
	}

	rows, err := database.Query(fmt.Sprintf(`
		SELECT
			m.id,
			c.id,
			c.title,
			snippet(%s, -1, '', '', '...', 32) AS snippet,
			m.is_automated,
			m.created_at
		FROM %s
		JOIN messages m ON %s.rowid = m.seq
		JOIN conversations c ON c.id = m.conversation_id
		WHERE %s MATCH ? AND c.owner_id = ?
		ORDER BY %s
		LIMIT ?
	`, ftsTable, ftsTable, ftsTable, ftsTable, defaultOrderBy), query, ownerID, limit)
	if err != nil {
		// Unbalanced quotes and stray operators are FTS syntax errors
		return searchLike(database, ownerID, query, limit)
	}
	results, err := scanResults(rows)
	if err != nil {
		// Some syntax errors only surface on the first step
		return searchLike(database, ownerID, query, limit)
	}
	return results, nil
}

func searchLike(database *db.DB, ownerID, query string, limit int) ([]Result, error) {
	rows, err := database.Query(fmt.Sprintf(`
		SELECT
			m.id,
			c.id,
			c.title,
			m.content,
			m.is_automated,
			m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.content LIKE '%%' || ? || '%%' AND c.owner_id = ?
		ORDER BY %s
		LIMIT ?
	`, defaultOrderBy), query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var r Result
		var created string
		if err := rows.Scan(
			&r.MessageID,
			&r.ConversationID,
			&r.ConversationTitle,
			&r.Snippet,
			&r.IsAutomated,
			&created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		t, err := db.ParseTime(created)
		if err != nil {
			return nil, err
		}
		r.CreatedAt = t
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// GroupByConversation groups results, keeping the order in which each
// conversation first appears
func GroupByConversation(results []Result) []ConversationResult {
	var groups []ConversationResult
	index := make(map[string]int)
	for _, r := range results {
		i, ok := index[r.ConversationID]
		if !ok {
			i = len(groups)
			index[r.ConversationID] = i
			groups = append(groups, ConversationResult{
				ConversationID:    r.ConversationID,
				ConversationTitle: r.ConversationTitle,
			})
		}
		groups[i].Matches = append(groups[i].Matches, r)
	}
	return groups
}
