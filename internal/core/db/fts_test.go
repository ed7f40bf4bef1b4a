package db

import (
	"context"
	"testing"
)

func TestFTSSearch(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	conv, err := database.CreateConversation(ctx, "u1", "Test conversation")
	if err != nil {
		t.Fatalf("Failed to create conversation: %v", err)
	}

	contents := []string{
		"Hello world this is a test",
		"Let's write some authentication code",
		"The getUserById function returns a user",
		"camelCaseVariable should be preserved",
	}
	ids := make([]string, len(contents))
	for i, content := range contents {
		m, err := database.SendMessage(ctx, conv.ID, content, "u1")
		if err != nil {
			t.Fatalf("Failed to insert message %d: %v", i, err)
		}
		ids[i] = m.ID
	}

	cases := []struct {
		name  string
		table string
		query string
		want  string
	}{
		{"PorterStemming", "messages_fts", "authenticate", ids[1]},
		{"CodeSearch", "messages_fts_code", "camelCase*", ids[3]},
		{"PhraseSearch", "messages_fts", `"Hello world"`, ids[0]},
		{"WildcardSearch", "messages_fts_code", "getUser*", ids[2]},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := database.Query(`
				SELECT m.id
				FROM messages m
				JOIN `+tc.table+` ON `+tc.table+`.rowid = m.seq
				WHERE `+tc.table+` MATCH ?
			`, tc.query)
			if err != nil {
				t.Fatalf("FTS query failed: %v", err)
			}
			defer func() { _ = rows.Close() }()

			count := 0
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					t.Fatalf("Scan failed: %v", err)
				}
				count++
				if id != tc.want {
					t.Errorf("Expected %s, got %s", tc.want, id)
				}
			}

			if count != 1 {
				t.Errorf("Expected 1 result, got %d", count)
			}
		})
	}
}

func TestFTSTriggers(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	conv, err := database.CreateConversation(ctx, "u1", "Test")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := database.SendMessage(ctx, conv.ID, "original content", "u1")
	if err != nil {
		t.Fatal(err)
	}

	matches := func(term string) int {
		t.Helper()
		var n int
		err := database.QueryRow(`SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH ?`, term).Scan(&n)
		if err != nil {
			t.Fatal(err)
		}
		return n
	}

	if n := matches("original"); n != 1 {
		t.Errorf("Expected 1 FTS match after insert, got %d", n)
	}

	// Update message
	if _, err := database.Exec("UPDATE messages SET content = ? WHERE id = ?", "updated content", msg.ID); err != nil {
		t.Fatal(err)
	}
	if n := matches("updated"); n != 1 {
		t.Errorf("Expected 1 match for updated content, got %d", n)
	}
	if n := matches("original"); n != 0 {
		t.Errorf("Expected stale term to be gone, got %d matches", n)
	}

	// Deleting the conversation cascades to messages and their FTS rows
	if err := database.DeleteConversation(ctx, "u1", conv.ID); err != nil {
		t.Fatal(err)
	}
	if n := matches("updated"); n != 0 {
		t.Errorf("Expected 0 FTS matches after delete, got %d", n)
	}
}
