package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInsertSorted(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	convs := []Conversation{
		{ID: "c", UpdatedAt: base.Add(3 * time.Hour)},
		{ID: "b", UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "a", UpdatedAt: base.Add(1 * time.Hour)},
	}

	got := InsertSorted(convs, Conversation{ID: "new", UpdatedAt: base.Add(150 * time.Minute)})
	assert.Equal(t, []string{"c", "new", "b", "a"}, conversationIDs(got))

	// Replacing an existing id moves it instead of duplicating it
	got = InsertSorted(got, Conversation{ID: "a", UpdatedAt: base.Add(4 * time.Hour)})
	assert.Equal(t, []string{"a", "c", "new", "b"}, conversationIDs(got))

	// Original slice is untouched
	assert.Equal(t, []string{"c", "b", "a"}, conversationIDs(convs))
}

func TestSortConversationsTieBreak(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	convs := []Conversation{
		{ID: "b", UpdatedAt: ts, CreatedAt: ts},
		{ID: "a", UpdatedAt: ts, CreatedAt: ts},
		{ID: "z", UpdatedAt: ts, CreatedAt: ts.Add(time.Minute)},
	}
	SortConversations(convs)
	assert.Equal(t, []string{"z", "a", "b"}, conversationIDs(convs))
}

func TestDedupeMessages(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "2", Content: "second", CreatedAt: ts.Add(2 * time.Second)},
		{ID: "1", Content: "first", CreatedAt: ts.Add(1 * time.Second)},
		{ID: "2", Content: "second (edited)", CreatedAt: ts.Add(2 * time.Second)},
	}

	got := DedupeMessages(msgs)
	assert.Equal(t, []string{"1", "2"}, MessageIDs(got))
	assert.Equal(t, "second (edited)", got[1].Content)
}

func TestUnionMessages(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pull := []Message{{ID: "u1", CreatedAt: ts}, {ID: "u2", CreatedAt: ts.Add(2 * time.Second)}}
	push := []Message{{ID: "u1", CreatedAt: ts}, {ID: "bot", IsAutomated: true, CreatedAt: ts.Add(time.Second)}}

	got := UnionMessages(pull, push)
	assert.Equal(t, []string{"u1", "bot", "u2"}, MessageIDs(got))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "héllo...", Preview("héllo world", 5))
}

func TestConversationValidate(t *testing.T) {
	c := Conversation{ID: "x", OwnerID: "u1", Title: "ok"}
	assert.NoError(t, c.Validate())

	c.OwnerID = ""
	assert.Error(t, c.Validate())
}

func conversationIDs(convs []Conversation) []string {
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	return ids
}
