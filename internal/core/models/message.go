package models

import (
	"sort"
	"time"
)

// Message is a single entry in a conversation transcript
type Message struct {
	ID             string
	ConversationID string
	Content        string
	IsAutomated    bool   // true for responder-authored messages
	AuthorID       string // empty for automated messages
	CreatedAt      time.Time
}

// Sender returns "assistant" for automated messages and "user" otherwise
func (m Message) Sender() string {
	if m.IsAutomated {
		return "assistant"
	}
	return "user"
}

// SortMessages orders messages by created-at ascending in place.
// Ids are opaque and never used for ordering.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// DedupeMessages returns msgs with one entry per id, ordered by created-at.
// When an id repeats, the later occurrence wins.
func DedupeMessages(msgs []Message) []Message {
	pos := make(map[string]int, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if i, ok := pos[m.ID]; ok {
			out[i] = m
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m)
	}
	SortMessages(out)
	return out
}

// UnionMessages merges two message sets by id. Entries in b replace
// entries in a with the same id.
func UnionMessages(a, b []Message) []Message {
	all := make([]Message, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return DedupeMessages(all)
}

// MessageIDs returns the ids of msgs in order
func MessageIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// PreviewLength is the rune budget for conversation list previews
const PreviewLength = 80

// Preview returns content shortened to max runes for list display
func Preview(content string, max int) string {
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max]) + "..."
}
