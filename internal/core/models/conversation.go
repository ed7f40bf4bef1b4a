package models

import (
	"sort"
	"time"
)

// DefaultTitle is used when a conversation is created without a title
const DefaultTitle = "New Chat"

// Conversation is one chat thread owned by a single identity
type Conversation struct {
	ID                 string
	Title              string
	OwnerID            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
	MessageCount       int
}

// Validate checks if the conversation has required fields
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errRequired("id")
	}
	if c.OwnerID == "" {
		return errRequired("owner_id")
	}
	_, err := ValidateTitle(c.Title)
	return err
}

// Before reports whether c sorts ahead of other in a directory listing:
// most recently updated first, then newest created, then id.
func (c Conversation) Before(other Conversation) bool {
	if !c.UpdatedAt.Equal(other.UpdatedAt) {
		return c.UpdatedAt.After(other.UpdatedAt)
	}
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.After(other.CreatedAt)
	}
	return c.ID < other.ID
}

// SortConversations orders conversations by updated-at descending in place
func SortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].Before(convs[j])
	})
}

// InsertSorted returns convs with c placed at its sorted position.
// Any existing entry with the same id is replaced.
func InsertSorted(convs []Conversation, c Conversation) []Conversation {
	out := make([]Conversation, 0, len(convs)+1)
	for _, existing := range convs {
		if existing.ID != c.ID {
			out = append(out, existing)
		}
	}
	idx := sort.Search(len(out), func(i int) bool {
		return !out[i].Before(c)
	})
	out = append(out, Conversation{})
	copy(out[idx+1:], out[idx:])
	out[idx] = c
	return out
}

// IndexOfConversation returns the position of id in convs, or -1
func IndexOfConversation(convs []Conversation, id string) int {
	for i, c := range convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}
