package chatlog

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Header describes the conversation an archive holds
type Header struct {
	ConversationID string
	Title          string
	CreatedAt      time.Time
}

// Write emits a header line followed by one line per message, in order
func Write(w io.Writer, h Header, msgs []ParsedMessage) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(rawEntry{
		Type:           TypeConversation,
		ConversationID: h.ConversationID,
		Title:          h.Title,
		Timestamp:      formatTimestamp(h.CreatedAt),
	}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, m := range msgs {
		if err := enc.Encode(rawEntry{
			Type:      TypeMessage,
			ID:        m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: formatTimestamp(m.Timestamp),
		}); err != nil {
			return fmt.Errorf("failed to write message %s: %w", m.ID, err)
		}
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
