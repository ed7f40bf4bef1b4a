package chatlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry types written one per line
const (
	TypeConversation = "conversation"
	TypeMessage      = "message"
)

// Sender values
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// ParsedConversation represents a fully parsed archive file
type ParsedConversation struct {
	ConversationID string
	Title          string
	CreatedAt      time.Time
	Messages       []ParsedMessage
	FilePath       string
	FileSize       int64
	FileMtime      time.Time
}

// ParsedMessage represents one message line
type ParsedMessage struct {
	ID        string
	Sender    string
	Content   string
	Timestamp time.Time
	Sequence  int
}

// IsAutomated reports whether the responder wrote the message
func (m ParsedMessage) IsAutomated() bool {
	return m.Sender == SenderAssistant
}

// rawEntry represents a raw JSONL line
type rawEntry struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title,omitempty"`
	ID             string `json:"id,omitempty"`
	Sender         string `json:"sender,omitempty"`
	Content        string `json:"content,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// ParseFile parses a conversation archive
func ParseFile(path string) (conv *ParsedConversation, err error) {
	file, ferr := os.Open(path)
	if ferr != nil {
		return nil, fmt.Errorf("failed to open file: %w", ferr)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	conv, err = Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	conv.FilePath = path
	conv.FileSize = info.Size()
	conv.FileMtime = info.ModTime()

	// Archives without a header line are titled after the file
	if conv.Title == "" {
		base := filepath.Base(path)
		conv.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if conv.CreatedAt.IsZero() {
		if len(conv.Messages) > 0 {
			conv.CreatedAt = conv.Messages[0].Timestamp
		} else {
			conv.CreatedAt = conv.FileMtime
		}
	}
	return conv, nil
}

// Parse reads archive lines from r. Blank lines are skipped; unknown entry
// types are ignored so newer archives still load.
func Parse(r io.Reader) (*ParsedConversation, error) {
	conv := &ParsedConversation{Messages: make([]ParsedMessage, 0)}

	// Configure scanner with larger buffer for long lines (10MB max)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var raw rawEntry
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse JSON: %w", lineNum, err)
		}

		switch raw.Type {
		case TypeConversation:
			conv.ConversationID = raw.ConversationID
			conv.Title = raw.Title
			if raw.Timestamp != "" {
				t, err := parseTimestamp(raw.Timestamp)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNum, err)
				}
				conv.CreatedAt = t
			}

		case TypeMessage:
			msg, err := parseMessage(&raw, lineNum)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			conv.Messages = append(conv.Messages, *msg)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading archive: %w", err)
	}
	return conv, nil
}

func parseMessage(raw *rawEntry, sequence int) (*ParsedMessage, error) {
	msg := &ParsedMessage{
		ID:       raw.ID,
		Sender:   raw.Sender,
		Content:  raw.Content,
		Sequence: sequence,
	}

	switch raw.Sender {
	case SenderUser, SenderAssistant:
	case "human":
		msg.Sender = SenderUser
	case "":
		return nil, fmt.Errorf("message %q has no sender", raw.ID)
	default:
		return nil, fmt.Errorf("message %q: unknown sender %q", raw.ID, raw.Sender)
	}

	if raw.Timestamp != "" {
		t, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			return nil, err
		}
		msg.Timestamp = t
	}
	return msg, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t.UTC(), nil
}
