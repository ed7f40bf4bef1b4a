package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"

	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// historyWindow is how many earlier messages the prompt includes
const historyWindow = 12

// maxHistoryContent truncates each history entry in the prompt
const maxHistoryContent = 300

// Store is the part of the local store the responder reads and writes
type Store interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	InsertAutomatedMessage(ctx context.Context, conversationID, content string) (models.Message, error)
}

// Responder writes automated replies into the local store
type Responder struct {
	provider Provider
	store    Store
	tmpl     *mustache.Template
}

// NewResponder parses promptTemplate and returns a responder using provider
func NewResponder(provider Provider, store Store, promptTemplate string) (*Responder, error) {
	tmpl, err := mustache.ParseString(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse responder prompt: %w", err)
	}
	return &Responder{provider: provider, store: store, tmpl: tmpl}, nil
}

// TriggerResponse generates a reply to content and stores it as an
// automated message in conversationID.
func (r *Responder) TriggerResponse(ctx context.Context, conversationID, content string) (backend.TriggerResult, error) {
	reply, err := r.reply(ctx, conversationID, content)
	if err != nil {
		return backend.TriggerResult{Success: false, Error: err.Error()}, err
	}
	msg, err := r.store.InsertAutomatedMessage(ctx, conversationID, reply)
	if err != nil {
		err = fmt.Errorf("failed to store reply: %w", err)
		return backend.TriggerResult{Success: false, Error: err.Error()}, err
	}
	return backend.TriggerResult{Success: true, Message: msg.ID}, nil
}

func (r *Responder) reply(ctx context.Context, conversationID, content string) (string, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	history, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}

	prompt, err := r.RenderPrompt(conv, history, content)
	if err != nil {
		return "", err
	}

	text, err := r.provider.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", r.provider.Name(), err)
	}
	text = truncateRunes(models.SanitizeMessage(text), models.MaxMessageLength)
	if text == "" {
		return "", fmt.Errorf("%s returned an empty reply", r.provider.Name())
	}
	return text, nil
}

// RenderPrompt fills the template with the conversation title, recent
// history (excluding the latest message) and the latest message.
func (r *Responder) RenderPrompt(conv models.Conversation, history []models.Message, latest string) (string, error) {
	// The latest message is usually already stored; drop it from history
	if n := len(history); n > 0 && !history[n-1].IsAutomated && history[n-1].Content == latest {
		history = history[:n-1]
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	entries := make([]map[string]string, 0, len(history))
	for _, m := range history {
		speaker := "User"
		if m.IsAutomated {
			speaker = "Assistant"
		}
		entries = append(entries, map[string]string{
			"speaker": speaker,
			"content": truncateRunes(strings.ReplaceAll(m.Content, "\n", " "), maxHistoryContent),
		})
	}

	prompt, err := r.tmpl.Render(map[string]interface{}{
		"title":       conv.Title,
		"history":     entries,
		"has_history": len(entries) > 0,
		"latest":      latest,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render responder prompt: %w", err)
	}
	return prompt, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}
