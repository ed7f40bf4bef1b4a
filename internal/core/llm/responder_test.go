package llm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/db"
	"github.com/neilberkman/chatsync/internal/core/models"
)

type failingProvider struct{}

func (failingProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("throttled")
}

func (failingProvider) Name() string { return "failing" }

type fixedProvider struct {
	reply  string
	prompt string
}

func (p *fixedProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	p.prompt = prompt
	return p.reply, nil
}

func (p *fixedProvider) Name() string { return "fixed" }

func newStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestTriggerResponseStoresAutomatedReply(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	conv, err := store.CreateConversation(ctx, "u1", "Trip planning")
	require.NoError(t, err)
	_, err = store.SendMessage(ctx, conv.ID, "Where should I go?", "u1")
	require.NoError(t, err)

	r, err := NewResponder(EchoProvider{}, store, config.DefaultResponderPrompt)
	require.NoError(t, err)

	res, err := r.TriggerResponse(ctx, conv.ID, "Where should I go?")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Message)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsAutomated)
	assert.Equal(t, "You said: Where should I go?", msgs[1].Content)
}

func TestTriggerResponseFailures(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	conv, err := store.CreateConversation(ctx, "u1", "Chat")
	require.NoError(t, err)

	t.Run("provider error", func(t *testing.T) {
		r, err := NewResponder(failingProvider{}, store, config.DefaultResponderPrompt)
		require.NoError(t, err)
		res, err := r.TriggerResponse(ctx, conv.ID, "hello")
		require.Error(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "throttled")
	})

	t.Run("empty reply", func(t *testing.T) {
		r, err := NewResponder(&fixedProvider{reply: " \x00 "}, store, config.DefaultResponderPrompt)
		require.NoError(t, err)
		res, err := r.TriggerResponse(ctx, conv.ID, "hello")
		require.Error(t, err)
		assert.False(t, res.Success)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		r, err := NewResponder(EchoProvider{}, store, config.DefaultResponderPrompt)
		require.NoError(t, err)
		_, err = r.TriggerResponse(ctx, "missing", "hello")
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "failed triggers store nothing")
}

func TestLongRepliesAreTruncated(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	conv, err := store.CreateConversation(ctx, "u1", "Chat")
	require.NoError(t, err)

	r, err := NewResponder(&fixedProvider{reply: strings.Repeat("é", 1500)}, store, config.DefaultResponderPrompt)
	require.NoError(t, err)
	_, err = r.TriggerResponse(ctx, conv.ID, "talk a lot")
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MaxMessageLength, len([]rune(msgs[0].Content)))
}

func TestRenderPrompt(t *testing.T) {
	r, err := NewResponder(EchoProvider{}, nil, config.DefaultResponderPrompt)
	require.NoError(t, err)

	conv := models.Conversation{Title: `Tom & Jerry's "plans"`}
	history := []models.Message{
		{Content: "hi", AuthorID: "u1"},
		{Content: "hello!", IsAutomated: true},
		{Content: "what's next?", AuthorID: "u1"},
	}

	prompt, err := r.RenderPrompt(conv, history, "what's next?")
	require.NoError(t, err)
	assert.Contains(t, prompt, `Tom & Jerry's "plans"`, "no HTML escaping")
	assert.Contains(t, prompt, "User: hi")
	assert.Contains(t, prompt, "Assistant: hello!")
	assert.Equal(t, 1, strings.Count(prompt, "what's next?"), "latest message is not repeated in history")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "what's next?"))

	empty, err := r.RenderPrompt(conv, nil, "first")
	require.NoError(t, err)
	assert.NotContains(t, empty, "Conversation so far")
}

func TestNewResponderRejectsBadTemplate(t *testing.T) {
	_, err := NewResponder(EchoProvider{}, nil, "{{#open}} never closed")
	assert.Error(t, err)
}

func TestEchoProvider(t *testing.T) {
	p := EchoProvider{}
	out, err := p.GenerateText(context.Background(), "context\n"+latestMarker+"\nping")
	require.NoError(t, err)
	assert.Equal(t, "You said: ping", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GenerateText(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
