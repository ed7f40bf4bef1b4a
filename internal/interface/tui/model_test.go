package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/app"
	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
	"github.com/neilberkman/chatsync/internal/core/transcript"
)

func newModel(t *testing.T, signIn bool) (Model, *app.App) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Defaults(t.TempDir())
	cfg.ReconcileDelay = 20 * time.Millisecond

	a, err := app.Open(ctx, cfg, telemetry.NewLogger(io.Discard, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Init(ctx))
	if signIn {
		_, err := a.Auth.SignUp(ctx, "ada@example.com", "correct horse", "Ada")
		require.NoError(t, err)
	}

	m, err := New(ctx, a, &Bridge{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	m, _ = update(m, tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, a
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loadList(t *testing.T, m Model) Model {
	t.Helper()
	m, _ = update(m, refreshDirectory(m.ctx, m.app.Directory)())
	return m
}

func openChat(t *testing.T, m Model, conv models.Conversation) Model {
	t.Helper()
	next, _ := m.openConversation(conv)
	m = next.(Model)
	m, _ = update(m, attachConversation(m.ctx, m.sync, conv.ID)())
	require.Equal(t, transcript.Live, m.sync.State())
	return m
}

func TestListReflectsDirectory(t *testing.T) {
	m, a := newModel(t, true)
	ctx := context.Background()
	_, err := a.Directory.Create(ctx, "Groceries")
	require.NoError(t, err)
	_, err = a.Directory.Create(ctx, "Travel plans")
	require.NoError(t, err)

	m = loadList(t, m)
	require.Len(t, m.list.Items(), 2)
	view := m.View()
	assert.Contains(t, view, "Groceries")
	assert.Contains(t, view, "Travel plans")
}

func TestEmptyListPromptsForNew(t *testing.T) {
	m, _ := newModel(t, true)
	m = loadList(t, m)
	assert.Contains(t, m.View(), "No conversations yet")
}

func TestNewConversationOpensChat(t *testing.T) {
	m, _ := newModel(t, true)
	m = loadList(t, m)

	m, _ = update(m, key("n"))
	require.Equal(t, editNew, m.editing)
	m, _ = update(m, key("Plans"))
	m, cmd := update(m, key("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, editNone, m.editing)

	created, ok := cmd().(conversationCreatedMsg)
	require.True(t, ok)
	require.NoError(t, created.err)

	m, _ = update(m, created)
	assert.Equal(t, chatView, m.mode)
	assert.Equal(t, "Plans", m.conv.Title)
	assert.Len(t, m.list.Items(), 1)
}

func TestNewConversationWithEmptyTitleUsesDefault(t *testing.T) {
	m, _ := newModel(t, true)
	m, _ = update(m, key("n"))
	_, cmd := update(m, key("enter"))

	created := cmd().(conversationCreatedMsg)
	require.NoError(t, created.err)
	assert.Equal(t, models.DefaultTitle, created.conv.Title)
}

func TestRenamePrefillsTitle(t *testing.T) {
	m, a := newModel(t, true)
	conv, err := a.Directory.Create(context.Background(), "Draft")
	require.NoError(t, err)
	m = loadList(t, m)

	m, _ = update(m, key("r"))
	require.Equal(t, editRename, m.editing)
	assert.Equal(t, "Draft", m.prompt.Value())

	m, _ = update(m, key(" v2"))
	m, cmd := update(m, key("enter"))
	renamed := cmd().(conversationRenamedMsg)
	require.NoError(t, renamed.err)

	m, _ = update(m, renamed)
	got, ok := a.Directory.Get(conv.ID)
	require.True(t, ok)
	assert.Equal(t, "Draft v2", got.Title)
	assert.Contains(t, m.View(), "Draft v2")
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	m, a := newModel(t, true)
	_, err := a.Directory.Create(context.Background(), "Old")
	require.NoError(t, err)
	m = loadList(t, m)

	m, _ = update(m, key("d"))
	assert.Contains(t, m.status, "Delete")
	m, cmd := update(m, key("n"))
	assert.Nil(t, cmd)
	assert.Empty(t, m.pendingDelete)
	assert.Len(t, a.Directory.Conversations(), 1)

	m, _ = update(m, key("d"))
	m, cmd = update(m, key("y"))
	require.NotNil(t, cmd)
	m, _ = update(m, cmd())
	assert.Empty(t, a.Directory.Conversations())
	assert.Empty(t, m.list.Items())
}

func TestSendClearsInputOnSuccess(t *testing.T) {
	m, a := newModel(t, true)
	conv, err := a.Directory.Create(context.Background(), "Chat")
	require.NoError(t, err)
	m = openChat(t, m, conv)

	m, _ = update(m, key("hello"))
	m, cmd := update(m, key("enter"))
	require.NotNil(t, cmd)
	assert.True(t, m.sending)

	// Blocked while the first send is in flight
	_, again := update(m, key("enter"))
	assert.Nil(t, again)

	m, _ = update(m, sendMessage(m.ctx, m.sync, "hello")())
	assert.False(t, m.sending)
	assert.Empty(t, m.input.Value())
	assert.Empty(t, m.status)

	require.NoError(t, m.sync.Drain(context.Background()))
	require.Eventually(t, func() bool { return len(m.sync.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "You said: hello", m.sync.Messages()[1].Content)
	m, _ = update(m, transcriptChangedMsg{})
	assert.Equal(t, 2, m.rendered)
	assert.Contains(t, m.viewport.View(), "Assistant")
}

func TestFailedSendKeepsDraft(t *testing.T) {
	m, a := newModel(t, true)
	conv, err := a.Directory.Create(context.Background(), "Chat")
	require.NoError(t, err)
	m = openChat(t, m, conv)

	m, _ = update(m, key("draft"))
	m, _ = update(m, key("enter"))
	m, _ = update(m, messageSentMsg{content: "draft", err: errors.New("network down")})

	assert.False(t, m.sending)
	assert.Equal(t, "draft", m.input.Value())
	assert.Contains(t, m.View(), "Send failed: network down")
}

func TestEscDetaches(t *testing.T) {
	m, a := newModel(t, true)
	conv, err := a.Directory.Create(context.Background(), "Chat")
	require.NoError(t, err)
	m = openChat(t, m, conv)

	m, _ = update(m, key("esc"))
	assert.Equal(t, listView, m.mode)
	assert.Equal(t, transcript.Detached, m.sync.State())
	assert.Empty(t, m.sync.ConversationID())
}

func TestStaleTranscriptLoadIgnored(t *testing.T) {
	m, a := newModel(t, true)
	conv, err := a.Directory.Create(context.Background(), "Chat")
	require.NoError(t, err)
	m = openChat(t, m, conv)

	m, _ = update(m, transcriptLoadedMsg{id: "6f1c2a9e-3c1b-4f0e-9d8a-2b7c5e4f1a3d", err: errors.New("boom")})
	assert.NoError(t, m.err)
}

func TestSignedOutView(t *testing.T) {
	m, _ := newModel(t, false)
	assert.Contains(t, m.View(), "Not signed in")
}

type upperRenderer struct{}

func (upperRenderer) Render(s string) (string, error) {
	return strings.ToUpper(s), nil
}

func TestRenderMessagesUsesMarkdownForReplies(t *testing.T) {
	now := time.Now()
	out := renderMessages([]models.Message{
		{ID: "1", Content: "question", CreatedAt: now},
		{ID: "2", Content: "answer", IsAutomated: true, CreatedAt: now.Add(time.Second)},
	}, 80, upperRenderer{})

	assert.Contains(t, out, "question")
	assert.Contains(t, out, "ANSWER")
	assert.NotContains(t, out, "QUESTION")
	assert.Less(t, strings.Index(out, "You"), strings.Index(out, "Assistant"))
}

func TestRenderMessagesEmpty(t *testing.T) {
	assert.Contains(t, renderMessages(nil, 80, nil), "No messages yet")
}
