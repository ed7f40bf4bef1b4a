package tui

import (
	"context"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/neilberkman/chatsync/internal/core/directory"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/transcript"
)

// directoryChangedMsg and transcriptChangedMsg carry no data: views re-read
// state from the directory and synchronizer when they arrive
type directoryChangedMsg struct{}

type transcriptChangedMsg struct{}

type directoryLoadedMsg struct {
	err error
}

type conversationCreatedMsg struct {
	conv models.Conversation
	err  error
}

type conversationRenamedMsg struct {
	conv models.Conversation
	err  error
}

type conversationDeletedMsg struct {
	id  string
	err error
}

type transcriptLoadedMsg struct {
	id  string
	err error
}

type messageSentMsg struct {
	content string
	err     error
}

type copiedMsg struct {
	err error
}

func refreshDirectory(ctx context.Context, d *directory.Directory) tea.Cmd {
	return func() tea.Msg {
		return directoryLoadedMsg{err: d.Refresh(ctx)}
	}
}

func createConversation(ctx context.Context, d *directory.Directory, title string) tea.Cmd {
	return func() tea.Msg {
		conv, err := d.Create(ctx, title)
		return conversationCreatedMsg{conv: conv, err: err}
	}
}

func renameConversation(ctx context.Context, d *directory.Directory, id, title string) tea.Cmd {
	return func() tea.Msg {
		conv, err := d.Rename(ctx, id, title)
		return conversationRenamedMsg{conv: conv, err: err}
	}
}

func deleteConversation(ctx context.Context, d *directory.Directory, id string) tea.Cmd {
	return func() tea.Msg {
		return conversationDeletedMsg{id: id, err: d.Delete(ctx, id)}
	}
}

func attachConversation(ctx context.Context, s *transcript.Synchronizer, id string) tea.Cmd {
	return func() tea.Msg {
		return transcriptLoadedMsg{id: id, err: s.Attach(ctx, id)}
	}
}

func refreshTranscript(ctx context.Context, s *transcript.Synchronizer) tea.Cmd {
	return func() tea.Msg {
		return transcriptLoadedMsg{id: s.ConversationID(), err: s.Refresh(ctx)}
	}
}

func sendMessage(ctx context.Context, s *transcript.Synchronizer, content string) tea.Cmd {
	return func() tea.Msg {
		_, err := s.Send(ctx, content)
		return messageSentMsg{content: content, err: err}
	}
}

// copyToClipboard uses the cross-platform clipboard library
func copyToClipboard(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{err: clipboard.WriteAll(text)}
	}
}
