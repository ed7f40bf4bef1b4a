package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// Header (2), status, input and help lines around the transcript
const chatChromeLines = 6

func chatViewportHeight(height int) int {
	if h := height - chatChromeLines; h > 0 {
		return h
	}
	return 0
}

// openConversation switches to the chat view and attaches the synchronizer
func (m Model) openConversation(conv models.Conversation) (tea.Model, tea.Cmd) {
	m.mode = chatView
	m.conv = conv
	m.rendered = -1
	m.sending = false
	m.status = ""
	m.err = nil
	m.input.Reset()
	m.viewport.SetContent("")
	focus := m.input.Focus()
	return m, tea.Batch(focus, attachConversation(m.ctx, m.sync, conv.ID))
}

// closeConversation detaches and returns to the list
func (m Model) closeConversation() (tea.Model, tea.Cmd) {
	m.sync.Detach()
	m.mode = listView
	m.conv = models.Conversation{}
	m.sending = false
	m.status = ""
	m.err = nil
	m.input.Blur()
	m.syncList()
	return m, nil
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.closeConversation()

	case "enter":
		if m.sending {
			return m, nil
		}
		content := m.input.Value()
		if strings.TrimSpace(content) == "" {
			return m, nil
		}
		m.sending = true
		m.status = ""
		return m, tea.Batch(sendMessage(m.ctx, m.sync, content), m.spinner.Tick)

	case "ctrl+y":
		msgs := m.sync.Messages()
		if len(msgs) == 0 {
			m.status = "Nothing to copy"
			return m, nil
		}
		return m, copyToClipboard(msgs[len(msgs)-1].Content)

	case "ctrl+r":
		return m, refreshTranscript(m.ctx, m.sync)

	case "up", "down", "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// renderTranscript redraws the transcript, following the bottom when new
// messages arrive or the user was already there
func (m *Model) renderTranscript() {
	var md markdownRenderer
	if m.markdown != nil {
		md = m.markdown
	}
	msgs := m.sync.Messages()
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderMessages(msgs, m.width, md))
	if atBottom || len(msgs) != m.rendered {
		m.viewport.GotoBottom()
	}
	m.rendered = len(msgs)
}

type markdownRenderer interface {
	Render(string) (string, error)
}

func renderMessages(msgs []models.Message, width int, md markdownRenderer) string {
	if len(msgs) == 0 {
		return metaStyle.Render("No messages yet. Say hello.")
	}

	wrap := lipgloss.NewStyle()
	if width > 4 {
		wrap = wrap.Width(width - 2)
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		style := userStyle
		label := "You"
		if msg.IsAutomated {
			style = assistantStyle
			label = "Assistant"
		}
		b.WriteString(style.Render("▸ " + label))
		b.WriteString(" ")
		b.WriteString(timestampStyle.Render(formatTime(msg.CreatedAt)))
		b.WriteString("\n")

		content := msg.Content
		if msg.IsAutomated && md != nil {
			if rendered, err := md.Render(content); err == nil {
				b.WriteString(strings.Trim(rendered, "\n"))
				b.WriteString("\n")
				continue
			}
		}
		b.WriteString(wrap.Render(content))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewChat() string {
	var b strings.Builder

	title := m.conv.Title
	if title == "" {
		title = models.DefaultTitle
	}
	b.WriteString(titleStyle.Render(truncate(title, m.width)) + "\n")
	b.WriteString(metaStyle.Render(fmt.Sprintf("%s | %d messages", m.sync.State(), len(m.sync.Messages()))) + "\n")

	if m.sync.Loading() && m.rendered <= 0 {
		b.WriteString(m.spinner.View() + " Loading transcript...\n")
	} else {
		b.WriteString(m.viewport.View() + "\n")
	}

	switch {
	case m.sending:
		b.WriteString(m.spinner.View() + " Sending...\n")
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status) + "\n")
	case m.err != nil:
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString(m.input.View() + "\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+y copy last • ctrl+r refresh • pgup/pgdown scroll • esc back"))
	return b.String()
}

func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
