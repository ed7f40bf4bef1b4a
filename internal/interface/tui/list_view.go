package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/neilberkman/chatsync/internal/core/models"
)

type conversationListItem struct {
	conv models.Conversation
}

func (i conversationListItem) FilterValue() string {
	return i.conv.Title
}

func (i conversationListItem) Title() string {
	if i.conv.Title != "" {
		return i.conv.Title
	}
	return models.DefaultTitle
}

func (i conversationListItem) Description() string {
	desc := fmt.Sprintf("%d messages | Updated: %s", i.conv.MessageCount, formatTime(i.conv.UpdatedAt))
	if i.conv.LastMessagePreview != "" {
		desc += " | " + i.conv.LastMessagePreview
	}
	return desc
}

type conversationDelegate struct {
	list.DefaultDelegate
}

func (d conversationDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	c, ok := item.(conversationListItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, item)
		return
	}

	title := c.Title()
	desc := truncate(c.Description(), m.Width()-4)
	if index == m.Index() {
		title = selectedItemStyle.Render("▸ " + title)
		desc = selectedItemStyle.Faint(true).Render("  " + desc)
	} else {
		title = itemStyle.Render(title)
		desc = previewStyle.Render(desc)
	}

	fmt.Fprintf(w, "%s\n%s", title, desc)
}

func createConversationList(convs []models.Conversation, width, height int) list.Model {
	delegate := conversationDelegate{DefaultDelegate: list.NewDefaultDelegate()}

	l := list.New(conversationItems(convs), delegate, width, height)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false)
	return l
}

func conversationItems(convs []models.Conversation) []list.Item {
	items := make([]list.Item, len(convs))
	for i, c := range convs {
		items[i] = conversationListItem{conv: c}
	}
	return items
}

// syncList copies the directory into the list, keeping the cursor on the
// same conversation when it still exists
func (m *Model) syncList() {
	selected := ""
	if item, ok := m.list.SelectedItem().(conversationListItem); ok {
		selected = item.conv.ID
	}

	convs := m.app.Directory.Conversations()
	m.list.SetItems(conversationItems(convs))
	if idx := models.IndexOfConversation(convs, selected); idx >= 0 {
		m.list.Select(idx)
	}
}

func (m Model) selected() (models.Conversation, bool) {
	item, ok := m.list.SelectedItem().(conversationListItem)
	if !ok {
		return models.Conversation{}, false
	}
	return item.conv, true
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.pendingDelete != "" {
		id := m.pendingDelete
		m.pendingDelete = ""
		if msg.String() == "y" {
			m.status = "Deleting..."
			return m, deleteConversation(m.ctx, m.app.Directory, id)
		}
		m.status = ""
		return m, nil
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "?":
		m.mode = helpView
		return m, nil

	case "enter":
		if conv, ok := m.selected(); ok {
			return m.openConversation(conv)
		}
		return m, nil

	case "n":
		m.editing = editNew
		m.prompt.Reset()
		m.prompt.Placeholder = models.DefaultTitle
		m.status = ""
		cmd := m.prompt.Focus()
		return m, cmd

	case "r":
		if conv, ok := m.selected(); ok {
			m.editing = editRename
			m.renameID = conv.ID
			m.prompt.SetValue(conv.Title)
			m.prompt.CursorEnd()
			m.status = ""
			cmd := m.prompt.Focus()
			return m, cmd
		}
		return m, nil

	case "d":
		if conv, ok := m.selected(); ok {
			m.pendingDelete = conv.ID
			m.status = fmt.Sprintf("Delete %q? (y/n)", conv.Title)
		}
		return m, nil

	case "ctrl+r":
		m.status = ""
		return m, refreshDirectory(m.ctx, m.app.Directory)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// updatePrompt handles the title prompt for new and rename
func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = editNone
		m.prompt.Blur()
		return m, nil

	case "enter":
		title := strings.TrimSpace(m.prompt.Value())
		mode := m.editing
		m.editing = editNone
		m.prompt.Blur()

		if mode == editNew {
			if title == "" {
				title = models.DefaultTitle
			}
			m.status = "Creating..."
			return m, createConversation(m.ctx, m.app.Directory, title)
		}
		m.status = "Renaming..."
		return m, renameConversation(m.ctx, m.app.Directory, m.renameID, title)
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m Model) viewList() string {
	var b strings.Builder

	switch {
	case m.app.Directory.Loading() && len(m.list.Items()) == 0:
		b.WriteString(m.spinner.View() + " Loading conversations...\n")
	case m.err != nil && len(m.list.Items()) == 0:
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n\nPress ctrl+r to retry\n")
	case len(m.list.Items()) == 0:
		b.WriteString("No conversations yet. Press n to start one.\n")
	default:
		b.WriteString(m.list.View() + "\n")
	}

	if m.editing != editNone {
		b.WriteString(m.prompt.View() + "\n")
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status) + "\n")
	}
	b.WriteString(helpStyle.Render("↑/k up • ↓/j down • enter open • n new • r rename • d delete • q quit • ? more"))
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
