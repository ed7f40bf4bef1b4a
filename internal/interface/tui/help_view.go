package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) updateHelp(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "?":
		m.mode = listView
		return m, nil
	}

	return m, nil
}

func (m Model) viewHelp() string {
	help := `
chatsync - Help
═══════════════

CONVERSATION LIST
─────────────────
  ↑/↓, j/k     Navigate conversations
  Enter        Open conversation
  n            New conversation
  r            Rename conversation
  d            Delete conversation (confirm with y)
  ctrl+r       Reload from the backend
  ?            Show this help
  q            Quit

CONVERSATION
────────────
  Type         Compose a message
  Enter        Send
  ctrl+y       Copy the last message to the clipboard
  ctrl+r       Refetch the transcript
  pgup/pgdown  Scroll
  esc          Back to conversation list

Replies arrive live; a delayed refetch picks up anything the live
feed missed.

Press esc to return to the conversation list
`

	return helpStyle.Render(help)
}
