package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/neilberkman/chatsync/internal/core/app"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/session"
	"github.com/neilberkman/chatsync/internal/core/transcript"
)

type viewMode int

const (
	listView viewMode = iota
	chatView
	helpView
)

// editMode is the list view's title prompt, if open
type editMode int

const (
	editNone editMode = iota
	editNew
	editRename
)

type Model struct {
	ctx  context.Context
	app  *app.App
	sync *transcript.Synchronizer

	mode     viewMode
	list     list.Model
	viewport viewport.Model
	input    textinput.Model
	prompt   textinput.Model
	spinner  spinner.Model
	markdown *glamour.TermRenderer
	style    string
	width    int
	height   int

	editing       editMode
	renameID      string
	pendingDelete string

	// Open conversation
	conv     models.Conversation
	rendered int
	sending  bool

	status string
	err    error
}

// New builds the model. The synchronizer it owns reports changes through
// bridge; call Close once the program exits.
func New(ctx context.Context, a *app.App, bridge *Bridge) (Model, error) {
	s, err := a.NewSynchronizer(transcript.WithOnChange(bridge.TranscriptChanged))
	if err != nil {
		return Model{}, err
	}

	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = models.MaxMessageLength
	input.Prompt = "> "

	prompt := textinput.New()
	prompt.CharLimit = models.MaxTitleLength
	prompt.Prompt = "Title: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Resolve the markdown style before the program owns the terminal
	style := "light"
	if lipgloss.HasDarkBackground() {
		style = "dark"
	}

	return Model{
		ctx:      ctx,
		app:      a,
		sync:     s,
		mode:     listView,
		list:     createConversationList(nil, 0, 0),
		viewport: viewport.New(0, 0),
		input:    input,
		prompt:   prompt,
		spinner:  sp,
		style:    style,
	}, nil
}

// Close detaches the synchronizer
func (m Model) Close() error {
	return m.sync.Close()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(refreshDirectory(m.ctx, m.app.Directory), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.editing != editNone {
			return m.updatePrompt(msg)
		}

		// Mode-specific key handling
		switch m.mode {
		case listView:
			return m.updateList(msg)
		case chatView:
			return m.updateChat(msg)
		case helpView:
			return m.updateHelp(msg)
		}

	case tea.MouseMsg:
		if m.mode == chatView {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil

	case directoryChangedMsg:
		m.syncList()
		if m.mode == chatView {
			// Title edits and deletion of the open conversation
			if conv, ok := m.app.Directory.Get(m.conv.ID); ok {
				m.conv = conv
			}
		}
		return m, nil

	case directoryLoadedMsg:
		m.err = msg.err
		m.syncList()
		return m, nil

	case transcriptChangedMsg:
		if m.mode == chatView {
			m.renderTranscript()
		}
		return m, nil

	case transcriptLoadedMsg:
		if msg.id != m.conv.ID {
			return m, nil
		}
		m.err = msg.err
		m.renderTranscript()
		return m, nil

	case conversationCreatedMsg:
		if msg.err != nil {
			m.status = "Create failed: " + msg.err.Error()
			return m, nil
		}
		m.syncList()
		return m.openConversation(msg.conv)

	case conversationRenamedMsg:
		if msg.err != nil {
			m.status = "Rename failed: " + msg.err.Error()
			return m, nil
		}
		m.status = "Renamed to " + msg.conv.Title
		m.syncList()
		return m, nil

	case conversationDeletedMsg:
		if msg.err != nil {
			m.status = "Delete failed: " + msg.err.Error()
		} else {
			m.status = "Conversation deleted"
		}
		m.syncList()
		return m, nil

	case messageSentMsg:
		m.sending = false
		if msg.err != nil {
			// The draft stays in the input so it can be retried
			m.status = "Send failed: " + msg.err.Error()
			return m, nil
		}
		if m.input.Value() == msg.content {
			m.input.Reset()
		}
		m.status = ""
		m.renderTranscript()
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = "Clipboard unavailable: " + msg.err.Error()
		} else {
			m.status = "Copied last message to clipboard"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.app.Session.Status() == session.StatusAnonymous {
		return "Not signed in. Run 'chatsync login', then start chatsync again.\n\nPress ctrl+c to quit"
	}

	switch m.mode {
	case listView:
		return m.viewList()
	case chatView:
		return m.viewChat()
	case helpView:
		return m.viewHelp()
	}

	return ""
}

// resize lays views out for the current window
func (m *Model) resize() {
	m.list.SetSize(m.width, m.height-2) // Help and status lines
	m.viewport.Width = m.width
	m.viewport.Height = chatViewportHeight(m.height)
	m.input.Width = m.width - len(m.input.Prompt) - 1
	m.prompt.Width = m.width - len(m.prompt.Prompt) - 1
	m.markdown = newMarkdownRenderer(m.style, m.width)
	if m.mode == chatView {
		m.rendered = -1
		m.renderTranscript()
	}
}

func newMarkdownRenderer(style string, width int) *glamour.TermRenderer {
	wrap := width - 4
	if wrap < 20 {
		wrap = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		// Fallback to plain text if renderer initialization fails
		return nil
	}
	return r
}
