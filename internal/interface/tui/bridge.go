package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Bridge forwards change hooks from the core into a running program.
// Hooks fire on background goroutines and sometimes from inside Update, so
// messages are delivered asynchronously. Changes before Bind are dropped;
// the model loads its state in Init.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
}

// Bind sets the program that receives change messages
func (b *Bridge) Bind(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
}

// DirectoryChanged is passed to the directory's change hook
func (b *Bridge) DirectoryChanged() {
	b.send(directoryChangedMsg{})
}

// TranscriptChanged is passed to the synchronizer's change hook
func (b *Bridge) TranscriptChanged() {
	b.send(transcriptChangedMsg{})
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.program
	b.mu.Unlock()
	if p == nil {
		return
	}
	go p.Send(msg)
}
