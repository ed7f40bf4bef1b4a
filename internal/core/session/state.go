// Package session tracks the authenticated identity and gates every other
// component: with no identity, nothing reads or writes conversations.
package session

import (
	"context"
	"sync"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

// Status is the session lifecycle state
type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Listener is called after every status transition
type Listener func(status Status, identity *models.Identity)

// State holds the current identity.
// Transitions: Unknown -> {Authenticated, Anonymous}, Authenticated <-> Anonymous.
// Nothing ever returns to Unknown.
type State struct {
	mu        sync.Mutex
	provider  backend.SessionProvider
	reporter  telemetry.Reporter
	status    Status
	identity  *models.Identity
	listeners map[int]Listener
	nextID    int
	unwatch   func()
}

// New creates a session state in the Unknown status
func New(provider backend.SessionProvider, reporter telemetry.Reporter) *State {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	return &State{
		provider:  provider,
		reporter:  reporter,
		listeners: make(map[int]Listener),
	}
}

// Init resolves whether a session exists. Until it returns, Loading is true.
// A provider failure resolves to Anonymous and is returned as a Remote error.
func (s *State) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.unwatch == nil {
		s.unwatch = s.provider.OnSessionChange(s.handleExternalChange)
	}
	s.mu.Unlock()

	identity, err := s.provider.CurrentIdentity(ctx)
	if err != nil {
		err = apperr.Remote("session.init", err)
		s.reporter.Failure("session.init", err)
		identity = nil
	}

	s.mu.Lock()
	if s.status != StatusUnknown {
		// An external notification already resolved the session
		s.mu.Unlock()
		return err
	}
	s.setLocked(identity)
	s.mu.Unlock()

	s.notify()
	return err
}

// Loading is true until the initial session check resolves
func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusUnknown
}

// Status returns the current lifecycle state
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Identity returns the active identity, if any
func (s *State) Identity() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return models.Identity{}, false
	}
	return *s.identity, true
}

// SignOut invalidates the remote session, then clears the local identity.
// The local identity is cleared even if the remote call fails.
func (s *State) SignOut(ctx context.Context) error {
	if _, ok := s.Identity(); !ok {
		return apperr.Unauthorized("session.sign_out")
	}

	err := s.provider.SignOut(ctx)
	if err != nil {
		err = apperr.Remote("session.sign_out", err)
		s.reporter.Failure("session.sign_out", err)
	}

	s.mu.Lock()
	changed := s.setLocked(nil)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return err
}

// Subscribe registers fn for status transitions. The returned func removes it.
func (s *State) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Close stops watching the provider for external changes
func (s *State) Close() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

func (s *State) handleExternalChange(identity *models.Identity) {
	s.mu.Lock()
	changed := s.setLocked(identity)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// setLocked applies a transition and reports whether anything changed
func (s *State) setLocked(identity *models.Identity) bool {
	next := StatusAnonymous
	if identity != nil {
		next = StatusAuthenticated
		cp := *identity
		identity = &cp
	}

	if s.status == next && sameIdentity(s.identity, identity) {
		return false
	}
	s.status = next
	s.identity = identity

	keyvals := []interface{}{"status", next.String()}
	if identity != nil {
		keyvals = append(keyvals, "identity", identity.ID)
	}
	s.reporter.Event("session.changed", keyvals...)
	return true
}

func (s *State) notify() {
	s.mu.Lock()
	status := s.status
	var identity *models.Identity
	if s.identity != nil {
		cp := *s.identity
		identity = &cp
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(status, identity)
	}
}

func sameIdentity(a, b *models.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
