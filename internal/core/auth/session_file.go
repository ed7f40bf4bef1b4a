// Package auth provides session providers for the local store and for a
// hosted Nhost-style auth service, plus the on-disk session they share.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// StoredSession is what a signed-in client keeps between runs
type StoredSession struct {
	Backend      string    `json:"backend"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
}

// Identity returns the identity recorded with the session
func (s *StoredSession) Identity() *models.Identity {
	return &models.Identity{ID: s.UserID, Email: s.Email, DisplayName: s.DisplayName}
}

// SessionFile persists a StoredSession as JSON with owner-only permissions
type SessionFile struct {
	mu   sync.Mutex
	path string
}

func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

// Path returns the file location
func (f *SessionFile) Path() string {
	return f.path
}

// Load returns the stored session, or nil if there is none
func (f *SessionFile) Load() (*StoredSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s StoredSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", f.path, err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// Save writes s atomically
func (f *SessionFile) Save(s *StoredSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Clear removes the stored session
func (f *SessionFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// listeners is the OnSessionChange registry both providers embed
type listeners struct {
	mu     sync.Mutex
	fns    map[int]func(*models.Identity)
	nextID int
}

func (l *listeners) add(fn func(*models.Identity)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(*models.Identity))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify(identity *models.Identity) {
	l.mu.Lock()
	fns := make([]func(*models.Identity), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		var cp *models.Identity
		if identity != nil {
			c := *identity
			cp = &c
		}
		fn(cp)
	}
}
