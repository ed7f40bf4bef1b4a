// Package backendtest provides an in-memory backend that records every call,
// for tests that need to assert on network traffic.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// ErrInjected is returned by operations configured to fail
var ErrInjected = errors.New("injected failure")

// Fake implements every backend collaborator in memory
type Fake struct {
	mu sync.Mutex

	identity  *models.Identity
	listeners map[int]func(*models.Identity)
	nextID    int

	convs    map[string]models.Conversation
	messages map[string][]models.Message
	subs     map[string][]*subscriber

	calls  []string
	failOn map[string]error
	holds  map[string]*hold

	// AutoReply makes TriggerResponse insert an automated message
	AutoReply bool
	// ReplyDelay delays AutoReply insertion
	ReplyDelay time.Duration
	// Now supplies timestamps; each call advances one millisecond by default
	Now func() time.Time

	clock time.Time
	wg    sync.WaitGroup
}

// New returns an empty fake with no identity
func New() *Fake {
	return &Fake{
		listeners: make(map[int]func(*models.Identity)),
		convs:     make(map[string]models.Conversation),
		messages:  make(map[string][]models.Message),
		subs:      make(map[string][]*subscriber),
		failOn:    make(map[string]error),
		holds:     make(map[string]*hold),
		clock:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Client wraps the fake in a backend handle
func (f *Fake) Client() *backend.Client {
	return backend.NewClient(f, f, f, f)
}

// SetIdentity sets the identity returned by CurrentIdentity without notifying
func (f *Fake) SetIdentity(id *models.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = id
}

// ExpireSession simulates an external session change
func (f *Fake) ExpireSession(id *models.Identity) {
	f.mu.Lock()
	f.identity = id
	listeners := make([]func(*models.Identity), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l(id)
	}
}

// FailOn makes the named operation return err (nil clears it)
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, op)
		return
	}
	f.failOn[op] = err
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// Hold makes the next call of op block after it is recorded. entered is
// closed once the call is blocked; release lets it continue.
func (f *Fake) Hold(op string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.holds[op] = h
	f.mu.Unlock()
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

// Calls returns every recorded operation name in order
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts recorded calls of op
func (f *Fake) CallCount(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Wait blocks until delayed auto-replies have been written
func (f *Fake) Wait() { f.wg.Wait() }

// SeedConversation stores c directly, bypassing the call log
func (f *Fake) SeedConversation(c models.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[c.ID] = c
}

// SeedMessage stores m directly, bypassing the call log
func (f *Fake) SeedMessage(m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], m)
}

// Push delivers a snapshot to every subscriber of conversationID
func (f *Fake) Push(conversationID string, msgs []models.Message) {
	f.mu.Lock()
	subs := append([]*subscriber(nil), f.subs[conversationID]...)
	f.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- append([]models.Message(nil), msgs...):
		case <-s.done:
		}
	}
}

type subscriber struct {
	ch   chan []models.Message
	done chan struct{}
}

// Subscribers returns the number of live subscriptions for conversationID
func (f *Fake) Subscribers(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[conversationID])
}

// Stored returns the persisted messages of a conversation
func (f *Fake) Stored(conversationID string) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.Message(nil), f.messages[conversationID]...)
	models.SortMessages(out)
	return out
}

func (f *Fake) record(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	err := f.failOn[op]
	h := f.holds[op]
	delete(f.holds, op)
	f.mu.Unlock()

	if h != nil {
		close(h.entered)
		<-h.release
	}
	return err
}

func (f *Fake) nowLocked() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

// SessionProvider

func (f *Fake) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	if err := f.record("CurrentIdentity"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity == nil {
		return nil, nil
	}
	cp := *f.identity
	return &cp, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	if err := f.record("SignOut"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = nil
	return nil
}

func (f *Fake) OnSessionChange(fn func(*models.Identity)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Directory

func (f *Fake) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	if err := f.record("ListConversations"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Conversation
	for _, c := range f.convs {
		if c.OwnerID == ownerID {
			c.MessageCount = len(f.messages[c.ID])
			out = append(out, c)
		}
	}
	models.SortConversations(out)
	return out, nil
}

func (f *Fake) CreateConversation(ctx context.Context, ownerID, title string) (models.Conversation, error) {
	if err := f.record("CreateConversation"); err != nil {
		return models.Conversation{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.nowLocked()
	c := models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.convs[c.ID] = c
	return c, nil
}

func (f *Fake) RenameConversation(ctx context.Context, id, title string) (models.Conversation, error) {
	if err := f.record("RenameConversation"); err != nil {
		return models.Conversation{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return models.Conversation{}, fmt.Errorf("conversation %s not found", id)
	}
	c.Title = title
	c.UpdatedAt = f.nowLocked()
	f.convs[id] = c
	return c, nil
}

func (f *Fake) DeleteConversation(ctx context.Context, id string) error {
	if err := f.record("DeleteConversation"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.convs, id)
	delete(f.messages, id)
	return nil
}

// Transcript

func (f *Fake) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := f.record("ListMessages"); err != nil {
		return nil, err
	}
	return f.Stored(conversationID), nil
}

func (f *Fake) SubscribeMessages(ctx context.Context, conversationID string) (<-chan []models.Message, error) {
	if err := f.record("SubscribeMessages"); err != nil {
		return nil, err
	}
	sub := &subscriber{ch: make(chan []models.Message), done: make(chan struct{})}
	out := make(chan []models.Message)

	f.mu.Lock()
	f.subs[conversationID] = append(f.subs[conversationID], sub)
	f.mu.Unlock()

	go func() {
		defer close(out)
		defer f.unsubscribe(conversationID, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-sub.ch:
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *Fake) unsubscribe(conversationID string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(sub.done)
	subs := f.subs[conversationID]
	for i, s := range subs {
		if s == sub {
			f.subs[conversationID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (f *Fake) SendMessage(ctx context.Context, conversationID, content, authorID string) (models.Message, error) {
	if err := f.record("SendMessage"); err != nil {
		return models.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(conversationID, content, false, authorID)
}

func (f *Fake) insertLocked(conversationID, content string, automated bool, authorID string) (models.Message, error) {
	c, ok := f.convs[conversationID]
	if !ok {
		return models.Message{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	m := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		IsAutomated:    automated,
		AuthorID:       authorID,
		CreatedAt:      f.nowLocked(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	c.UpdatedAt = m.CreatedAt
	f.convs[conversationID] = c
	return m, nil
}

// Responder

func (f *Fake) TriggerResponse(ctx context.Context, conversationID, content string) (backend.TriggerResult, error) {
	if err := f.record("TriggerResponse"); err != nil {
		return backend.TriggerResult{}, err
	}
	if !f.AutoReply {
		return backend.TriggerResult{Success: true}, nil
	}

	reply := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, _ = f.insertLocked(conversationID, "Automated reply to: "+content, true, "")
	}
	if f.ReplyDelay <= 0 {
		reply()
		return backend.TriggerResult{Success: true, Message: "ok"}, nil
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		time.Sleep(f.ReplyDelay)
		reply()
	}()
	return backend.TriggerResult{Success: true, Message: "queued"}, nil
}
