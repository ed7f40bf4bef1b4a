// Package transcript keeps the message log of one attached conversation in
// sync with the remote store, fed by both a pull query and a push
// subscription, and runs the send workflow.
package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

// State is the attachment lifecycle
type State int

const (
	Detached State = iota
	Attaching
	Live
)

func (s State) String() string {
	switch s {
	case Attaching:
		return "attaching"
	case Live:
		return "live"
	default:
		return "detached"
	}
}

// MergePolicy decides how pull and push snapshots combine
type MergePolicy string

const (
	// MergeSelect shows the push list once push has delivered since attach,
	// otherwise the pull list.
	MergeSelect MergePolicy = "select"
	// MergeUnion shows the id-set union of both lists.
	MergeUnion MergePolicy = "union"
)

// ParseMergePolicy accepts "select", "union" or empty (select)
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(s) {
	case "", MergeSelect:
		return MergeSelect, nil
	case MergeUnion:
		return MergeUnion, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", s)
}

// Config tunes reconciliation after a send
type Config struct {
	ReconcileDelay    time.Duration
	ReconcileAttempts int
	MergePolicy       MergePolicy
}

// DefaultConfig matches the hosted backend's usual persistence lag
func DefaultConfig() Config {
	return Config{
		ReconcileDelay:    1200 * time.Millisecond,
		ReconcileAttempts: 1,
		MergePolicy:       MergeSelect,
	}
}

// IdentitySource supplies the active identity. *session.State satisfies it.
type IdentitySource interface {
	Identity() (models.Identity, bool)
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

func WithConfig(cfg Config) Option {
	return func(s *Synchronizer) { s.cfg = cfg }
}

func WithReporter(r telemetry.Reporter) Option {
	return func(s *Synchronizer) { s.reporter = r }
}

// WithOnChange registers a callback fired after any visible change
func WithOnChange(fn func()) Option {
	return func(s *Synchronizer) { s.onChange = fn }
}

// WithOnActivity registers a callback for every message that appears after
// the initial load, including the caller's own sends.
func WithOnActivity(fn func(models.Message)) Option {
	return func(s *Synchronizer) { s.onActivity = fn }
}

// Synchronizer owns the transcript of at most one conversation at a time
type Synchronizer struct {
	mu         sync.Mutex
	transcript backend.Transcript
	responder  backend.Responder
	identity   IdentitySource
	cfg        Config
	reporter   telemetry.Reporter
	onChange   func()
	onActivity func(models.Message)

	state    State
	convID   string
	gen      uint64
	cancel   context.CancelFunc
	timers   map[*time.Timer]struct{}
	pull     []models.Message
	push     []models.Message
	pushSeen bool
	pending  map[string]models.Message // local echoes not yet seen in a snapshot
	known    map[string]struct{}
	loading  bool
	sending  bool
	err      error

	// Background triggers and reconciliations in flight. idle is closed
	// whenever inflight drops to zero.
	inflight int
	idle     chan struct{}
}

// New creates a detached synchronizer
func New(transcript backend.Transcript, responder backend.Responder, identity IdentitySource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		transcript: transcript,
		responder:  responder,
		identity:   identity,
		cfg:        DefaultConfig(),
		reporter:   telemetry.Nop{},
		timers:     make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ReconcileAttempts < 0 {
		s.cfg.ReconcileAttempts = 0
	}
	if s.cfg.MergePolicy == "" {
		s.cfg.MergePolicy = MergeSelect
	}
	return s
}

// State returns the lifecycle state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the attached conversation, or ""
func (s *Synchronizer) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Sending is true only while a message write is in flight
func (s *Synchronizer) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Err returns the last error from a fetch the user waited on
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Messages returns the visible transcript ordered by created-at
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

func (s *Synchronizer) visibleLocked() []models.Message {
	var base []models.Message
	switch {
	case s.cfg.MergePolicy == MergeUnion:
		base = models.UnionMessages(s.pull, s.push)
	case s.pushSeen:
		base = s.push
	default:
		base = s.pull
	}
	out := make([]models.Message, 0, len(base)+len(s.pending))
	out = append(out, base...)
	for _, m := range s.pending {
		out = append(out, m)
	}
	return models.DedupeMessages(out)
}

// Attach detaches from any previous conversation, fetches the transcript of
// convID and opens its push subscription. Fetch errors are returned and
// kept in Err.
func (s *Synchronizer) Attach(ctx context.Context, convID string) error {
	const op = "transcript.attach"
	if _, ok := s.identity.Identity(); !ok {
		return apperr.Unauthorized(op)
	}
	if err := models.ValidateID(convID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.convID == convID && s.state != Detached {
		s.mu.Unlock()
		return s.Refresh(ctx)
	}
	s.detachLocked()
	s.gen++
	gen := s.gen
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.state = Attaching
	s.convID = convID
	s.cancel = cancel
	s.loading = true
	s.pending = make(map[string]models.Message)
	s.known = make(map[string]struct{})
	s.mu.Unlock()
	s.changed()

	// Subscribe first so nothing written during the fetch is missed
	ch, err := s.transcript.SubscribeMessages(subCtx, convID)
	if err != nil {
		s.reporter.Failure("transcript.subscribe", apperr.Remote("transcript.subscribe", err), "conversation", convID)
	} else {
		go s.consume(gen, ch)
	}

	msgs, err := s.transcript.ListMessages(ctx, convID)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	s.state = Live
	if err != nil {
		err = apperr.Remote(op, err)
		s.err = err
	} else {
		s.pull = models.DedupeMessages(msgs)
		s.err = nil
		for _, id := range models.MessageIDs(s.visibleLocked()) {
			s.known[id] = struct{}{}
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.reporter.Failure(op, err, "conversation", convID)
	} else {
		s.reporter.Event(op, "conversation", convID, "messages", len(msgs))
	}
	s.changed()
	return err
}

// Detach releases the subscription and cancels pending reconciliations
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	wasAttached := s.state != Detached
	s.detachLocked()
	s.gen++
	s.mu.Unlock()
	if wasAttached {
		s.changed()
	}
}

// Close detaches. Background trigger calls already in flight still finish.
func (s *Synchronizer) Close() error {
	s.Detach()
	return nil
}

func (s *Synchronizer) detachLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for t := range s.timers {
		if t.Stop() {
			s.endLocked()
		}
	}
	s.timers = make(map[*time.Timer]struct{})
	s.state = Detached
	s.convID = ""
	s.pull = nil
	s.push = nil
	s.pushSeen = false
	s.pending = nil
	s.known = nil
	s.loading = false
	s.sending = false
	s.err = nil
}

// Refresh re-runs the pull query for the attached conversation
func (s *Synchronizer) Refresh(ctx context.Context) error {
	const op = "transcript.refresh"
	if _, ok := s.identity.Identity(); !ok {
		return apperr.Unauthorized(op)
	}
	s.mu.Lock()
	if s.state == Detached {
		s.mu.Unlock()
		return nil
	}
	gen, convID := s.gen, s.convID
	s.loading = true
	s.mu.Unlock()

	msgs, err := s.transcript.ListMessages(ctx, convID)
	err = apperr.Remote(op, err)
	if !s.applyPull(gen, msgs, err, true) {
		return nil
	}
	if err != nil {
		s.reporter.Failure(op, err, "conversation", convID)
	}
	return err
}

// Send writes content to the attached conversation. It returns once the
// write has completed; the responder trigger and reconciliation run in the
// background and never fail the call.
func (s *Synchronizer) Send(ctx context.Context, content string) (models.Message, error) {
	const op = "transcript.send"
	ident, ok := s.identity.Identity()
	if !ok {
		return models.Message{}, apperr.Unauthorized(op)
	}
	clean, err := models.ValidateMessage(content)
	if err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	if s.state == Detached {
		s.mu.Unlock()
		return models.Message{}, apperr.Validation(op, "conversation_id", "no conversation attached")
	}
	gen, convID := s.gen, s.convID
	s.sending = true
	s.mu.Unlock()
	s.changed()

	msg, err := s.transcript.SendMessage(ctx, convID, clean, ident.ID)

	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.sending = false
	}
	if err == nil && current {
		if msg.ConversationID == "" {
			msg.ConversationID = convID
		}
		s.pending[msg.ID] = msg
		s.known[msg.ID] = struct{}{}
	}
	s.mu.Unlock()

	if err != nil {
		err = apperr.Remote(op, err)
		s.reporter.Failure(op, err, "conversation", convID)
		s.changed()
		return models.Message{}, err
	}

	s.reporter.Event(op, "conversation", convID, "message", msg.ID)
	if current {
		s.activity(msg)
	}
	s.changed()

	s.mu.Lock()
	s.beginLocked()
	s.mu.Unlock()
	go s.trigger(context.WithoutCancel(ctx), convID, clean)
	s.scheduleReconcile(gen, convID)
	return msg, nil
}

// Drain waits until background triggers and scheduled reconciliations
// have finished or been cancelled. It may run concurrently with Send.
func (s *Synchronizer) Drain(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synchronizer) beginLocked() {
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
}

func (s *Synchronizer) endLocked() {
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
}

func (s *Synchronizer) end() {
	s.mu.Lock()
	s.endLocked()
	s.mu.Unlock()
}

func (s *Synchronizer) trigger(ctx context.Context, convID, content string) {
	const op = "transcript.trigger"
	defer s.end()

	res, err := s.responder.TriggerResponse(ctx, convID, content)
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "responder reported failure"
		}
		err = errors.New(msg)
	}
	if err != nil {
		s.reporter.Failure(op, apperr.BestEffort(op, err), "conversation", convID)
		return
	}
	s.reporter.Event(op, "conversation", convID)
}

func (s *Synchronizer) scheduleReconcile(gen uint64, convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	for i := 1; i <= s.cfg.ReconcileAttempts; i++ {
		attempt := i
		s.beginLocked()
		var t *time.Timer
		t = time.AfterFunc(time.Duration(attempt)*s.cfg.ReconcileDelay, func() {
			defer s.end()
			s.mu.Lock()
			delete(s.timers, t)
			s.mu.Unlock()
			s.reconcile(gen, convID, attempt)
		})
		s.timers[t] = struct{}{}
	}
}

func (s *Synchronizer) reconcile(gen uint64, convID string, attempt int) {
	const op = "transcript.reconcile"
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}

	msgs, err := s.transcript.ListMessages(context.Background(), convID)
	if err != nil {
		if s.stillAttached(gen) {
			s.reporter.Failure(op, apperr.BestEffort(op, err), "conversation", convID, "attempt", attempt)
		}
		return
	}
	if s.applyPull(gen, msgs, nil, false) {
		s.reporter.Event(op, "conversation", convID, "attempt", attempt, "messages", len(msgs))
	}
}

func (s *Synchronizer) stillAttached(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// applyPull stores a pull snapshot if gen is still attached. A failed
// foreground fetch sets Err; a background one leaves it alone.
func (s *Synchronizer) applyPull(gen uint64, msgs []models.Message, err error, foreground bool) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	if foreground {
		s.loading = false
		s.err = err
	}
	var fresh []models.Message
	if err == nil {
		s.pull = models.DedupeMessages(msgs)
		fresh = s.absorbLocked(s.pull)
	}
	s.mu.Unlock()

	for _, m := range fresh {
		s.activity(m)
	}
	s.changed()
	return true
}

func (s *Synchronizer) consume(gen uint64, ch <-chan []models.Message) {
	for batch := range ch {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			continue
		}
		s.push = models.DedupeMessages(batch)
		s.pushSeen = true
		fresh := s.absorbLocked(s.push)
		s.mu.Unlock()

		for _, m := range fresh {
			s.activity(m)
		}
		s.changed()
	}
}

// absorbLocked retires echoes confirmed by a snapshot and returns messages
// not seen before. Nothing counts as new until the initial fetch is done.
func (s *Synchronizer) absorbLocked(snapshot []models.Message) []models.Message {
	var fresh []models.Message
	for _, m := range snapshot {
		delete(s.pending, m.ID)
		if _, ok := s.known[m.ID]; ok {
			continue
		}
		s.known[m.ID] = struct{}{}
		if s.state == Live {
			fresh = append(fresh, m)
		}
	}
	return fresh
}

func (s *Synchronizer) activity(m models.Message) {
	if s.onActivity != nil {
		s.onActivity(m)
	}
}

func (s *Synchronizer) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
