// Package directory keeps the locally cached, ordered list of the current
// identity's conversations and applies create/rename/delete against the
// remote store.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/session"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

// IdentitySource supplies the active identity. *session.State satisfies it.
type IdentitySource interface {
	Identity() (models.Identity, bool)
}

// PatchOp selects the kind of local patch
type PatchOp int

const (
	PatchInsert PatchOp = iota
	PatchRemove
	PatchReplace
)

// Patch is a typed edit of the local collection
type Patch struct {
	Op           PatchOp
	Conversation models.Conversation // insert/replace payload
	ID           string              // remove target
}

// Option configures a Directory
type Option func(*Directory)

// WithReporter sets the event reporter
func WithReporter(r telemetry.Reporter) Option {
	return func(d *Directory) { d.reporter = r }
}

// WithOnChange registers a callback fired after every local change
func WithOnChange(fn func()) Option {
	return func(d *Directory) { d.onChange = fn }
}

// Directory is the conversation list for the current identity
type Directory struct {
	mu       sync.Mutex
	svc      backend.Directory
	identity IdentitySource
	reporter telemetry.Reporter
	onChange func()

	items   []models.Conversation
	ownerID string
	loading bool
	err     error
	// gen advances on every Reset; results of calls started under an
	// older generation are dropped
	gen uint64
}

// New creates an empty directory
func New(svc backend.Directory, identity IdentitySource, opts ...Option) *Directory {
	d := &Directory{
		svc:      svc,
		identity: identity,
		reporter: telemetry.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Conversations returns a copy of the list, most recently updated first
func (d *Directory) Conversations() []models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Conversation(nil), d.items...)
}

// Get returns the cached conversation with id
func (d *Directory) Get(id string) (models.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := models.IndexOfConversation(d.items, id); i >= 0 {
		return d.items[i], true
	}
	return models.Conversation{}, false
}

// Loading is true while a fetch is in flight
func (d *Directory) Loading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading
}

// Err returns the last surfaced error
func (d *Directory) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Refresh re-fetches the full list. With no identity the list is cleared
// and nothing is requested.
func (d *Directory) Refresh(ctx context.Context) error {
	const op = "directory.refresh"
	id, ok := d.identity.Identity()
	if !ok {
		d.Reset()
		return nil
	}

	d.mu.Lock()
	gen := d.gen
	d.loading = true
	d.mu.Unlock()

	convs, err := d.svc.ListConversations(ctx, id.ID)

	d.mu.Lock()
	if !d.currentLocked(gen, id.ID) {
		// Signed out or switched identity while the fetch was in flight
		d.mu.Unlock()
		d.reporter.Event(op+".dropped", "identity", id.ID)
		return nil
	}
	d.loading = false
	if err != nil {
		err = apperr.Remote(op, err)
		d.err = err
		d.mu.Unlock()
		d.reporter.Failure(op, err)
		d.changed()
		return err
	}
	// The most recently completed fetch is authoritative
	d.items = ownedBy(convs, id.ID)
	d.ownerID = id.ID
	d.err = nil
	d.mu.Unlock()

	d.reporter.Event(op, "count", len(convs))
	d.changed()
	return nil
}

// Create validates title, creates the conversation remotely and places it
// at its sorted position in the local list.
func (d *Directory) Create(ctx context.Context, title string) (models.Conversation, error) {
	const op = "directory.create"
	id, ok := d.identity.Identity()
	if !ok {
		return models.Conversation{}, apperr.Unauthorized(op)
	}
	clean, err := models.ValidateTitle(title)
	if err != nil {
		return models.Conversation{}, err
	}
	gen := d.generation()

	conv, err := d.svc.CreateConversation(ctx, id.ID, clean)
	if err != nil {
		err = apperr.Remote(op, err)
		d.fail(op, err)
		return models.Conversation{}, err
	}
	if conv.OwnerID == "" {
		conv.OwnerID = id.ID
	}

	d.mu.Lock()
	applied := d.currentLocked(gen, id.ID) && conv.OwnerID == id.ID &&
		d.applyLocked(Patch{Op: PatchInsert, Conversation: conv})
	d.mu.Unlock()
	if applied {
		d.changed()
	}
	d.reporter.Event(op, "conversation", conv.ID)
	return conv, nil
}

// Rename changes a title once the remote confirms. There is no optimistic edit.
func (d *Directory) Rename(ctx context.Context, convID, title string) (models.Conversation, error) {
	const op = "directory.rename"
	if _, ok := d.identity.Identity(); !ok {
		return models.Conversation{}, apperr.Unauthorized(op)
	}
	if err := models.ValidateID(convID); err != nil {
		return models.Conversation{}, err
	}
	clean, err := models.ValidateTitle(title)
	if err != nil {
		return models.Conversation{}, err
	}

	updated, err := d.svc.RenameConversation(ctx, convID, clean)
	if err != nil {
		err = apperr.Remote(op, err)
		d.fail(op, err)
		return models.Conversation{}, err
	}

	// The rename payload may be partial; keep cached fields it lacks
	merged := updated
	if cached, ok := d.Get(convID); ok {
		merged = cached
		merged.Title = updated.Title
		if !updated.UpdatedAt.IsZero() {
			merged.UpdatedAt = updated.UpdatedAt
		}
	}
	if merged.Title == "" {
		merged.Title = clean
	}
	d.Apply(Patch{Op: PatchReplace, Conversation: merged})
	d.reporter.Event(op, "conversation", convID)
	return merged, nil
}

// Delete removes the conversation locally at once, then remotely.
// On remote failure the conversation is restored at its prior position.
func (d *Directory) Delete(ctx context.Context, convID string) error {
	const op = "directory.delete"
	id, ok := d.identity.Identity()
	if !ok {
		return apperr.Unauthorized(op)
	}
	if err := models.ValidateID(convID); err != nil {
		return err
	}

	d.mu.Lock()
	gen := d.gen
	idx := models.IndexOfConversation(d.items, convID)
	var removed models.Conversation
	if idx >= 0 {
		removed = d.items[idx]
		d.items = append(d.items[:idx:idx], d.items[idx+1:]...)
	}
	d.mu.Unlock()
	if idx >= 0 {
		d.changed()
	}

	if err := d.svc.DeleteConversation(ctx, convID); err != nil {
		err = apperr.Remote(op, err)
		if idx >= 0 {
			d.restore(removed, idx, gen, id.ID)
		}
		d.fail(op, err)
		return err
	}

	d.reporter.Event(op, "conversation", convID)
	return nil
}

// Apply performs a typed local patch. Inserts and replaces keep the list
// sorted and never duplicate an id.
func (d *Directory) Apply(p Patch) {
	d.mu.Lock()
	applied := d.applyLocked(p)
	d.mu.Unlock()
	if applied {
		d.changed()
	}
}

func (d *Directory) applyLocked(p Patch) bool {
	switch p.Op {
	case PatchInsert:
		d.items = models.InsertSorted(d.items, p.Conversation)
	case PatchReplace:
		if models.IndexOfConversation(d.items, p.Conversation.ID) < 0 {
			return false
		}
		d.items = models.InsertSorted(d.items, p.Conversation)
	case PatchRemove:
		idx := models.IndexOfConversation(d.items, p.ID)
		if idx < 0 {
			return false
		}
		d.items = append(d.items[:idx:idx], d.items[idx+1:]...)
	default:
		return false
	}
	return true
}

// Touch records message activity on a cached conversation: bumps
// updated-at, refreshes the preview and count, and re-sorts.
func (d *Directory) Touch(msg models.Message) {
	conv, ok := d.Get(msg.ConversationID)
	if !ok {
		return
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	conv.LastMessagePreview = models.Preview(msg.Content, models.PreviewLength)
	conv.MessageCount++
	d.Apply(Patch{Op: PatchReplace, Conversation: conv})
}

// Reset clears all local state, e.g. after sign-out
func (d *Directory) Reset() {
	d.mu.Lock()
	empty := len(d.items) == 0 && d.err == nil
	d.gen++
	d.items = nil
	d.ownerID = ""
	d.err = nil
	d.loading = false
	d.mu.Unlock()
	if !empty {
		d.changed()
	}
}

// Follow clears the directory whenever st becomes anonymous or switches
// to a different identity. The returned func stops following.
func (d *Directory) Follow(st *session.State) func() {
	return st.Subscribe(func(status session.Status, identity *models.Identity) {
		if status != session.StatusAuthenticated || identity == nil {
			d.Reset()
			return
		}
		d.mu.Lock()
		other := d.ownerID != "" && d.ownerID != identity.ID
		d.mu.Unlock()
		if other {
			d.Reset()
		}
	})
}

func (d *Directory) generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// currentLocked reports whether a result obtained for ownerID during
// generation gen may still be applied. Callers hold d.mu.
func (d *Directory) currentLocked(gen uint64, ownerID string) bool {
	if d.gen != gen {
		return false
	}
	id, ok := d.identity.Identity()
	return ok && id.ID == ownerID
}

func (d *Directory) restore(c models.Conversation, idx int, gen uint64, ownerID string) {
	d.mu.Lock()
	if !d.currentLocked(gen, ownerID) {
		d.mu.Unlock()
		return
	}
	if models.IndexOfConversation(d.items, c.ID) >= 0 {
		// A refresh already brought it back
		d.mu.Unlock()
		return
	}
	if idx > len(d.items) {
		idx = len(d.items)
	}
	d.items = append(d.items, models.Conversation{})
	copy(d.items[idx+1:], d.items[idx:])
	d.items[idx] = c
	d.mu.Unlock()
	d.changed()
}

func (d *Directory) fail(op string, err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.reporter.Failure(op, err)
	d.changed()
}

func (d *Directory) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}

// ownedBy drops records that belong to another identity and sorts the rest
func ownedBy(convs []models.Conversation, ownerID string) []models.Conversation {
	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.OwnerID == "" || c.OwnerID == ownerID {
			c.OwnerID = ownerID
			out = append(out, c)
		}
	}
	models.SortConversations(out)
	return out
}
