package db

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// watchDebounce coalesces bursts of file events from one commit
const watchDebounce = 50 * time.Millisecond

// broker fans transcript snapshots out to subscribers
type broker struct {
	db *DB

	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	seq     uint64 // orders snapshot reads; a higher ticket read later
	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool

	// registered runs between registering a subscriber and reading its
	// initial snapshot
	registered func()
}

type subscriber struct {
	latest chan []models.Message // capacity 1, holds the newest undelivered snapshot
	sig    uint64
	ticket uint64 // ticket of the snapshot last offered
}

func newBroker(db *DB) *broker {
	return &broker{
		db:   db,
		subs: make(map[string]map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

// subscribe registers before reading the initial snapshot, so a write that
// lands in between is either in the snapshot or published to the subscriber.
func (b *broker) subscribe(ctx context.Context, conversationID string) (<-chan []models.Message, error) {
	sub := &subscriber{latest: make(chan []models.Message, 1)}

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[*subscriber]struct{})
	}
	b.subs[conversationID][sub] = struct{}{}
	hook := b.registered
	b.mu.Unlock()
	if hook != nil {
		hook()
	}

	ticket := b.ticket()
	snapshot, err := b.db.ListMessages(ctx, conversationID)
	if err != nil {
		b.remove(conversationID, sub)
		return nil, err
	}
	b.mu.Lock()
	sub.offer(ticket, snapshot)
	b.mu.Unlock()
	b.ensureWatcher()

	out := make(chan []models.Message)
	go func() {
		defer close(out)
		defer b.remove(conversationID, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msgs := <-sub.latest:
				select {
				case out <- msgs:
				case <-ctx.Done():
					return
				case <-b.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *broker) remove(conversationID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[conversationID], sub)
	if len(b.subs[conversationID]) == 0 {
		delete(b.subs, conversationID)
	}
}

// publish sends the current transcript of conversationID to its subscribers
func (b *broker) publish(conversationID string) {
	b.mu.Lock()
	n := len(b.subs[conversationID])
	b.mu.Unlock()
	if n == 0 {
		return
	}

	ticket := b.ticket()
	snapshot, err := b.db.ListMessages(context.Background(), conversationID)
	if err != nil {
		return
	}
	b.deliver(conversationID, ticket, snapshot)
}

func (b *broker) ticket() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

func (b *broker) deliver(conversationID string, ticket uint64, snapshot []models.Message) {
	sig := signature(snapshot)
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[conversationID] {
		if sub.sig == sig {
			continue
		}
		sub.offer(ticket, snapshot)
	}
}

// publishAll re-reads every subscribed transcript; used after an external write
func (b *broker) publishAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.publish(id)
	}
}

// offer replaces any undelivered snapshot with msgs unless sub was already
// offered a snapshot read after ticket. Callers hold the broker lock.
func (s *subscriber) offer(ticket uint64, msgs []models.Message) {
	if ticket < s.ticket {
		return
	}
	s.ticket = ticket
	s.sig = signature(msgs)
	for {
		select {
		case s.latest <- msgs:
			return
		default:
		}
		select {
		case <-s.latest:
		default:
		}
	}
}

// ensureWatcher starts watching the database directory so writes made by
// other processes reach local subscribers. Without a watcher only writes
// through this DB are published.
func (b *broker) ensureWatcher() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watcher != nil || b.closed {
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := w.Add(filepath.Dir(b.db.path)); err != nil {
		_ = w.Close()
		return
	}
	b.watcher = w
	go b.watch(w)
}

func (b *broker) watch(w *fsnotify.Watcher) {
	base := filepath.Base(b.db.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// The -wal and -shm files change on every commit
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(watchDebounce, b.publishAll)
			} else {
				debounce.Reset(watchDebounce)
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	w := b.watcher
	b.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// signature identifies a snapshot by ids and contents so unchanged
// transcripts are not re-delivered
func signature(msgs []models.Message) uint64 {
	h := fnv.New64a()
	for _, m := range msgs {
		_, _ = h.Write([]byte(m.ID))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(m.Content))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
