package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/db"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

type countingPruner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingPruner) PruneAuthSessions(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 1, p.err
}

func (p *countingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestRunOncePrunesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	user, err := store.CreateUser(ctx, "ada@example.com", "Ada", "hash")
	require.NoError(t, err)
	_, err = store.CreateAuthSession(ctx, user.ID, "expired", -time.Minute)
	require.NoError(t, err)
	_, err = store.CreateAuthSession(ctx, user.ID, "live", time.Hour)
	require.NoError(t, err)

	rec := &telemetry.Recorder{}
	w := NewWorker(store, rec, 0)
	assert.Equal(t, int64(1), w.RunOnce(ctx))
	assert.True(t, rec.HasEvent("maintenance.prune_sessions"))

	_, err = store.AuthSessionByToken(ctx, "live")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), w.RunOnce(ctx))
}

func TestRunOnceReportsFailure(t *testing.T) {
	rec := &telemetry.Recorder{}
	w := NewWorker(&countingPruner{err: errors.New("database is locked")}, rec, time.Hour)
	assert.Equal(t, int64(0), w.RunOnce(context.Background()))
	assert.Len(t, rec.FailuresFor("maintenance.prune_sessions"), 1)
}

func TestStartStopsWithContext(t *testing.T) {
	p := &countingPruner{}
	w := NewWorker(p, nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return p.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
