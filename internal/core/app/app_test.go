package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/session"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

func openLocal(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults(t.TempDir())
	cfg.ReconcileDelay = 20 * time.Millisecond

	a, err := Open(context.Background(), cfg, telemetry.NewLogger(io.Discard, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := openLocal(t)
	require.NotNil(t, a.Store)

	require.NoError(t, a.Init(ctx))
	assert.Equal(t, session.StatusAnonymous, a.Session.Status())
	_, err := a.RequireIdentity()
	assert.Error(t, err)

	_, err = a.Auth.SignUp(ctx, "ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)
	require.Equal(t, session.StatusAuthenticated, a.Session.Status())

	conv, err := a.Directory.Create(ctx, "Plans")
	require.NoError(t, err)

	sync, err := a.NewSynchronizer()
	require.NoError(t, err)
	defer sync.Close()

	require.NoError(t, sync.Attach(ctx, conv.ID))
	_, err = sync.Send(ctx, "hello there")
	require.NoError(t, err)
	require.NoError(t, sync.Drain(ctx))

	require.Eventually(t, func() bool {
		msgs := sync.Messages()
		return len(msgs) == 2 && msgs[1].IsAutomated
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "You said: hello there", sync.Messages()[1].Content)

	got, ok := a.Directory.Get(conv.ID)
	require.True(t, ok)
	assert.GreaterOrEqual(t, got.MessageCount, 1, "directory touched by the send")
}

func TestSignOutClearsDirectory(t *testing.T) {
	ctx := context.Background()
	a := openLocal(t)
	require.NoError(t, a.Init(ctx))

	_, err := a.Auth.SignUp(ctx, "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	_, err = a.Directory.Create(ctx, "Plans")
	require.NoError(t, err)
	require.Len(t, a.Directory.Conversations(), 1)

	require.NoError(t, a.Session.SignOut(ctx))
	assert.Empty(t, a.Directory.Conversations())
}

func TestSessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Defaults(dir)
	logger := telemetry.NewLogger(io.Discard, "error")

	first, err := Open(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, first.Init(ctx))
	_, err = first.Auth.SignUp(ctx, "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	_, err = first.Directory.Create(ctx, "Kept")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, cfg, logger)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Init(ctx))

	id, err := second.RequireIdentity()
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Empty(t, second.Directory.Conversations(), "Init does not load the directory")

	require.NoError(t, second.Directory.Refresh(ctx))
	convs := second.Directory.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "Kept", convs[0].Title)
}

func TestSyncConfigRejectsUnknownPolicy(t *testing.T) {
	a := openLocal(t)
	a.Config.MergePolicy = "newest"
	_, err := a.SyncConfig()
	assert.Error(t, err)

	a.Config.MergePolicy = "union"
	cfg, err := a.SyncConfig()
	require.NoError(t, err)
	assert.Equal(t, "union", string(cfg.MergePolicy))
}

