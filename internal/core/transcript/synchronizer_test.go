package transcript

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/backend/backendtest"
	"github.com/neilberkman/chatsync/internal/core/directory"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
)

type staticIdentity struct {
	id *models.Identity
}

func (s *staticIdentity) Identity() (models.Identity, bool) {
	if s.id == nil {
		return models.Identity{}, false
	}
	return *s.id, true
}

var (
	u1   = &staticIdentity{id: &models.Identity{ID: "u1"}}
	base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	return Config{ReconcileDelay: 20 * time.Millisecond, ReconcileAttempts: 1, MergePolicy: MergeSelect}
}

func seedConversation(fake *backendtest.Fake) string {
	id := uuid.NewString()
	fake.SeedConversation(models.Conversation{ID: id, Title: "Chat", OwnerID: "u1", CreatedAt: base, UpdatedAt: base})
	return id
}

func msg(convID, content string, offset time.Duration) models.Message {
	return models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Content:        content,
		CreatedAt:      base.Add(offset),
	}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func drain(t *testing.T, s *Synchronizer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	fake := backendtest.New()
	fake.AutoReply = true

	dir := directory.New(fake, u1)
	require.NoError(t, dir.Refresh(ctx))
	require.Empty(t, dir.Conversations())

	conv, err := dir.Create(ctx, "Trip planning")
	require.NoError(t, err)
	require.Len(t, dir.Conversations(), 1)
	assert.Equal(t, "Trip planning", dir.Conversations()[0].Title)

	s := New(fake, fake, u1, WithConfig(testConfig()), WithOnActivity(dir.Touch))
	defer s.Close()
	require.NoError(t, s.Attach(ctx, conv.ID))
	assert.Equal(t, Live, s.State())
	assert.Empty(t, s.Messages())

	sent, err := s.Send(ctx, "Where should I go?")
	require.NoError(t, err)
	assert.False(t, sent.IsAutomated)

	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Where should I go?", msgs[0].Content)
	assert.False(t, msgs[0].IsAutomated)

	drain(t, s)
	msgs = s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Where should I go?", msgs[0].Content)
	assert.True(t, msgs[1].IsAutomated)

	// Both the send and the automated reply touched the directory entry
	got, ok := dir.Get(conv.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, msgs[1].CreatedAt, got.UpdatedAt)
}

func TestSendRejectedLocally(t *testing.T) {
	tests := []struct {
		name    string
		ident   IdentitySource
		content string
		check   func(error) bool
	}{
		{"oversized", u1, strings.Repeat("A", models.MaxMessageLength+1), apperr.IsValidation},
		{"empty after sanitization", u1, " \x00\x07 \n ", apperr.IsValidation},
		{"no identity", &staticIdentity{}, "hello", apperr.IsUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := backendtest.New()
			convID := seedConversation(fake)
			fake.SeedMessage(msg(convID, "earlier", 0))

			s := New(fake, fake, u1, WithConfig(testConfig()))
			defer s.Close()
			require.NoError(t, s.Attach(context.Background(), convID))
			before := s.Messages()

			s.identity = tt.ident
			fake.ResetCalls()
			_, err := s.Send(context.Background(), tt.content)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected kind %v", apperr.KindOf(err))

			drain(t, s)
			assert.Empty(t, fake.Calls(), "zero network calls")
			assert.Equal(t, before, s.Messages())
		})
	}
}

func TestSendAtExactLimit(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)
	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	_, err := s.Send(context.Background(), strings.Repeat("A", models.MaxMessageLength))
	require.NoError(t, err)
	drain(t, s)
}

func TestTriggerFailureIsBestEffort(t *testing.T) {
	fake := backendtest.New()
	fake.FailOn("TriggerResponse", backendtest.ErrInjected)
	convID := seedConversation(fake)
	rec := &telemetry.Recorder{}

	s := New(fake, fake, u1, WithConfig(testConfig()), WithReporter(rec))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, contents(s.Messages()))

	drain(t, s)
	assert.Equal(t, 1, fake.CallCount("TriggerResponse"))
	assert.NoError(t, s.Err())

	failures := rec.FailuresFor("transcript.trigger")
	require.Len(t, failures, 1)
	assert.True(t, apperr.IsBestEffort(failures[0].Err))

	// Reconciliation still ran
	assert.Equal(t, 2, fake.CallCount("ListMessages"))
	assert.True(t, rec.HasEvent("transcript.reconcile"))
}

type unsuccessfulResponder struct{}

func (unsuccessfulResponder) TriggerResponse(ctx context.Context, convID, content string) (backend.TriggerResult, error) {
	return backend.TriggerResult{Success: false, Error: "model overloaded"}, nil
}

func TestTriggerUnsuccessfulResultIsReported(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)
	rec := &telemetry.Recorder{}

	s := New(fake, unsuccessfulResponder{}, u1, WithConfig(testConfig()), WithReporter(rec))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(t, s)

	failures := rec.FailuresFor("transcript.trigger")
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Err.Error(), "model overloaded")
}

func TestSendRemoteFailure(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)
	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	fake.FailOn("SendMessage", backendtest.ErrInjected)
	_, err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperr.IsRemote(err))
	assert.False(t, s.Sending())

	drain(t, s)
	assert.Zero(t, fake.CallCount("TriggerResponse"), "no trigger after a failed write")
	assert.Equal(t, 1, fake.CallCount("ListMessages"), "no reconciliation after a failed write")
	assert.Empty(t, s.Messages())
}

func TestSendingFlag(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)

	var mu sync.Mutex
	var seen []bool
	var s *Synchronizer
	s = New(fake, fake, u1, WithConfig(testConfig()), WithOnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Sending())
	}))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	mu.Lock()
	seen = nil
	mu.Unlock()

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, s.Sending())
	drain(t, s)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0], "sending while the write is in flight")
	assert.False(t, seen[len(seen)-1])
}

func TestSendRequiresAttachment(t *testing.T) {
	fake := backendtest.New()
	s := New(fake, fake, u1, WithConfig(testConfig()))

	_, err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, fake.Calls())
}

func TestPushSelectsOverPull(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)
	fake.SeedMessage(msg(convID, "pulled", 0))

	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))
	assert.Equal(t, []string{"pulled"}, contents(s.Messages()))

	pushed := []models.Message{msg(convID, "pushed", time.Minute)}
	fake.Push(convID, pushed)
	require.Eventually(t, func() bool {
		return len(s.Messages()) == 1 && s.Messages()[0].Content == "pushed"
	}, time.Second, 5*time.Millisecond)

	// Pull snapshots are disregarded once push has delivered
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []string{"pushed"}, contents(s.Messages()))
}

func TestUnionPolicy(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)
	shared := msg(convID, "shared", time.Minute)
	fake.SeedMessage(msg(convID, "pulled", 0))
	fake.SeedMessage(shared)

	cfg := testConfig()
	cfg.MergePolicy = MergeUnion
	s := New(fake, fake, u1, WithConfig(cfg))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	fake.Push(convID, []models.Message{shared, msg(convID, "pushed", 2*time.Minute)})
	require.Eventually(t, func() bool { return len(s.Messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pulled", "shared", "pushed"}, contents(s.Messages()))
}

func TestDuplicatesCollapse(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)

	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	m := msg(convID, "once", 0)
	edited := m
	edited.Content = "once (edited)"
	fake.Push(convID, []models.Message{m, msg(convID, "twice", time.Second), edited})

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	ids := map[string]int{}
	for _, got := range s.Messages() {
		ids[got.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "id %s", id)
	}
	assert.Equal(t, "once (edited)", s.Messages()[0].Content)
}

func TestEchoSurvivesStalePush(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)

	s := New(fake, fake, u1, WithConfig(Config{ReconcileDelay: time.Hour, ReconcileAttempts: 1}))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	sent, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	// A push snapshot taken before the write must not hide the sent message
	fake.Push(convID, []models.Message{msg(convID, "older", -time.Hour)})
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, sent.ID, s.Messages()[1].ID)
	s.Detach()
	drain(t, s)
}

func TestReattachReleasesSubscription(t *testing.T) {
	fake := backendtest.New()
	a := seedConversation(fake)
	b := seedConversation(fake)

	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()

	require.NoError(t, s.Attach(context.Background(), a))
	assert.Equal(t, 1, fake.Subscribers(a))

	require.NoError(t, s.Attach(context.Background(), b))
	assert.Equal(t, b, s.ConversationID())
	require.Eventually(t, func() bool { return fake.Subscribers(a) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fake.Subscribers(b))

	s.Detach()
	assert.Equal(t, Detached, s.State())
	assert.Empty(t, s.ConversationID())
	require.Eventually(t, func() bool { return fake.Subscribers(b) == 0 }, time.Second, 5*time.Millisecond)
}

func TestStaleReconciliationIsNoop(t *testing.T) {
	fake := backendtest.New()
	fake.AutoReply = true
	a := seedConversation(fake)
	b := seedConversation(fake)
	fake.SeedMessage(msg(b, "in b", 0))

	s := New(fake, fake, u1, WithConfig(Config{ReconcileDelay: 50 * time.Millisecond, ReconcileAttempts: 3}))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), a))
	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, s.Attach(context.Background(), b))
	drain(t, s)

	assert.Equal(t, 2, fake.CallCount("ListMessages"), "pending reconciliations cancelled on detach")
	assert.Equal(t, []string{"in b"}, contents(s.Messages()))
	// The trigger itself is not cancelled
	assert.Equal(t, 1, fake.CallCount("TriggerResponse"))
}

func TestReconcileAttempts(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)

	s := New(fake, fake, u1, WithConfig(Config{ReconcileDelay: 10 * time.Millisecond, ReconcileAttempts: 3}))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))
	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	drain(t, s)

	assert.Equal(t, 4, fake.CallCount("ListMessages"))
}

func TestDrainConcurrentWithSend(t *testing.T) {
	fake := backendtest.New()
	fake.AutoReply = true
	convID := seedConversation(fake)

	s := New(fake, fake, u1, WithConfig(Config{ReconcileDelay: time.Millisecond, ReconcileAttempts: 2}))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				assert.NoError(t, s.Drain(ctx))
				cancel()
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := s.Send(context.Background(), "ping")
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	drain(t, s)
	assert.Equal(t, 20, fake.CallCount("TriggerResponse"))
	assert.Equal(t, 1+2*20, fake.CallCount("ListMessages"), "every reconciliation ran before the final drain returned")
	assert.Len(t, fake.Stored(convID), 40)
	require.NoError(t, s.Refresh(context.Background()))
	assert.Len(t, s.Messages(), 40)
}

func TestAttachErrors(t *testing.T) {
	fake := backendtest.New()
	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()

	err := s.Attach(context.Background(), "nope")
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, fake.Calls())

	convID := seedConversation(fake)
	fake.FailOn("ListMessages", backendtest.ErrInjected)
	err = s.Attach(context.Background(), convID)
	require.Error(t, err)
	assert.True(t, apperr.IsRemote(err))
	assert.ErrorIs(t, s.Err(), backendtest.ErrInjected)
	assert.False(t, s.Loading())

	fake.FailOn("ListMessages", nil)
	fake.SeedMessage(msg(convID, "recovered", 0))
	require.NoError(t, s.Refresh(context.Background()))
	assert.NoError(t, s.Err())
	assert.Equal(t, []string{"recovered"}, contents(s.Messages()))
}

func TestRefreshIsIdempotent(t *testing.T) {
	fake := backendtest.New()
	convID := seedConversation(fake)
	fake.SeedMessage(msg(convID, "a", 0))
	fake.SeedMessage(msg(convID, "b", time.Second))

	s := New(fake, fake, u1, WithConfig(testConfig()))
	defer s.Close()
	require.NoError(t, s.Attach(context.Background(), convID))
	first := s.Messages()
	require.NoError(t, s.Refresh(context.Background()))
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, first, s.Messages())
}

func TestParseMergePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergePolicy
		wantErr bool
	}{
		{"", MergeSelect, false},
		{"select", MergeSelect, false},
		{"union", MergeUnion, false},
		{"latest", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMergePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
