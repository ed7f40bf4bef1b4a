package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/db"
)

type countingResponder struct{ calls int }

func (r *countingResponder) TriggerResponse(ctx context.Context, conversationID, content string) (backend.TriggerResult, error) {
	r.calls++
	return backend.TriggerResult{Success: true}, nil
}

func TestScopedStoreHidesOtherUsersConversations(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newLocal(t)
	resp := &countingResponder{}
	scoped := NewScopedStore(store, p, resp)

	ada, err := p.SignUp(ctx, "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	conv, err := scoped.CreateConversation(ctx, ada.ID, "Private")
	require.NoError(t, err)
	_, err = scoped.SendMessage(ctx, conv.ID, "secret", ada.ID)
	require.NoError(t, err)

	// Signing up switches the session to the second account
	bob, err := p.SignUp(ctx, "bob@example.com", "battery staple", "")
	require.NoError(t, err)

	convs, err := scoped.ListConversations(ctx, ada.ID)
	require.NoError(t, err)
	assert.Empty(t, convs, "another owner's list is never returned")

	_, err = scoped.ListMessages(ctx, conv.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound), "read: %v", err)
	_, err = scoped.SubscribeMessages(ctx, conv.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound), "subscribe: %v", err)
	_, err = scoped.SendMessage(ctx, conv.ID, "intrusion", bob.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound), "write: %v", err)
	_, err = scoped.SendMessage(ctx, conv.ID, "impersonation", ada.ID)
	assert.Error(t, err)
	_, err = scoped.RenameConversation(ctx, conv.ID, "Mine now")
	assert.True(t, errors.Is(err, db.ErrNotFound), "rename: %v", err)
	err = scoped.DeleteConversation(ctx, conv.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound), "delete: %v", err)
	_, err = scoped.TriggerResponse(ctx, conv.ID, "hi")
	assert.Error(t, err)
	assert.Zero(t, resp.calls)

	stored, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Private", stored.Title)
	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ada.ID, msgs[0].AuthorID)
}

func TestScopedStoreServesOwner(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newLocal(t)
	resp := &countingResponder{}
	scoped := NewScopedStore(store, p, resp)

	ada, err := p.SignUp(ctx, "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	conv, err := scoped.CreateConversation(ctx, ada.ID, "Plans")
	require.NoError(t, err)

	_, err = scoped.SendMessage(ctx, conv.ID, "hello", ada.ID)
	require.NoError(t, err)
	msgs, err := scoped.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	res, err := scoped.TriggerResponse(ctx, conv.ID, "hello")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, resp.calls)

	renamed, err := scoped.RenameConversation(ctx, conv.ID, "Better plans")
	require.NoError(t, err)
	assert.Equal(t, "Better plans", renamed.Title)
	require.NoError(t, scoped.DeleteConversation(ctx, conv.ID))
}

func TestScopedStoreRequiresSignIn(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newLocal(t)
	scoped := NewScopedStore(store, p, &countingResponder{})

	_, err := scoped.ListConversations(ctx, "anyone")
	assert.True(t, apperr.IsUnauthorized(err))
	err = scoped.DeleteConversation(ctx, "c1")
	assert.True(t, apperr.IsUnauthorized(err))
}
