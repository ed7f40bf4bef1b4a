package auth

import (
	"context"
	"fmt"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/db"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// ScopedStore serves the local store as the remote directory, transcript and
// responder. Every call runs as the user signed in through provider, the way
// the hosted service checks each request against its bearer token: other
// users' conversations look like missing ones.
type ScopedStore struct {
	store     *db.DB
	provider  *LocalProvider
	responder backend.Responder
}

// NewScopedStore scopes store and responder to provider's signed-in user
func NewScopedStore(store *db.DB, provider *LocalProvider, responder backend.Responder) *ScopedStore {
	return &ScopedStore{store: store, provider: provider, responder: responder}
}

func (s *ScopedStore) caller(ctx context.Context, op string) (string, error) {
	id, err := s.provider.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	if id == nil {
		return "", apperr.Unauthorized(op)
	}
	return id.ID, nil
}

// owned resolves the caller and checks they own conversationID
func (s *ScopedStore) owned(ctx context.Context, op, conversationID string) (string, error) {
	me, err := s.caller(ctx, op)
	if err != nil {
		return "", err
	}
	if err := s.store.CheckOwner(ctx, me, conversationID); err != nil {
		return "", err
	}
	return me, nil
}

// ListConversations lists the caller's conversations. Asking for another
// owner's list yields nothing.
func (s *ScopedStore) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	me, err := s.caller(ctx, "store.list_conversations")
	if err != nil {
		return nil, err
	}
	if ownerID != me {
		return nil, nil
	}
	return s.store.ListConversations(ctx, me)
}

func (s *ScopedStore) CreateConversation(ctx context.Context, ownerID, title string) (models.Conversation, error) {
	me, err := s.caller(ctx, "store.create_conversation")
	if err != nil {
		return models.Conversation{}, err
	}
	if ownerID != me {
		return models.Conversation{}, fmt.Errorf("cannot create conversations for another user")
	}
	return s.store.CreateConversation(ctx, me, title)
}

func (s *ScopedStore) RenameConversation(ctx context.Context, id, title string) (models.Conversation, error) {
	me, err := s.caller(ctx, "store.rename_conversation")
	if err != nil {
		return models.Conversation{}, err
	}
	return s.store.RenameConversation(ctx, me, id, title)
}

func (s *ScopedStore) DeleteConversation(ctx context.Context, id string) error {
	me, err := s.caller(ctx, "store.delete_conversation")
	if err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, me, id)
}

func (s *ScopedStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := s.owned(ctx, "store.list_messages", conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

func (s *ScopedStore) SubscribeMessages(ctx context.Context, conversationID string) (<-chan []models.Message, error) {
	if _, err := s.owned(ctx, "store.subscribe_messages", conversationID); err != nil {
		return nil, err
	}
	return s.store.SubscribeMessages(ctx, conversationID)
}

// SendMessage writes as the caller; authorID must be the caller
func (s *ScopedStore) SendMessage(ctx context.Context, conversationID, content, authorID string) (models.Message, error) {
	me, err := s.caller(ctx, "store.send_message")
	if err != nil {
		return models.Message{}, err
	}
	if authorID != me {
		return models.Message{}, fmt.Errorf("cannot send messages as another user")
	}
	return s.store.SendMessage(ctx, conversationID, content, me)
}

// TriggerResponse replies only in the caller's conversations
func (s *ScopedStore) TriggerResponse(ctx context.Context, conversationID, content string) (backend.TriggerResult, error) {
	if _, err := s.owned(ctx, "store.trigger_response", conversationID); err != nil {
		return backend.TriggerResult{Success: false, Error: err.Error()}, err
	}
	return s.responder.TriggerResponse(ctx, conversationID, content)
}
