// Package backend declares the collaborator contracts the synchronization
// core consumes. Implementations live in the db/auth/llm packages (local
// mode) and the graphql/auth packages (hosted mode).
package backend

import (
	"context"
	"errors"
	"io"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// SessionProvider resolves and ends the authenticated session
type SessionProvider interface {
	// CurrentIdentity returns nil when there is no session
	CurrentIdentity(ctx context.Context) (*models.Identity, error)
	SignOut(ctx context.Context) error
	// OnSessionChange registers fn for external session changes (expiry,
	// sign-in elsewhere). fn receives nil when the session ended.
	OnSessionChange(fn func(*models.Identity)) (cancel func())
}

// Directory is the conversation query/mutation surface
type Directory interface {
	ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, ownerID, title string) (models.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Transcript is the message query/subscription/mutation surface
type Transcript interface {
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	// SubscribeMessages streams full transcript snapshots until ctx ends,
	// then closes the channel.
	SubscribeMessages(ctx context.Context, conversationID string) (<-chan []models.Message, error)
	SendMessage(ctx context.Context, conversationID, content, authorID string) (models.Message, error)
}

// TriggerResult is the automated responder's acknowledgement
type TriggerResult struct {
	Success bool
	Message string
	Error   string
}

// Responder kicks off an automated reply. Completion is only observable
// through the transcript.
type Responder interface {
	TriggerResponse(ctx context.Context, conversationID, content string) (TriggerResult, error)
}

// Client bundles one backend's collaborators behind a single handle
type Client struct {
	Session    SessionProvider
	Directory  Directory
	Transcript Transcript
	Responder  Responder

	closers []io.Closer
}

// NewClient builds a handle. Closers are released by Close in reverse order.
func NewClient(session SessionProvider, dir Directory, tr Transcript, resp Responder, closers ...io.Closer) *Client {
	return &Client{
		Session:    session,
		Directory:  dir,
		Transcript: tr,
		Responder:  resp,
		closers:    closers,
	}
}

// Close tears down every owned resource
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
