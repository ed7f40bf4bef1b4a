package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// Row permissions scope chats and messages to the caller, so queries carry
// no owner filter.
const (
	getUserChatsQuery = `query GetUserChats {
  chats(order_by: { updated_at: desc }) {
    id
    title
    user_id
    created_at
    updated_at
    messages(order_by: { created_at: desc }, limit: 1) {
      id
      content
    }
    messages_aggregate {
      aggregate {
        count
      }
    }
  }
}`

	getChatMessagesQuery = `query GetChatMessages($chatId: uuid!) {
  messages(where: { chat_id: { _eq: $chatId } }, order_by: { created_at: asc }) {
    id
    chat_id
    content
    is_bot
    created_at
    user_id
  }
}`

	createChatMutation = `mutation CreateChat($title: String!, $user_id: uuid!) {
  insert_chats_one(object: { title: $title, user_id: $user_id }) {
    id
    title
    user_id
    created_at
    updated_at
  }
}`

	updateChatTitleMutation = `mutation UpdateChatTitle($chatId: uuid!, $title: String!) {
  update_chats_by_pk(pk_columns: { id: $chatId }, _set: { title: $title }) {
    id
    title
    user_id
    created_at
    updated_at
  }
}`

	deleteChatMutation = `mutation DeleteChat($chatId: uuid!) {
  delete_chats_by_pk(id: $chatId) {
    id
  }
}`

	sendMessageMutation = `mutation SendMessage($chatId: uuid!, $content: String!) {
  insert_messages_one(object: { chat_id: $chatId, content: $content, is_bot: false }) {
    id
    chat_id
    content
    is_bot
    created_at
    user_id
  }
}`

	sendMessageToChatbotMutation = `mutation SendMessageToChatbot($chatId: uuid!, $message: String!) {
  sendMessageToChatbot(chatId: $chatId, message: $message) {
    success
    message
    error
  }
}`

	subscribeToMessagesSubscription = `subscription SubscribeToMessages($chatId: uuid!) {
  messages(where: { chat_id: { _eq: $chatId } }, order_by: { created_at: asc }) {
    id
    chat_id
    content
    is_bot
    created_at
    user_id
  }
}`
)

// ErrNotFound is returned when a mutation targets a chat the caller cannot see
var ErrNotFound = errors.New("chat not found")

type chatRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	CreatedAt timestamp `json:"created_at"`
	UpdatedAt timestamp `json:"updated_at"`
	Messages  []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"messages"`
	MessagesAggregate *struct {
		Aggregate struct {
			Count int `json:"count"`
		} `json:"aggregate"`
	} `json:"messages_aggregate"`
}

func (r chatRow) conversation(ownerID string) models.Conversation {
	c := models.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		OwnerID:   r.UserID,
		CreatedAt: r.CreatedAt.Time(),
		UpdatedAt: r.UpdatedAt.Time(),
	}
	if c.OwnerID == "" {
		c.OwnerID = ownerID
	}
	if len(r.Messages) > 0 {
		c.LastMessagePreview = models.Preview(r.Messages[0].Content, models.PreviewLength)
	}
	if r.MessagesAggregate != nil {
		c.MessageCount = r.MessagesAggregate.Aggregate.Count
	}
	return c
}

type messageRow struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt timestamp `json:"created_at"`
	UserID    *string   `json:"user_id"`
}

func (r messageRow) message(conversationID string) models.Message {
	m := models.Message{
		ID:             r.ID,
		ConversationID: r.ChatID,
		Content:        r.Content,
		IsAutomated:    r.IsBot,
		CreatedAt:      r.CreatedAt.Time(),
	}
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	if r.UserID != nil && !r.IsBot {
		m.AuthorID = *r.UserID
	}
	return m
}

func messagesFrom(rows []messageRow, conversationID string) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message(conversationID))
	}
	return out
}

// ListConversations returns the caller's chats, most recently updated first
func (c *Client) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	var data struct {
		Chats []chatRow `json:"chats"`
	}
	if err := c.Do(ctx, "GetUserChats", getUserChatsQuery, nil, &data); err != nil {
		return nil, apperr.Remote("graphql.list_conversations", err)
	}
	convs := make([]models.Conversation, 0, len(data.Chats))
	for _, row := range data.Chats {
		convs = append(convs, row.conversation(ownerID))
	}
	return convs, nil
}

// CreateConversation inserts a chat owned by ownerID
func (c *Client) CreateConversation(ctx context.Context, ownerID, title string) (models.Conversation, error) {
	var data struct {
		Chat *chatRow `json:"insert_chats_one"`
	}
	vars := map[string]interface{}{"title": title, "user_id": ownerID}
	if err := c.Do(ctx, "CreateChat", createChatMutation, vars, &data); err != nil {
		return models.Conversation{}, apperr.Remote("graphql.create_conversation", err)
	}
	if data.Chat == nil {
		return models.Conversation{}, apperr.Remotef("graphql.create_conversation", "insert returned no chat")
	}
	return data.Chat.conversation(ownerID), nil
}

// RenameConversation sets a chat's title
func (c *Client) RenameConversation(ctx context.Context, id, title string) (models.Conversation, error) {
	var data struct {
		Chat *chatRow `json:"update_chats_by_pk"`
	}
	vars := map[string]interface{}{"chatId": id, "title": title}
	if err := c.Do(ctx, "UpdateChatTitle", updateChatTitleMutation, vars, &data); err != nil {
		return models.Conversation{}, apperr.Remote("graphql.rename_conversation", err)
	}
	if data.Chat == nil {
		return models.Conversation{}, apperr.Remote("graphql.rename_conversation", fmt.Errorf("%s: %w", id, ErrNotFound))
	}
	return data.Chat.conversation(""), nil
}

// DeleteConversation removes a chat; its messages cascade server-side
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	var data struct {
		Chat *struct {
			ID string `json:"id"`
		} `json:"delete_chats_by_pk"`
	}
	if err := c.Do(ctx, "DeleteChat", deleteChatMutation, map[string]interface{}{"chatId": id}, &data); err != nil {
		return apperr.Remote("graphql.delete_conversation", err)
	}
	if data.Chat == nil {
		return apperr.Remote("graphql.delete_conversation", fmt.Errorf("%s: %w", id, ErrNotFound))
	}
	return nil
}

// ListMessages returns a chat's transcript in created-at order
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var data struct {
		Messages []messageRow `json:"messages"`
	}
	if err := c.Do(ctx, "GetChatMessages", getChatMessagesQuery, map[string]interface{}{"chatId": conversationID}, &data); err != nil {
		return nil, apperr.Remote("graphql.list_messages", err)
	}
	return messagesFrom(data.Messages, conversationID), nil
}

// SendMessage inserts a user message. The author is assigned server-side
// from the token; authorID fills the gap when the response omits it.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, authorID string) (models.Message, error) {
	var data struct {
		Message *messageRow `json:"insert_messages_one"`
	}
	vars := map[string]interface{}{"chatId": conversationID, "content": content}
	if err := c.Do(ctx, "SendMessage", sendMessageMutation, vars, &data); err != nil {
		return models.Message{}, apperr.Remote("graphql.send_message", err)
	}
	if data.Message == nil {
		return models.Message{}, apperr.Remotef("graphql.send_message", "insert returned no message")
	}
	m := data.Message.message(conversationID)
	if m.AuthorID == "" {
		m.AuthorID = authorID
	}
	return m, nil
}

// TriggerResponse calls the sendMessageToChatbot action
func (c *Client) TriggerResponse(ctx context.Context, conversationID, content string) (backend.TriggerResult, error) {
	const op = "graphql.trigger_response"
	var data struct {
		Result *struct {
			Success bool    `json:"success"`
			Message *string `json:"message"`
			Error   *string `json:"error"`
		} `json:"sendMessageToChatbot"`
	}
	vars := map[string]interface{}{"chatId": conversationID, "message": content}
	if err := c.Do(ctx, "SendMessageToChatbot", sendMessageToChatbotMutation, vars, &data); err != nil {
		return backend.TriggerResult{Error: err.Error()}, apperr.Remote(op, err)
	}
	if data.Result == nil {
		return backend.TriggerResult{Error: "no response from chatbot service"}, apperr.Remotef(op, "no response from chatbot service")
	}
	res := backend.TriggerResult{Success: data.Result.Success}
	if data.Result.Message != nil {
		res.Message = *data.Result.Message
	}
	if data.Result.Error != nil {
		res.Error = *data.Result.Error
	}
	return res, nil
}

var (
	_ backend.Directory  = (*Client)(nil)
	_ backend.Transcript = (*Client)(nil)
	_ backend.Responder  = (*Client)(nil)
)
