package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/neilberkman/chatsync/internal/core/app"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/search"
)

// ListConversationsArgs defines arguments for the list_conversations tool
type ListConversationsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Max conversations to return (default: 20)"`
}

// GetTranscriptArgs defines arguments for the get_transcript tool
type GetTranscriptArgs struct {
	ConversationID string `json:"conversation_id" jsonschema:"description=Conversation UUID,required"`
	Last           int    `json:"last,omitempty" jsonschema:"description=Only return the last N messages"`
}

// SendMessageArgs defines arguments for the send_message tool
type SendMessageArgs struct {
	ConversationID string `json:"conversation_id" jsonschema:"description=Conversation UUID,required"`
	Message        string `json:"message" jsonschema:"description=Message text,required"`
}

// SearchMessagesArgs defines arguments for the search_messages tool
type SearchMessagesArgs struct {
	Query string `json:"query" jsonschema:"description=Search term,required"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max matches to return (default: 20)"`
}

// ConversationSummary represents a conversation in the list view
type ConversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
	LastMessage  string `json:"last_message,omitempty"`
}

// MessageDetail represents a single transcript entry
type MessageDetail struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// SearchMatch represents one matching message
type SearchMatch struct {
	ConversationID    string `json:"conversation_id"`
	ConversationTitle string `json:"conversation_title"`
	Sender            string `json:"sender"`
	Snippet           string `json:"snippet"`
	Timestamp         string `json:"timestamp"`
}

// StartServer serves the tools over stdio until the client disconnects
func StartServer(a *app.App) error {
	return server.ServeStdio(NewServer(a))
}

// NewServer registers every tool against a
func NewServer(a *app.App) *server.MCPServer {
	s := server.NewMCPServer("chatsync", "1.0.0")
	h := &handlers{app: a}

	s.AddTool(mcp.NewTool("list_conversations",
		mcp.WithDescription("List the signed-in user's conversations, most recently updated first"),
		mcp.WithNumber("limit",
			mcp.Description("Max conversations to return (default: 20)")),
	), h.listConversations)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Retrieve a conversation's messages in order"),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation UUID")),
		mcp.WithNumber("last",
			mcp.Description("Only return the last N messages")),
	), h.getTranscript)

	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a conversation and return the automated reply, if one arrives"),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation UUID")),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message text")),
	), h.sendMessage)

	s.AddTool(mcp.NewTool("search_messages",
		mcp.WithDescription("Full-text search across the user's messages (local backend only)"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search term")),
		mcp.WithNumber("limit",
			mcp.Description("Max matches to return (default: 20)")),
	), h.searchMessages)

	return s
}

type handlers struct {
	app *app.App
}

func decodeArgs(request mcp.CallToolRequest, out interface{}) error {
	argsBytes, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(argsBytes, out)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func toDetail(m models.Message) MessageDetail {
	return MessageDetail{
		ID:        m.ID,
		Sender:    m.Sender(),
		Content:   m.Content,
		Timestamp: m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *handlers) listConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args ListConversationsArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	if _, err := h.app.RequireIdentity(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.app.Directory.Refresh(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}

	convs := h.app.Directory.Conversations()
	results := []ConversationSummary{}
	for _, c := range convs {
		if len(results) >= args.Limit {
			break
		}
		results = append(results, ConversationSummary{
			ID:           c.ID,
			Title:        c.Title,
			UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
			MessageCount: c.MessageCount,
			LastMessage:  c.LastMessagePreview,
		})
	}
	return jsonResult(map[string]interface{}{"conversations": results, "total": len(convs)})
}

func (h *handlers) getTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args GetTranscriptArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	s, err := h.app.NewSynchronizer()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer s.Close()

	if err := s.Attach(ctx, args.ConversationID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load transcript: %v", err)), nil
	}
	msgs := s.Messages()
	if args.Last > 0 && len(msgs) > args.Last {
		msgs = msgs[len(msgs)-args.Last:]
	}
	out := make([]MessageDetail, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDetail(m))
	}
	return jsonResult(map[string]interface{}{"conversation_id": args.ConversationID, "messages": out})
}

func (h *handlers) sendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SendMessageArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	s, err := h.app.NewSynchronizer()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer s.Close()

	if err := s.Attach(ctx, args.ConversationID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open conversation: %v", err)), nil
	}
	sent, err := s.Send(ctx, args.Message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", err)), nil
	}
	if err := s.Drain(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("interrupted while waiting for reply: %v", err)), nil
	}

	replies := []MessageDetail{}
	after := false
	for _, m := range s.Messages() {
		if m.ID == sent.ID {
			after = true
			continue
		}
		if after && m.IsAutomated {
			replies = append(replies, toDetail(m))
		}
	}
	return jsonResult(map[string]interface{}{"sent": toDetail(sent), "replies": replies})
}

func (h *handlers) searchMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SearchMessagesArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if h.app.Store == nil {
		return mcp.NewToolResultError("search is only available with the local backend"), nil
	}
	id, err := h.app.RequireIdentity()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	results, err := search.Search(h.app.Store, id.ID, args.Query, args.Limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	matches := make([]SearchMatch, 0, len(results))
	for _, r := range results {
		sender := "user"
		if r.IsAutomated {
			sender = "assistant"
		}
		matches = append(matches, SearchMatch{
			ConversationID:    r.ConversationID,
			ConversationTitle: r.ConversationTitle,
			Sender:            sender,
			Snippet:           r.Snippet,
			Timestamp:         r.CreatedAt.Format(time.RFC3339),
		})
	}
	return jsonResult(map[string]interface{}{"matches": matches})
}
