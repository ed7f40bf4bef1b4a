package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// ListConversations returns ownerID's conversations, most recently updated first
func (db *DB) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT
			c.id,
			c.title,
			c.owner_id,
			c.created_at,
			c.updated_at,
			COALESCE((
				SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.seq DESC
				LIMIT 1
			), '') AS last_message,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
		FROM conversations c
		WHERE c.owner_id = ?
		ORDER BY c.updated_at DESC, c.created_at DESC, c.id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var created, updated, last string
		if err := rows.Scan(&c.ID, &c.Title, &c.OwnerID, &created, &updated, &last, &c.MessageCount); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = ParseTime(updated); err != nil {
			return nil, err
		}
		c.LastMessagePreview = models.Preview(last, models.PreviewLength)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation loads one conversation by id
func (db *DB) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var c models.Conversation
	var created, updated string
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id)
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.Title, &c.OwnerID, &created, &updated, &c.MessageCount)
	if err == sql.ErrNoRows {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Conversation{}, err
	}
	if c.CreatedAt, err = ParseTime(created); err != nil {
		return models.Conversation{}, err
	}
	if c.UpdatedAt, err = ParseTime(updated); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}

// CreateConversation inserts a conversation owned by ownerID
func (db *DB) CreateConversation(ctx context.Context, ownerID, title string) (models.Conversation, error) {
	now := db.timestamp()
	c := models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.Title, formatTime(now), formatTime(now))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// CheckOwner returns ErrNotFound unless conversation id exists and belongs
// to ownerID. Other owners' conversations are indistinguishable from missing.
func (db *DB) CheckOwner(ctx context.Context, ownerID, id string) error {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations WHERE id = ? AND owner_id = ?
	`, id, ownerID).Scan(&n)
	if err != nil {
		return fmt.Errorf("check conversation owner: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// RenameConversation sets a new title on ownerID's conversation and bumps updated_at
func (db *DB) RenameConversation(ctx context.Context, ownerID, id, title string) (models.Conversation, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND owner_id = ?
	`, title, formatTime(db.timestamp()), id, ownerID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return db.GetConversation(ctx, id)
}

// DeleteConversation removes ownerID's conversation and, by cascade, its messages
func (db *DB) DeleteConversation(ctx context.Context, ownerID, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	db.broker.publish(id)
	return nil
}
