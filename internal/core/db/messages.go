package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// ListMessages returns a conversation's transcript ordered by created_at
func (db *DB) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, conversation_id, content, is_automated, COALESCE(author_id, ''), created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.IsAutomated, &m.AuthorID, &created); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SendMessage stores a message written by authorID, who must own the conversation
func (db *DB) SendMessage(ctx context.Context, conversationID, content, authorID string) (models.Message, error) {
	return db.insertMessage(ctx, conversationID, content, false, authorID)
}

// InsertAutomatedMessage stores a responder-authored message
func (db *DB) InsertAutomatedMessage(ctx context.Context, conversationID, content string) (models.Message, error) {
	return db.insertMessage(ctx, conversationID, content, true, "")
}

func (db *DB) insertMessage(ctx context.Context, conversationID, content string, automated bool, authorID string) (models.Message, error) {
	m := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		IsAutomated:    automated,
		AuthorID:       authorID,
		CreatedAt:      db.timestamp(),
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var author sql.NullString
	if authorID != "" {
		author = sql.NullString{String: authorID, Valid: true}
	}
	at := formatTime(m.CreatedAt)

	touch := `UPDATE conversations SET updated_at = ? WHERE id = ?`
	args := []interface{}{at, conversationID}
	if !automated {
		touch += ` AND owner_id = ?`
		args = append(args, authorID)
	}
	res, err := tx.ExecContext(ctx, touch, args...)
	if err != nil {
		return models.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Message{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, content, is_automated, author_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Content, m.IsAutomated, author, at)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit message: %w", err)
	}

	db.broker.publish(conversationID)
	return m, nil
}

// SubscribeMessages streams transcript snapshots of conversationID. The
// current transcript is delivered first; later snapshots follow every write
// from this process or, via the file watcher, from another one. Slow readers
// only ever see the latest snapshot. The channel closes when ctx ends.
func (db *DB) SubscribeMessages(ctx context.Context, conversationID string) (<-chan []models.Message, error) {
	return db.broker.subscribe(ctx, conversationID)
}
