package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// ImportSource identifies an archive by content hash
type ImportSource struct {
	Path string
	Hash string
}

// ImportConversation stores conv and msgs for ownerID with their original
// timestamps, under fresh ids. An archive whose hash was imported before is
// skipped: the earlier conversation id is returned with imported=false.
func (db *DB) ImportConversation(ctx context.Context, ownerID string, conv models.Conversation, msgs []models.Message, src ImportSource) (models.Conversation, bool, error) {
	var existing string
	err := db.conn.QueryRowContext(ctx, `SELECT conversation_id FROM import_log WHERE file_hash = ?`, src.Hash).Scan(&existing)
	if err == nil {
		return models.Conversation{ID: existing, OwnerID: ownerID}, false, nil
	}
	if err != sql.ErrNoRows {
		return models.Conversation{}, false, fmt.Errorf("failed to check import log: %w", err)
	}

	msgs = append([]models.Message(nil), msgs...)
	models.SortMessages(msgs)

	out := models.Conversation{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt.UTC(),
		MessageCount: len(msgs),
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = db.timestamp()
	}
	out.UpdatedAt = out.CreatedAt
	if n := len(msgs); n > 0 {
		if last := msgs[n-1].CreatedAt.UTC(); last.After(out.UpdatedAt) {
			out.UpdatedAt = last
		}
		out.LastMessagePreview = models.Preview(msgs[n-1].Content, models.PreviewLength)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, out.ID, ownerID, out.Title, formatTime(out.CreatedAt), formatTime(out.UpdatedAt))
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to insert conversation: %w", err)
	}

	for _, m := range msgs {
		var author sql.NullString
		if !m.IsAutomated {
			author = sql.NullString{String: ownerID, Valid: true}
		}
		at := m.CreatedAt
		if at.IsZero() {
			at = out.CreatedAt
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, content, is_automated, author_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), out.ID, m.Content, m.IsAutomated, author, formatTime(at))
		if err != nil {
			return models.Conversation{}, false, fmt.Errorf("failed to insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_log (file_hash, file_path, conversation_id, messages_imported, imported_at)
		VALUES (?, ?, ?, ?, ?)
	`, src.Hash, src.Path, out.ID, len(msgs), formatTime(db.timestamp()))
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to record import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to commit: %w", err)
	}
	return out, true, nil
}
