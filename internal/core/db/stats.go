package db

import (
	"context"
	"database/sql"
	"time"
)

// Stats summarizes one owner's stored data
type Stats struct {
	Conversations     int
	Messages          int
	AutomatedMessages int
	OldestActivity    time.Time
	NewestActivity    time.Time
}

// GetStats returns statistics for ownerID's conversations
func (db *DB) GetStats(ctx context.Context, ownerID string) (*Stats, error) {
	stats := &Stats{}

	var oldest, newest sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(updated_at)
		FROM conversations WHERE owner_id = ?
	`, ownerID).Scan(&stats.Conversations, &oldest, &newest)
	if err != nil {
		return nil, err
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(m.is_automated), 0)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.owner_id = ?
	`, ownerID).Scan(&stats.Messages, &stats.AutomatedMessages)
	if err != nil {
		return nil, err
	}

	if oldest.Valid {
		if stats.OldestActivity, err = ParseTime(oldest.String); err != nil {
			return nil, err
		}
	}
	if newest.Valid {
		if stats.NewestActivity, err = ParseTime(newest.String); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
