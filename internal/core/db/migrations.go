package db

import (
	"fmt"
)

// migrations run in order; PRAGMA user_version records how many have applied
var migrations = []struct {
	name string
	fn   func(db *DB) error
}{
	{"transcript order index", (*DB).migration001TranscriptIndex},
	{"rebuild fts", (*DB).migration002RebuildFTS},
}

// migrate applies database migrations for existing databases
func (db *DB) migrate() error {
	var version int
	if err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		m := migrations[i]
		if err := m.fn(db); err != nil {
			return fmt.Errorf("migration %03d (%s): %w", i+1, m.name, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := db.conn.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			return fmt.Errorf("record schema version %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the number of applied migrations
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&version)
	return version, err
}

// migration001TranscriptIndex lets transcript reads walk messages in order
func (db *DB) migration001TranscriptIndex() error {
	_, err := db.conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at)
	`)
	return err
}

// migration002RebuildFTS repopulates both FTS indexes from messages, for
// databases that held messages before the triggers existed
func (db *DB) migration002RebuildFTS() error {
	if _, err := db.conn.Exec(`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuild messages_fts: %w", err)
	}
	if _, err := db.conn.Exec(`INSERT INTO messages_fts_code(messages_fts_code) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuild messages_fts_code: %w", err)
	}
	return nil
}
