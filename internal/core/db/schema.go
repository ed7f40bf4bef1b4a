package db

func (db *DB) initSchema() error {
	schema := `
	-- Local accounts
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL COLLATE NOCASE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Signed-in sessions
	CREATE TABLE IF NOT EXISTS auth_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_auth_sessions_user_id ON auth_sessions(user_id);

	-- Conversations table
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated ON conversations(owner_id, updated_at);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_automated INTEGER NOT NULL DEFAULT 0,
		author_id TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);

	-- Archives already imported, keyed by content hash
	CREATE TABLE IF NOT EXISTS import_log (
		file_hash TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		messages_imported INTEGER NOT NULL,
		imported_at TEXT NOT NULL
	);

	-- FTS5 tables for full-text search
	-- Natural language search with porter stemming
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content=messages,
		content_rowid=seq,
		tokenize='porter unicode61'
	);

	-- Exact search without stemming
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts_code USING fts5(
		content,
		content=messages,
		content_rowid=seq,
		tokenize='unicode61'
	);

	-- Triggers to keep FTS in sync
	CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
		INSERT INTO messages_fts_code(rowid, content) VALUES (new.seq, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.seq, old.content);
		INSERT INTO messages_fts_code(messages_fts_code, rowid, content) VALUES ('delete', old.seq, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE OF content ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.seq, old.content);
		INSERT INTO messages_fts_code(messages_fts_code, rowid, content) VALUES ('delete', old.seq, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
		INSERT INTO messages_fts_code(rowid, content) VALUES (new.seq, new.content);
	END;
	`

	_, err := db.conn.Exec(schema)
	return err
}
