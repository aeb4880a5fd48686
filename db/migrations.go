package db

import (
	"context"
	"database/sql"
)

// All tables are created with CREATE TABLE IF NOT EXISTS so migrations can run
// on every start.
const (
	sqlCreateUserTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		web_public_key TEXT NOT NULL,
		web_private_key TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		visibility TEXT DEFAULT 'public',
		in_reply_to_uri TEXT,
		uri TEXT UNIQUE,
		renote_uri TEXT,
		sensitive INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateNotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes(user_id);
		CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at DESC);
	`

	sqlCreatePollsTable = `CREATE TABLE IF NOT EXISTS polls (
		note_id TEXT NOT NULL PRIMARY KEY,
		choices TEXT NOT NULL,
		votes TEXT NOT NULL,
		multiple INTEGER DEFAULT 0,
		expires_at TIMESTAMP
	)`

	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT,
		outbox_uri TEXT,
		public_key_id TEXT,
		public_key_pem TEXT NOT NULL,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_public_key_id ON remote_accounts(public_key_id);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_shared_inbox ON remote_accounts(shared_inbox_uri);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		accepted INTEGER DEFAULT 0,
		UNIQUE(account_id, target_account_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateReactionsTable = `CREATE TABLE IF NOT EXISTS reactions (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		note_id TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, note_id)
	)`

	sqlCreateReactionsIndices = `
		CREATE INDEX IF NOT EXISTS idx_reactions_note_id ON reactions(note_id);
		CREATE INDEX IF NOT EXISTS idx_reactions_uri ON reactions(uri);
	`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		target_account_id TEXT NOT NULL,
		uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, target_account_id)
	)`

	// Activities log table (for deduplication & debugging)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		id TEXT NOT NULL PRIMARY KEY,
		host TEXT UNIQUE NOT NULL,
		is_suspended INTEGER DEFAULT 0,
		last_communicated_at TIMESTAMP,
		latest_status INTEGER,
		latest_request_sent_at TIMESTAMP,
		is_not_responding INTEGER DEFAULT 0,
		software_name TEXT,
		software_version TEXT,
		info_updated_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateMetaTable = `CREATE TABLE IF NOT EXISTS meta (
		id INTEGER NOT NULL PRIMARY KEY CHECK (id = 1),
		secure_mode INTEGER DEFAULT 0,
		private_mode INTEGER DEFAULT 0,
		blocked_hosts TEXT NOT NULL DEFAULT '[]',
		allowed_hosts TEXT NOT NULL DEFAULT '[]'
	)`

	// next_retry_at is stored as unix seconds so due rows compare numerically.
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"accounts", sqlCreateUserTable},
	{"notes", sqlCreateNotesTable},
	{"notes indices", sqlCreateNotesIndices},
	{"polls", sqlCreatePollsTable},
	{"remote_accounts", sqlCreateRemoteAccountsTable},
	{"remote_accounts indices", sqlCreateRemoteAccountsIndices},
	{"follows", sqlCreateFollowsTable},
	{"follows indices", sqlCreateFollowsIndices},
	{"reactions", sqlCreateReactionsTable},
	{"reactions indices", sqlCreateReactionsIndices},
	{"blocks", sqlCreateBlocksTable},
	{"activities", sqlCreateActivitiesTable},
	{"instances", sqlCreateInstancesTable},
	{"meta", sqlCreateMetaTable},
	{"delivery_queue", sqlCreateDeliveryQueueTable},
	{"delivery_queue indices", sqlCreateDeliveryQueueIndices},
}

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(context.Background(), func(tx *sql.Tx) error {
		for _, m := range migrations {
			if _, err := tx.Exec(m.sql); err != nil {
				logger.Error("Migration failed", "migration", m.name, "err", err)
				return err
			}
			logger.Debug("Migration applied", "migration", m.name)
		}
		_, err := tx.Exec(`INSERT OR IGNORE INTO meta(id) VALUES (1)`)
		return err
	})
}
