package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Remote Accounts queries
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_id, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRemoteAccount = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_id, public_key_pem, last_fetched_at FROM remote_accounts`
	sqlUpdateRemoteAccount = `UPDATE remote_accounts SET username = ?, display_name = ?, summary = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, public_key_id = ?, public_key_pem = ?, last_fetched_at = ? WHERE id = ?`
	sqlSelectSharedInboxes = `SELECT shared_inbox_uri FROM remote_accounts WHERE shared_inbox_uri IS NOT NULL AND shared_inbox_uri != '' GROUP BY shared_inbox_uri`
)

func (db *DB) CreateRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			nullString(acc.SharedInboxURI),
			acc.OutboxURI,
			nullString(acc.PublicKeyId),
			acc.PublicKeyPem,
			acc.LastFetchedAt.UTC(),
		)
		return err
	})
}

func (db *DB) UpdateRemoteAccount(ctx context.Context, acc *domain.RemoteAccount) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			nullString(acc.SharedInboxURI),
			acc.OutboxURI,
			nullString(acc.PublicKeyId),
			acc.PublicKeyPem,
			acc.LastFetchedAt.UTC(),
			acc.Id.String(),
		)
		return err
	})
}

// TouchRemoteAccount bumps last_fetched_at so concurrent resyncs of the same
// account see it as fresh.
func (db *DB) TouchRemoteAccount(ctx context.Context, id uuid.UUID, at time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE remote_accounts SET last_fetched_at = ? WHERE id = ?`, at.UTC(), id.String())
		return err
	})
}

// UpdateRemoteAccountURI repairs the acct to actor URI mapping.
func (db *DB) UpdateRemoteAccountURI(ctx context.Context, id uuid.UUID, uri string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE remote_accounts SET actor_uri = ? WHERE id = ?`, uri, id.String())
		return err
	})
}

func scanRemoteAccount(row scanner) (*domain.RemoteAccount, error) {
	var acc domain.RemoteAccount
	var idStr string
	var displayName, summary, sharedInbox, outbox, keyId sql.NullString
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&displayName,
		&summary,
		&acc.InboxURI,
		&sharedInbox,
		&outbox,
		&keyId,
		&acc.PublicKeyPem,
		&acc.LastFetchedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	acc.Id = parseId(idStr)
	acc.DisplayName = displayName.String
	acc.Summary = summary.String
	acc.SharedInboxURI = sharedInbox.String
	acc.OutboxURI = outbox.String
	acc.PublicKeyId = keyId.String
	return &acc, nil
}

func (db *DB) ReadRemoteAccountByURI(ctx context.Context, uri string) (*domain.RemoteAccount, error) {
	return scanRemoteAccount(db.db.QueryRowContext(ctx, sqlSelectRemoteAccount+` WHERE actor_uri = ?`, uri))
}

func (db *DB) ReadRemoteAccountById(ctx context.Context, id uuid.UUID) (*domain.RemoteAccount, error) {
	return scanRemoteAccount(db.db.QueryRowContext(ctx, sqlSelectRemoteAccount+` WHERE id = ?`, id.String()))
}

// ReadRemoteAccountByKeyId finds the account owning an HTTP signature keyId.
func (db *DB) ReadRemoteAccountByKeyId(ctx context.Context, keyId string) (*domain.RemoteAccount, error) {
	return scanRemoteAccount(db.db.QueryRowContext(ctx, sqlSelectRemoteAccount+` WHERE public_key_id = ?`, keyId))
}

// ReadRemoteAccountByAcct matches the username case-insensitively on a punycode domain.
func (db *DB) ReadRemoteAccountByAcct(ctx context.Context, username, domain string) (*domain.RemoteAccount, error) {
	return scanRemoteAccount(db.db.QueryRowContext(ctx, sqlSelectRemoteAccount+` WHERE lower(username) = lower(?) AND domain = ?`, username, domain))
}

// ReadSharedInboxes returns every distinct known shared inbox of remote users.
func (db *DB) ReadSharedInboxes(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectSharedInboxes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return inboxes, err
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}
