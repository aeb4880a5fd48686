package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

var logger = log.WithPrefix("db")

// DB is the database struct.
type DB struct {
	db *sql.DB
}

const maxBusyRetries = 10

const (
	//Accounts
	sqlInsertUser = `INSERT INTO accounts(id, username, display_name, summary, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectUser = `SELECT id, username, display_name, summary, web_public_key, web_private_key, created_at FROM accounts`

	//Notes
	sqlInsertNote = `INSERT INTO notes(id, user_id, message, visibility, in_reply_to_uri, uri, renote_uri, sensitive, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNote = `SELECT id, user_id, message, visibility, in_reply_to_uri, uri, renote_uri, sensitive, created_at, edited_at FROM notes`
	sqlDeleteNote = `DELETE FROM notes WHERE id = ?`
	sqlEditNote   = `UPDATE notes SET message = ?, edited_at = ? WHERE id = ?`
)

// Open opens (and migrates) the sqlite database at path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		logger.Warn("Failed to enable WAL mode", "err", err)
	} else {
		logger.Info("Database opened", "path", path, "journal", journalMode)
	}
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}

// OpenMemory returns a migrated in-memory database. All access goes through a
// single connection so every query sees the same database.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction, retrying the
// whole transaction while sqlite reports SQLITE_BUSY.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = db.runTransaction(ctx, f)
		if !isBusy(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	if err != nil {
		logger.Error("Transaction failed", "err", err)
	}
	return err
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func parseId(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Accounts

func (db *DB) CreateAccount(ctx context.Context, acc *domain.Account) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.CreatedAt,
		)
		return err
	})
}

func scanAccount(row scanner) (*domain.Account, error) {
	var acc domain.Account
	var idStr string
	var displayName, summary sql.NullString
	err := row.Scan(&idStr, &acc.Username, &displayName, &summary, &acc.WebPublicKey, &acc.WebPrivateKey, &acc.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	acc.Id = parseId(idStr)
	acc.DisplayName = displayName.String
	acc.Summary = summary.String
	return &acc, nil
}

func (db *DB) ReadAccById(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx, sqlSelectUser+` WHERE id = ?`, id.String()))
}

// ReadAccByUsername matches the username case-insensitively.
func (db *DB) ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx, sqlSelectUser+` WHERE lower(username) = lower(?)`, username))
}

// CountAccounts counts local accounts other than the one named except.
func (db *DB) CountAccounts(ctx context.Context, except string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE username <> ?`, except).Scan(&n)
	return n, err
}

// CountLocalNotes counts notes written on this server.
func (db *DB) CountLocalNotes(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE uri IS NULL`).Scan(&n)
	return n, err
}

// Notes

func (db *DB) CreateNote(ctx context.Context, note *domain.Note) error {
	if note.Id == uuid.Nil {
		note.Id = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.Visibility == "" {
		note.Visibility = "public"
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote,
			note.Id.String(),
			note.UserId.String(),
			note.Message,
			note.Visibility,
			nullString(note.InReplyToURI),
			nullString(note.URI),
			nullString(note.RenoteURI),
			note.Sensitive,
			note.CreatedAt,
		)
		return err
	})
}

func scanNote(row scanner) (*domain.Note, error) {
	var note domain.Note
	var idStr, userIdStr string
	var inReplyTo, uri, renote sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(&idStr, &userIdStr, &note.Message, &note.Visibility, &inReplyTo, &uri, &renote, &note.Sensitive, &note.CreatedAt, &editedAt)
	if err != nil {
		return nil, notFound(err)
	}
	note.Id = parseId(idStr)
	note.UserId = parseId(userIdStr)
	note.InReplyToURI = inReplyTo.String
	note.URI = uri.String
	note.RenoteURI = renote.String
	note.EditedAt = timePtr(editedAt)
	return &note, nil
}

func (db *DB) ReadNoteById(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	return scanNote(db.db.QueryRowContext(ctx, sqlSelectNote+` WHERE id = ?`, id.String()))
}

// ReadNoteByURI looks up a note received from a remote server.
func (db *DB) ReadNoteByURI(ctx context.Context, uri string) (*domain.Note, error) {
	return scanNote(db.db.QueryRowContext(ctx, sqlSelectNote+` WHERE uri = ?`, uri))
}

func (db *DB) EditNote(ctx context.Context, id uuid.UUID, message string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlEditNote, message, time.Now().UTC(), id.String())
		return err
	})
}

// DeleteNote removes the note together with its poll and reactions.
func (db *DB) DeleteNote(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM reactions WHERE note_id = ?`, id.String()); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM polls WHERE note_id = ?`, id.String()); err != nil {
			return err
		}
		_, err := tx.Exec(sqlDeleteNote, id.String())
		return err
	})
}
