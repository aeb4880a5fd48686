package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Follow queries
const (
	sqlInsertFollow        = `INSERT INTO follows(id, account_id, target_account_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollow        = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows`
	sqlSelectFollowerInbox = `SELECT remote_accounts.inbox_uri, remote_accounts.shared_inbox_uri FROM follows
								INNER JOIN remote_accounts ON remote_accounts.id = follows.account_id
								WHERE follows.target_account_id = ? AND follows.accepted = 1`
)

func (db *DB) CreateFollow(ctx context.Context, follow *domain.Follow) error {
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.TargetAccountId.String(),
			nullString(follow.URI),
			follow.Accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func scanFollow(row scanner) (*domain.Follow, error) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr string
	var uri sql.NullString
	err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &uri, &follow.Accepted, &follow.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	follow.Id = parseId(idStr)
	follow.AccountId = parseId(accountIdStr)
	follow.TargetAccountId = parseId(targetIdStr)
	follow.URI = uri.String
	return &follow, nil
}

func (db *DB) ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollow+` WHERE uri = ?`, uri))
}

// ReadFollow returns the follow of followee by follower.
func (db *DB) ReadFollow(ctx context.Context, followerId, followeeId uuid.UUID) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollow+` WHERE account_id = ? AND target_account_id = ?`, followerId.String(), followeeId.String()))
}

func (db *DB) AcceptFollow(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE follows SET accepted = 1 WHERE id = ?`, id.String())
		return err
	})
}

func (db *DB) DeleteFollow(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM follows WHERE id = ?`, id.String())
		return err
	})
}

// ReadFollowerInboxes returns the inboxes of the accepted remote followers of followeeId.
func (db *DB) ReadFollowerInboxes(ctx context.Context, followeeId uuid.UUID) ([]domain.FollowerInbox, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowerInbox, followeeId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []domain.FollowerInbox
	for rows.Next() {
		var fi domain.FollowerInbox
		var shared sql.NullString
		if err := rows.Scan(&fi.Inbox, &shared); err != nil {
			return inboxes, err
		}
		fi.SharedInbox = shared.String
		inboxes = append(inboxes, fi)
	}
	return inboxes, rows.Err()
}

// Reactions

const (
	sqlInsertReaction = `INSERT INTO reactions(id, account_id, note_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectReaction = `SELECT id, account_id, note_id, uri, created_at FROM reactions`
)

func (db *DB) CreateReaction(ctx context.Context, r *domain.Reaction) error {
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertReaction, r.Id.String(), r.AccountId.String(), r.NoteId.String(), nullString(r.URI), r.CreatedAt)
		return err
	})
}

func scanReaction(row scanner) (*domain.Reaction, error) {
	var r domain.Reaction
	var idStr, accountIdStr, noteIdStr string
	var uri sql.NullString
	if err := row.Scan(&idStr, &accountIdStr, &noteIdStr, &uri, &r.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	r.Id = parseId(idStr)
	r.AccountId = parseId(accountIdStr)
	r.NoteId = parseId(noteIdStr)
	r.URI = uri.String
	return &r, nil
}

func (db *DB) ReadReactionById(ctx context.Context, id uuid.UUID) (*domain.Reaction, error) {
	return scanReaction(db.db.QueryRowContext(ctx, sqlSelectReaction+` WHERE id = ?`, id.String()))
}

func (db *DB) ReadReactionByURI(ctx context.Context, uri string) (*domain.Reaction, error) {
	return scanReaction(db.db.QueryRowContext(ctx, sqlSelectReaction+` WHERE uri = ?`, uri))
}

func (db *DB) ReadReaction(ctx context.Context, accountId, noteId uuid.UUID) (*domain.Reaction, error) {
	return scanReaction(db.db.QueryRowContext(ctx, sqlSelectReaction+` WHERE account_id = ? AND note_id = ?`, accountId.String(), noteId.String()))
}

func (db *DB) DeleteReaction(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM reactions WHERE id = ?`, id.String())
		return err
	})
}

// Polls

func (db *DB) CreatePoll(ctx context.Context, poll *domain.Poll) error {
	choices, err := json.Marshal(poll.Choices)
	if err != nil {
		return err
	}
	if len(poll.Votes) != len(poll.Choices) {
		poll.Votes = make([]int, len(poll.Choices))
	}
	votes, err := json.Marshal(poll.Votes)
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO polls(note_id, choices, votes, multiple, expires_at) VALUES (?, ?, ?, ?, ?)`,
			poll.NoteId.String(), string(choices), string(votes), poll.Multiple, nullTime(poll.ExpiresAt))
		return err
	})
}

func (db *DB) ReadPollByNoteId(ctx context.Context, noteId uuid.UUID) (*domain.Poll, error) {
	row := db.db.QueryRowContext(ctx, `SELECT note_id, choices, votes, multiple, expires_at FROM polls WHERE note_id = ?`, noteId.String())
	var poll domain.Poll
	var idStr, choices, votes string
	var expiresAt sql.NullTime
	if err := row.Scan(&idStr, &choices, &votes, &poll.Multiple, &expiresAt); err != nil {
		return nil, notFound(err)
	}
	poll.NoteId = parseId(idStr)
	poll.ExpiresAt = timePtr(expiresAt)
	if err := json.Unmarshal([]byte(choices), &poll.Choices); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(votes), &poll.Votes); err != nil {
		return nil, err
	}
	return &poll, nil
}

func (db *DB) UpdatePollVotes(ctx context.Context, noteId uuid.UUID, votes []int) error {
	buf, err := json.Marshal(votes)
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE polls SET votes = ? WHERE note_id = ?`, string(buf), noteId.String())
		return err
	})
}

// Blocks

func (db *DB) CreateBlock(ctx context.Context, b *domain.Block) error {
	if b.Id == uuid.Nil {
		b.Id = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO blocks(id, account_id, target_account_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`,
			b.Id.String(), b.AccountId.String(), b.TargetAccountId.String(), nullString(b.URI), b.CreatedAt)
		if err != nil {
			return err
		}
		// a block severs follows in both directions
		_, err = tx.Exec(`DELETE FROM follows WHERE (account_id = ? AND target_account_id = ?) OR (account_id = ? AND target_account_id = ?)`,
			b.AccountId.String(), b.TargetAccountId.String(), b.TargetAccountId.String(), b.AccountId.String())
		return err
	})
}

func (db *DB) ReadBlock(ctx context.Context, blockerId, blockeeId uuid.UUID) (*domain.Block, error) {
	row := db.db.QueryRowContext(ctx, `SELECT id, account_id, target_account_id, uri, created_at FROM blocks WHERE account_id = ? AND target_account_id = ?`,
		blockerId.String(), blockeeId.String())
	var b domain.Block
	var idStr, accountIdStr, targetIdStr string
	var uri sql.NullString
	if err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &uri, &b.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	b.Id = parseId(idStr)
	b.AccountId = parseId(accountIdStr)
	b.TargetAccountId = parseId(targetIdStr)
	b.URI = uri.String
	return &b, nil
}

func (db *DB) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM blocks WHERE id = ?`, id.String())
		return err
	})
}

// Activity queries

const (
	sqlInsertActivity      = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at FROM activities WHERE activity_uri = ?`
)

func (db *DB) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	if activity.Id == uuid.Nil {
		activity.Id = uuid.New()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			nullString(activity.ObjectURI),
			activity.RawJSON,
			activity.Processed,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) MarkActivityProcessed(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE activities SET processed = 1 WHERE id = ?`, id.String())
		return err
	})
}

func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	row := db.db.QueryRowContext(ctx, sqlSelectActivityByURI, uri)
	var activity domain.Activity
	var idStr string
	var objectURI sql.NullString
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&objectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	activity.Id = parseId(idStr)
	activity.ObjectURI = objectURI.String
	return &activity, nil
}
