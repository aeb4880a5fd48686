package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Instance queries
const (
	sqlSelectInstance = `SELECT id, host, is_suspended, last_communicated_at, latest_status, latest_request_sent_at, is_not_responding, software_name, software_version, info_updated_at, created_at FROM instances`
	sqlInsertInstance = `INSERT OR IGNORE INTO instances(id, host, created_at) VALUES (?, ?, ?)`
	sqlUpdateHealth   = `UPDATE instances SET latest_request_sent_at = ?, latest_status = ?, last_communicated_at = COALESCE(?, last_communicated_at), is_not_responding = ? WHERE id = ?`
	sqlUpdateInfo     = `UPDATE instances SET software_name = ?, software_version = ?, info_updated_at = ? WHERE id = ?`
)

func scanInstance(row scanner) (*domain.Instance, error) {
	var inst domain.Instance
	var idStr string
	var lastCommunicated, latestSent, infoUpdated sql.NullTime
	var latestStatus sql.NullInt64
	var softwareName, softwareVersion sql.NullString
	err := row.Scan(
		&idStr,
		&inst.Host,
		&inst.IsSuspended,
		&lastCommunicated,
		&latestStatus,
		&latestSent,
		&inst.IsNotResponding,
		&softwareName,
		&softwareVersion,
		&infoUpdated,
		&inst.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	inst.Id = parseId(idStr)
	inst.LastCommunicatedAt = timePtr(lastCommunicated)
	inst.LatestRequestSentAt = timePtr(latestSent)
	inst.InfoUpdatedAt = timePtr(infoUpdated)
	if latestStatus.Valid {
		status := int(latestStatus.Int64)
		inst.LatestStatus = &status
	}
	inst.SoftwareName = softwareName.String
	inst.SoftwareVersion = softwareVersion.String
	return &inst, nil
}

// RegisterOrFetchInstance returns the record for host, creating it on first contact.
func (db *DB) RegisterOrFetchInstance(ctx context.Context, host string) (*domain.Instance, error) {
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInstance, uuid.New().String(), host, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadInstanceByHost(ctx, host)
}

func (db *DB) ReadInstanceByHost(ctx context.Context, host string) (*domain.Instance, error) {
	return scanInstance(db.db.QueryRowContext(ctx, sqlSelectInstance+` WHERE host = ?`, host))
}

// ReadInstancesByHosts returns the known instances among hosts. Unknown hosts
// are absent from the result.
func (db *DB) ReadInstancesByHosts(ctx context.Context, hosts []string) ([]domain.Instance, error) {
	if len(hosts) == 0 {
		return nil, nil
	}
	args := make([]any, len(hosts))
	for i, h := range hosts {
		args[i] = h
	}
	rows, err := db.db.QueryContext(ctx, sqlSelectInstance+` WHERE host IN (`+placeholders(len(hosts))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInstances(rows)
}

// ReadInstances lists all instances ordered by host.
func (db *DB) ReadInstances(ctx context.Context) ([]domain.Instance, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectInstance+` ORDER BY host`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInstances(rows)
}

func collectInstances(rows *sql.Rows) ([]domain.Instance, error) {
	var instances []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return instances, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// UpdateInstanceHealth records delivery feedback. A nil LastCommunicatedAt
// keeps the previous value.
func (db *DB) UpdateInstanceHealth(ctx context.Context, id uuid.UUID, h domain.InstanceHealth) error {
	var status sql.NullInt64
	if h.LatestStatus != nil {
		status = sql.NullInt64{Int64: int64(*h.LatestStatus), Valid: true}
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateHealth,
			h.LatestRequestSentAt.UTC(),
			status,
			nullTime(h.LastCommunicatedAt),
			h.IsNotResponding,
			id.String(),
		)
		return err
	})
}

func (db *DB) UpdateInstanceMetadata(ctx context.Context, id uuid.UUID, softwareName, softwareVersion string, at time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateInfo, nullString(softwareName), nullString(softwareVersion), at.UTC(), id.String())
		return err
	})
}

func (db *DB) SetInstanceSuspended(ctx context.Context, host string, suspended bool) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE instances SET is_suspended = ? WHERE host = ?`, suspended, host)
		return err
	})
}

// Meta

func (db *DB) ReadMeta(ctx context.Context) (*domain.Meta, error) {
	row := db.db.QueryRowContext(ctx, `SELECT secure_mode, private_mode, blocked_hosts, allowed_hosts FROM meta WHERE id = 1`)
	var meta domain.Meta
	var blocked, allowed string
	if err := row.Scan(&meta.SecureMode, &meta.PrivateMode, &blocked, &allowed); err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(blocked), &meta.BlockedHosts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allowed), &meta.AllowedHosts); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (db *DB) SaveMeta(ctx context.Context, meta *domain.Meta) error {
	blocked, err := json.Marshal(nonNil(meta.BlockedHosts))
	if err != nil {
		return err
	}
	allowed, err := json.Marshal(nonNil(meta.AllowedHosts))
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO meta(id, secure_mode, private_mode, blocked_hosts, allowed_hosts) VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET secure_mode = excluded.secure_mode, private_mode = excluded.private_mode,
			blocked_hosts = excluded.blocked_hosts, allowed_hosts = excluded.allowed_hosts`,
			meta.SecureMode, meta.PrivateMode, string(blocked), string(allowed))
		return err
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Delivery Queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, actor_id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, actor_id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC, created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = item.CreatedAt
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.ActorId.String(),
			item.InboxURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt.Unix(),
			item.CreatedAt,
		)
		return err
	})
}

// ReadPendingDeliveries returns up to limit items due at now.
func (db *DB) ReadPendingDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingDeliveries, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, actorIdStr string
		var nextRetry int64
		if err := rows.Scan(&idStr, &actorIdStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &nextRetry, &item.CreatedAt); err != nil {
			return items, err
		}
		item.Id = parseId(idStr)
		item.ActorId = parseId(actorIdStr)
		item.NextRetryAt = time.Unix(nextRetry, 0).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry.Unix(), id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

// CountDeliveries returns the number of queued items.
func (db *DB) CountDeliveries(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_queue`).Scan(&n)
	return n, err
}
