package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/kimhsiao/studiovault/internal/db"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
)

// SQLiteCache is a LocalCache stored in the cache_entries table.
// Each cache sees only the rows of its namespace.
type SQLiteCache struct {
	db        *db.DB
	namespace string
}

// NewSQLiteCache creates a cache over an opened database.
func NewSQLiteCache(database *db.DB, namespace string) *SQLiteCache {
	return &SQLiteCache{db: database, namespace: namespace}
}

// Get returns the entry for key, or nil when absent.
func (c *SQLiteCache) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	query := `SELECT payload, sync_status, created_at, updated_at, synced_at
			  FROM cache_entries WHERE namespace = ? AND key = ?`

	entry := &models.CacheEntry{Key: key}
	var status string
	err := c.db.QueryRowContext(ctx, query, c.namespace, key).Scan(
		&entry.Payload, &status, &entry.Meta.CreatedAt, &entry.Meta.UpdatedAt, &entry.Meta.SyncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCache, "failed to read cache entry", err)
	}
	entry.Meta.SyncStatus = models.SyncStatus(status)
	return entry, nil
}

// Set upserts payload and metadata under key.
func (c *SQLiteCache) Set(ctx context.Context, key string, payload []byte, meta models.CacheMeta) error {
	if meta.SyncStatus == "" {
		meta.SyncStatus = models.SyncStatusPending
	}
	now := time.Now().UnixMilli()
	if meta.CreatedAt == 0 {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt == 0 {
		meta.UpdatedAt = now
	}
	if payload == nil {
		payload = []byte{}
	}

	query := `INSERT INTO cache_entries (namespace, key, payload, sync_status, created_at, updated_at, synced_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(namespace, key) DO UPDATE SET
				payload = excluded.payload,
				sync_status = excluded.sync_status,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at`

	_, err := c.db.ExecContext(ctx, query, c.namespace, key, payload, string(meta.SyncStatus),
		meta.CreatedAt, meta.UpdatedAt, meta.SyncedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "failed to write cache entry", err)
	}
	return nil
}

// Delete removes key.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, c.namespace, key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "failed to delete cache entry", err)
	}
	return nil
}

// Clear removes every entry in the namespace.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, c.namespace)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "failed to clear cache", err)
	}
	return nil
}

// Keys returns all keys in the namespace in lexical order.
func (c *SQLiteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key FROM cache_entries WHERE namespace = ? ORDER BY key`, c.namespace)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCache, "failed to list cache keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCache, "failed to scan cache key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MarkSynced sets the entry status to synced and stamps synced_at.
func (c *SQLiteCache) MarkSynced(ctx context.Context, key string) error {
	status := models.SyncStatusSynced
	now := time.Now().UnixMilli()
	return c.UpdateMeta(ctx, key, models.MetaPatch{SyncStatus: &status, SyncedAt: &now})
}

// UpdateMeta patches the metadata of key. Absent keys are left absent.
func (c *SQLiteCache) UpdateMeta(ctx context.Context, key string, patch models.MetaPatch) error {
	entry, err := c.Get(ctx, key)
	if err != nil || entry == nil {
		return err
	}
	patch.Apply(&entry.Meta)

	query := `UPDATE cache_entries SET sync_status = ?, updated_at = ?, synced_at = ?
			  WHERE namespace = ? AND key = ?`
	_, err = c.db.ExecContext(ctx, query, string(entry.Meta.SyncStatus), entry.Meta.UpdatedAt,
		entry.Meta.SyncedAt, c.namespace, key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "failed to update cache metadata", err)
	}
	return nil
}
