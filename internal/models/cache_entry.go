package models

// CacheMeta is the sync metadata stored next to a cached payload.
type CacheMeta struct {
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
	SyncedAt   int64      `db:"synced_at" json:"synced_at,omitempty"`
}

// MetaPatch is a partial metadata update. Nil fields are left unchanged.
type MetaPatch struct {
	SyncStatus *SyncStatus
	UpdatedAt  *int64
	SyncedAt   *int64
}

// Apply writes the patch onto m.
func (p MetaPatch) Apply(m *CacheMeta) {
	if p.SyncStatus != nil {
		m.SyncStatus = *p.SyncStatus
	}
	if p.UpdatedAt != nil {
		m.UpdatedAt = *p.UpdatedAt
	}
	if p.SyncedAt != nil {
		m.SyncedAt = *p.SyncedAt
	}
}

// CacheEntry is one key/value entry in the local cache.
type CacheEntry struct {
	Key     string    `db:"key" json:"key"`
	Payload []byte    `db:"payload" json:"payload"`
	Meta    CacheMeta `json:"meta"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
