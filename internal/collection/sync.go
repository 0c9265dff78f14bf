package collection

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/kimhsiao/studiovault/internal/assets"
	"github.com/kimhsiao/studiovault/internal/cache"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
)

// ensureLoaded populates the list once. Concurrent first readers share one load.
func (c *Collection) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	ch := c.load.DoChan("load", func() (interface{}, error) {
		return nil, c.loadInitial(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		return r.Err
	}
}

// loadInitial reads the cache and, when online, reconciles it with the
// remote store. A fetch failure leaves the cached list in place.
func (c *Collection) loadInitial(ctx context.Context) error {
	c.mu.Lock()
	done := c.loaded
	c.mu.Unlock()
	if done {
		return nil
	}

	local := c.readCache(ctx)
	items := local
	fetched := false

	if owner, online := connectivity.Available(c.oracle); online {
		remoteRecords, err := c.remote.FetchRecords(ctx, owner, c.def.RemoteKey, c.def.FetchLimit)
		if err != nil {
			logging.Warn("initial fetch failed, serving cache", c.logFields(map[string]interface{}{"error": err.Error()}))
		} else {
			items = reconcile(remoteRecords, local, c.queue.Pending(c.def.ID))
			fetched = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	c.items = items
	c.loaded = true
	if fetched {
		c.refreshCacheLocked(ctx, local)
	}
	c.evict(ctx)

	logging.Debug("collection loaded", c.logFields(map[string]interface{}{
		"items":   len(c.items),
		"fetched": fetched,
	}))
	return nil
}

func (c *Collection) readCache(ctx context.Context) []*models.Record {
	keys, err := c.cache.Keys(ctx)
	if err != nil {
		logging.Warn("cache list failed", c.logFields(map[string]interface{}{"error": err.Error()}))
		return nil
	}

	var out []*models.Record
	for _, key := range keys {
		if _, images, ok := cache.ParseKey(c.def.ID, key); !ok || images {
			continue
		}
		entry, err := c.cache.Get(ctx, key)
		if err != nil || entry == nil {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal(entry.Payload, &rec); err != nil {
			logging.Warn("skipping unreadable cache entry", c.logFields(map[string]interface{}{"key": key}))
			continue
		}
		if entry.Meta.SyncStatus != "" {
			rec.SyncStatus = entry.Meta.SyncStatus
		}
		out = append(out, &rec)
	}
	slices.SortStableFunc(out, newestFirst)
	return out
}

// overlay is the local intent still waiting in the queue.
type overlay struct {
	cleared    bool
	added      map[string]bool
	tombstoned map[string]bool
	patches    map[string][]models.RecordPatch
}

func newOverlay(ops []*models.QueueOperation) overlay {
	o := overlay{
		added:      make(map[string]bool),
		tombstoned: make(map[string]bool),
		patches:    make(map[string][]models.RecordPatch),
	}
	for _, op := range ops {
		switch op.Type {
		case models.OperationAdd:
			o.added[op.RecordID] = true
			delete(o.tombstoned, op.RecordID)
		case models.OperationDelete:
			o.tombstoned[op.RecordID] = true
		case models.OperationUpdate:
			var p models.UpdatePayload
			if err := json.Unmarshal(op.Payload, &p); err == nil {
				o.patches[op.RecordID] = append(o.patches[op.RecordID], p.Patch)
			}
		case models.OperationClear:
			o.cleared = true
			clear(o.added)
			clear(o.patches)
		}
	}
	return o
}

// reconcile merges fetched remote records with the local list. Queued
// deletes hide fetched rows, queued updates are reapplied on top of them,
// and local records not yet persisted are kept.
func reconcile(fetched, local []*models.Record, pending []*models.QueueOperation) []*models.Record {
	o := newOverlay(pending)
	seen := make(map[string]bool, len(fetched))
	out := make([]*models.Record, 0, len(fetched)+len(local))

	for _, f := range fetched {
		if o.tombstoned[f.ID] || (o.cleared && !o.added[f.ID]) || seen[f.ID] {
			continue
		}
		r := f.Clone()
		for _, p := range o.patches[r.ID] {
			p.Apply(r)
		}
		r.SyncStatus = models.SyncStatusSynced
		seen[r.ID] = true
		out = append(out, r)
	}

	for _, l := range local {
		if seen[l.ID] || o.tombstoned[l.ID] || l.SyncStatus == models.SyncStatusSynced {
			continue
		}
		seen[l.ID] = true
		out = append(out, l.Clone())
	}

	slices.SortStableFunc(out, newestFirst)
	return out
}

// refreshCacheLocked writes the current list to the cache and drops entries
// of previous records that are gone.
func (c *Collection) refreshCacheLocked(ctx context.Context, previous []*models.Record) {
	current := make(map[string]bool, len(c.items))
	for _, r := range c.items {
		current[r.ID] = true
		c.writeRecord(ctx, r)
	}
	for _, r := range previous {
		if !current[r.ID] {
			c.dropCache(ctx, r.ID)
		}
	}
}

// SyncFromCloud replaces the list with the remote state, keeping local
// changes that are still queued. It emits syncStart and syncComplete.
func (c *Collection) SyncFromCloud(ctx context.Context) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	c.events.emit(Event{Type: EventSyncStart, Collection: c.def.ID})

	owner, online := connectivity.Available(c.oracle)
	if !online {
		err := apperrors.Newf(apperrors.ErrRemoteUnavailable, "collection %s cannot sync while offline", c.def.ID)
		c.events.emit(Event{Type: EventSyncComplete, Collection: c.def.ID, Err: err})
		return err
	}

	c.mu.Lock()
	fetched, err := c.remote.FetchRecords(ctx, owner, c.def.RemoteKey, c.def.FetchLimit)
	if err != nil {
		c.mu.Unlock()
		logging.Error("sync fetch failed", err, c.logFields(nil))
		if !apperrors.Is(err, apperrors.ErrRemoteUnavailable) {
			err = apperrors.Wrap(apperrors.ErrRemoteUnavailable, "sync fetch failed", err)
		}
		c.events.emit(Event{Type: EventSyncComplete, Collection: c.def.ID, Err: err})
		return err
	}

	previous := c.items
	c.items = reconcile(fetched, previous, c.queue.Pending(c.def.ID))
	c.refreshCacheLocked(ctx, previous)
	c.evict(ctx)
	c.loaded = true
	count := len(c.items)
	c.mu.Unlock()

	logging.Info("collection synced", c.logFields(map[string]interface{}{
		"fetched": len(fetched),
		"items":   count,
	}))
	c.events.emit(Event{Type: EventSyncComplete, Collection: c.def.ID, Success: true, Count: count})
	return nil
}

// FlushOfflineQueue replays this collection's queued operations in order.
// It does nothing while offline or without an identity.
func (c *Collection) FlushOfflineQueue(ctx context.Context) (queue.FlushResult, error) {
	owner, online := connectivity.Available(c.oracle)
	if !online {
		return queue.FlushResult{Remaining: len(c.queue.Pending(c.def.ID))}, nil
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return queue.FlushResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx, owner)
}

func (c *Collection) flushLocked(ctx context.Context, owner string) (queue.FlushResult, error) {
	c.requeueOrphans(ctx)

	res, err := c.queue.Flush(ctx, c.def.ID, func(ctx context.Context, op *models.QueueOperation) error {
		return c.apply(ctx, owner, op)
	})
	if err != nil {
		logging.Error("queue flush failed", err, c.logFields(nil))
	}
	return res, err
}

// requeueOrphans enqueues an Add for every unsynced record with none queued.
func (c *Collection) requeueOrphans(ctx context.Context) {
	queued := make(map[string]bool)
	for _, op := range c.queue.Pending(c.def.ID) {
		if op.Type == models.OperationAdd {
			queued[op.RecordID] = true
		}
	}

	for _, rec := range c.items {
		if rec.SyncStatus == models.SyncStatusSynced || queued[rec.ID] {
			continue
		}
		b := c.orphans[rec.ID]
		if b == nil {
			b = c.cachedImages(ctx, rec.ID)
		}
		if err := replayable(rec.AssetRefs, b); err != nil {
			logging.Warn("unsynced record has no images to replay", c.logFields(map[string]interface{}{
				"record_id": rec.ID,
				"error":     err.Error(),
			}))
			continue
		}
		c.queueAdd(ctx, rec, b)
	}
}

func (c *Collection) cachedImages(ctx context.Context, id string) *models.AssetBundle {
	entry, err := c.cache.Get(ctx, cache.ImagesKey(c.def.ID, id))
	if err != nil || entry == nil {
		return nil
	}
	var b models.AssetBundle
	if err := json.Unmarshal(entry.Payload, &b); err != nil {
		return nil
	}
	return &b
}

// apply replays one operation. Every branch is idempotent so a replay that
// is interrupted before the queue removes the operation can safely repeat.
// Unknown or unreadable operations are dropped.
func (c *Collection) apply(ctx context.Context, owner string, op *models.QueueOperation) error {
	switch op.Type {
	case models.OperationAdd:
		return c.replayAdd(ctx, owner, op)

	case models.OperationDelete:
		var p models.DeletePayload
		if len(op.Payload) > 0 {
			if err := json.Unmarshal(op.Payload, &p); err != nil {
				return c.drop(op, err)
			}
		}
		if err := c.remote.DeleteRecord(ctx, owner, c.def.RemoteKey, op.RecordID); err != nil {
			return err
		}
		paths := p.BlobPaths
		for _, extra := range c.replayed[op.RecordID].Paths() {
			if !slices.Contains(paths, extra) {
				paths = append(paths, extra)
			}
		}
		if len(paths) > 0 {
			if err := c.remote.DeleteBlobs(ctx, owner, paths); err != nil {
				return err
			}
		}
		delete(c.replayed, op.RecordID)
		return nil

	case models.OperationUpdate:
		var p models.UpdatePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return c.drop(op, err)
		}
		err := c.remote.UpdateRecord(ctx, owner, c.def.RemoteKey, op.RecordID, p.Patch)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			logging.Warn("queued update targets a missing record", c.logFields(map[string]interface{}{"record_id": op.RecordID}))
			return nil
		}
		if err != nil {
			return err
		}
		if rec := c.find(op.RecordID); rec != nil && rec.SyncStatus == models.SyncStatusSynced {
			if err := c.cache.MarkSynced(ctx, cache.RecordKey(c.def.ID, rec.ID)); err != nil {
				logging.Warn("cache metadata update failed", c.logFields(map[string]interface{}{"record_id": rec.ID}))
			}
		}
		return nil

	case models.OperationClear:
		if err := c.remote.DeleteCollection(ctx, owner, c.def.RemoteKey); err != nil {
			return err
		}
		clear(c.replayed)
		return nil

	default:
		return c.drop(op, apperrors.Newf(apperrors.ErrInvalid, "unknown operation type %q", op.Type))
	}
}

func (c *Collection) drop(op *models.QueueOperation, cause error) error {
	logging.Error("dropping unreplayable queue operation", cause, c.logFields(map[string]interface{}{
		"op_id": op.ID,
		"type":  string(op.Type),
	}))
	return nil
}

func (c *Collection) replayAdd(ctx context.Context, owner string, op *models.QueueOperation) error {
	var p models.AddPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return c.drop(op, err)
	}
	if p.Record == nil {
		return c.drop(op, apperrors.New(apperrors.ErrInvalid, "add operation has no record"))
	}

	rec := p.Record.Clone()
	if err := replayable(rec.AssetRefs, p.Bundle); err != nil {
		// No retry can upload a main image that does not decode.
		c.markStatus(ctx, rec.ID, models.SyncStatusFailed)
		return c.drop(op, err)
	}
	refs, failures, err := c.uploadAssets(ctx, owner, rec.ID, rec.AssetRefs, p.Bundle)
	if err != nil {
		c.markStatus(ctx, rec.ID, models.SyncStatusFailed)
		return apperrors.Wrap(apperrors.ErrMainAssetUpload, "main asset upload failed", err)
	}
	c.replayed[rec.ID] = refs

	rec.AssetRefs = refs
	rec.UploadFailures = failures
	rec.OwnerID = owner
	rec.CollectionKey = c.def.RemoteKey
	rec.SyncStatus = models.SyncStatusSynced
	if err := c.remote.PersistRecord(ctx, owner, rec); err != nil {
		c.markStatus(ctx, rec.ID, models.SyncStatusFailed)
		return err
	}

	if item := c.find(rec.ID); item != nil {
		item.AssetRefs = rec.AssetRefs
		item.UploadFailures = rec.UploadFailures
		item.OwnerID = owner
		item.SyncStatus = models.SyncStatusSynced
		c.writeRecord(ctx, item)
		if err := c.cache.MarkSynced(ctx, cache.ImagesKey(c.def.ID, item.ID)); err != nil {
			logging.Warn("cache metadata update failed", c.logFields(map[string]interface{}{"record_id": item.ID}))
		}
	}
	delete(c.orphans, rec.ID)
	return nil
}

// replayable reports whether an Add can still upload its main image.
func replayable(refs models.AssetRefs, b *models.AssetBundle) error {
	if refs.Main != "" {
		return nil
	}
	if b == nil || b.Main == "" {
		return apperrors.New(apperrors.ErrInvalid, "add operation has no main image")
	}
	_, err := assets.DecodeDataURL(b.Main)
	return err
}

func (c *Collection) markStatus(ctx context.Context, id string, status models.SyncStatus) {
	if rec := c.find(id); rec != nil && rec.SyncStatus != status {
		c.setStatus(ctx, rec, status)
	}
}
