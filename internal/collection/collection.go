// Package collection implements the synchronized collection: the per-category
// state machine that keeps records consistent between the in-memory list, the
// local cache, the offline queue and the remote store.
//
// Every mutation runs under the collection's mutex. Event handlers are called
// after the mutex is released, so a handler may call back into the collection.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/studiovault/internal/assets"
	"github.com/kimhsiao/studiovault/internal/cache"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/remote"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
	"github.com/kimhsiao/studiovault/internal/uuid"
)

// DefaultFetchLimit caps how many records a sync pulls when no limit is configured.
const DefaultFetchLimit = 100

// Definition describes one collection.
type Definition struct {
	// ID is the local key: cache key prefix and offline queue collection key.
	ID   string
	Type models.CollectionType
	// RemoteKey is the collection key in the remote store and blob paths. Defaults to ID.
	RemoteKey string
	// MaxSize bounds the in-memory list and cache; 0 means unbounded.
	MaxSize int
	// FetchLimit caps records pulled by SyncFromCloud.
	FetchLimit int
}

func (d Definition) normalize() (Definition, error) {
	if d.ID == "" || strings.ContainsAny(d.ID, ":/") {
		return d, apperrors.Newf(apperrors.ErrInvalid, "invalid collection id %q", d.ID)
	}
	if !d.Type.Valid() {
		return d, apperrors.Newf(apperrors.ErrInvalid, "invalid collection type %q", d.Type)
	}
	if d.MaxSize < 0 {
		return d, apperrors.Newf(apperrors.ErrInvalid, "negative max size for %s", d.ID)
	}
	if d.RemoteKey == "" {
		d.RemoteKey = d.ID
	}
	if d.FetchLimit <= 0 {
		d.FetchLimit = DefaultFetchLimit
	}
	return d, nil
}

// Options wires a collection to its collaborators.
type Options struct {
	Definition Definition
	Cache      cache.LocalCache
	Queue      *queue.OfflineQueue
	Remote     remote.Store
	Oracle     connectivity.Oracle
	// Registry, when set, receives the collection for broadcast sync.
	Registry *Registry

	// GenerateThumbnails derives a thumbnail from the main image when a bundle has none.
	GenerateThumbnails bool
	ThumbnailSize      int

	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Stats summarizes collection state.
type Stats struct {
	ID      string
	Type    models.CollectionType
	Loaded  bool
	Items   int
	Pending int
	Failed  int
	Queued  int
}

// Collection is a synchronized collection of records.
type Collection struct {
	def    Definition
	cache  cache.LocalCache
	queue  *queue.OfflineQueue
	remote remote.Store
	oracle connectivity.Oracle
	now    func() time.Time

	generateThumbnails bool
	thumbnailSize      int

	mu     sync.Mutex
	items  []*models.Record // newest first
	loaded bool
	// orphans holds bundles of records whose Add could not be enqueued.
	orphans map[string]*models.AssetBundle
	// replayed remembers blob refs created by queued Adds, for later queued Deletes.
	replayed map[string]models.AssetRefs

	load   singleflight.Group
	events *emitter

	unregister func()
}

// New creates a collection. The list is loaded lazily on first use.
func New(opts Options) (*Collection, error) {
	def, err := opts.Definition.normalize()
	if err != nil {
		return nil, err
	}
	if opts.Cache == nil || opts.Queue == nil || opts.Remote == nil || opts.Oracle == nil {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "collection %s is missing a collaborator", def.ID)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Collection{
		def:                def,
		cache:              opts.Cache,
		queue:              opts.Queue,
		remote:             opts.Remote,
		oracle:             opts.Oracle,
		now:                now,
		generateThumbnails: opts.GenerateThumbnails,
		thumbnailSize:      opts.ThumbnailSize,
		orphans:            make(map[string]*models.AssetBundle),
		replayed:           make(map[string]models.AssetRefs),
		events:             newEmitter(),
	}
	if opts.Registry != nil {
		c.unregister = opts.Registry.Register(c)
	}
	return c, nil
}

// Definition returns the resolved definition.
func (c *Collection) Definition() Definition {
	return c.def
}

// ID returns the collection id.
func (c *Collection) ID() string {
	return c.def.ID
}

// Close detaches the collection from its registry.
func (c *Collection) Close() {
	if c.unregister != nil {
		c.unregister()
	}
}

// On registers h for t and returns a function that removes it.
func (c *Collection) On(t EventType, h Handler) func() {
	return c.events.on(t, h)
}

func (c *Collection) logFields(extra map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{"collection": c.def.ID}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Add creates a record from in and bundle. Every image in bundle must be a
// base64 data URL; anything else is rejected with INVALID_INPUT.
//
// Offline, or without an identity, the record is cached as pending, queued,
// and returned without error. Online, the main image is uploaded first; if
// that fails nothing is committed and MAIN_ASSET_UPLOAD_FAILED is returned.
// Thumbnail and variant failures are recorded on the record. If the row
// cannot be persisted the record is kept as failed and queued for replay.
func (c *Collection) Add(ctx context.Context, in models.RecordInput, bundle models.AssetBundle) (*models.Record, error) {
	if err := validateBundle(bundle); err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	b := bundle.Clone()
	if c.generateThumbnails && b.Thumbnail == "" {
		thumb, err := assets.ThumbnailDataURL(b.Main, c.thumbnailSize)
		if err != nil {
			logging.Warn("thumbnail derivation failed", c.logFields(map[string]interface{}{"error": err.Error()}))
		} else {
			b.Thumbnail = thumb
		}
	}

	rec := c.newRecord(in, b)

	c.mu.Lock()
	out, err := c.addLocked(ctx, rec, b)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.events.emit(Event{Type: EventItemAdded, Collection: c.def.ID, Record: out.Clone(), RecordID: out.ID})
	return out, nil
}

func validateBundle(b models.AssetBundle) error {
	if b.Main == "" {
		return apperrors.New(apperrors.ErrInvalid, "asset bundle has no main image")
	}
	if _, err := assets.DecodeDataURL(b.Main); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid main image", err)
	}
	if b.Thumbnail != "" {
		if _, err := assets.DecodeDataURL(b.Thumbnail); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "invalid thumbnail", err)
		}
	}
	for i, v := range b.Variants {
		if v == "" {
			continue
		}
		if _, err := assets.DecodeDataURL(v); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("invalid variant %d", i), err)
		}
	}
	return nil
}

func (c *Collection) newRecord(in models.RecordInput, b *models.AssetBundle) *models.Record {
	now := c.now().UnixMilli()
	variants := in.VariantCount
	if variants < len(b.Variants) {
		variants = len(b.Variants)
	}
	if variants < 1 {
		variants = 1
	}

	rec := &models.Record{
		ID:               uuid.NewTimeOrdered(),
		CreatedAt:        now,
		UpdatedAt:        now,
		CollectionType:   c.def.Type,
		CollectionKey:    c.def.RemoteKey,
		DisplayText:      in.DisplayText,
		GenerationParams: append(json.RawMessage(nil), in.GenerationParams...),
		VariantCount:     variants,
		SyncStatus:       models.SyncStatusPending,
	}
	if len(in.GenerationParams) == 0 {
		rec.GenerationParams = nil
	}
	if in.Seed != nil {
		seed := *in.Seed
		rec.Seed = &seed
	}
	if c.def.Type == models.CollectionFavorite {
		rec.Tags = append([]string(nil), in.Tags...)
		rec.Folder = in.Folder
	}
	return rec
}

func (c *Collection) addLocked(ctx context.Context, rec *models.Record, b *models.AssetBundle) (*models.Record, error) {
	owner, online := connectivity.Available(c.oracle)
	if online && c.hasPendingOfType(models.OperationClear) {
		c.flushLocked(ctx, owner)
		if c.hasPendingOfType(models.OperationClear) {
			// A queued Clear must not overtake this record.
			online = false
		}
	}

	if !online {
		c.queueAdd(ctx, rec, b)
		c.insert(ctx, rec, b)
		logging.Info("record added offline", c.logFields(map[string]interface{}{"record_id": rec.ID}))
		return rec.Clone(), nil
	}

	refs, failures, err := c.uploadAssets(ctx, owner, rec.ID, models.AssetRefs{}, b)
	if err != nil {
		logging.Error("main asset upload failed", err, c.logFields(map[string]interface{}{"record_id": rec.ID}))
		return nil, apperrors.Wrap(apperrors.ErrMainAssetUpload, "main asset upload failed", err)
	}
	rec.AssetRefs = refs
	rec.UploadFailures = failures
	rec.OwnerID = owner
	rec.SyncStatus = models.SyncStatusSynced

	if err := c.remote.PersistRecord(ctx, owner, rec); err != nil {
		logging.Warn("record persist failed, queued for replay", c.logFields(map[string]interface{}{
			"record_id": rec.ID,
			"error":     err.Error(),
		}))
		rec.SyncStatus = models.SyncStatusFailed
		c.queueAdd(ctx, rec, b)
	}

	c.insert(ctx, rec, b)
	if len(failures) > 0 {
		logging.Warn("auxiliary asset uploads failed", c.logFields(map[string]interface{}{
			"record_id": rec.ID,
			"failures":  len(failures),
		}))
	}
	return rec.Clone(), nil
}

// queueAdd enqueues an Add. When enqueueing fails the bundle is kept as an
// orphan so the next flush can queue it again.
func (c *Collection) queueAdd(ctx context.Context, rec *models.Record, b *models.AssetBundle) {
	payload, _ := json.Marshal(models.AddPayload{Record: rec, Bundle: b})
	op := &models.QueueOperation{
		Type:          models.OperationAdd,
		CollectionKey: c.def.ID,
		RecordID:      rec.ID,
		Payload:       payload,
	}
	if err := c.queue.Enqueue(ctx, op); err != nil {
		logging.Error("failed to enqueue add", err, c.logFields(map[string]interface{}{"record_id": rec.ID}))
		c.orphans[rec.ID] = b.Clone()
		return
	}
	delete(c.orphans, rec.ID)
}

// enqueue queues a Delete, Update or Clear. The error is returned so the
// caller can leave local state untouched.
func (c *Collection) enqueue(ctx context.Context, typ models.OperationType, recordID string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	op := &models.QueueOperation{
		Type:          typ,
		CollectionKey: c.def.ID,
		RecordID:      recordID,
		Payload:       raw,
	}
	if err := c.queue.Enqueue(ctx, op); err != nil {
		logging.Error("failed to enqueue operation", err, c.logFields(map[string]interface{}{
			"type":      string(typ),
			"record_id": recordID,
		}))
		return err
	}
	return nil
}

// uploadAssets uploads every bundle slot not already present in refs.
// A main-image failure is returned; auxiliary failures are collected.
func (c *Collection) uploadAssets(ctx context.Context, owner, id string, refs models.AssetRefs, b *models.AssetBundle) (models.AssetRefs, []models.AssetFailure, error) {
	out := models.AssetRefs{
		Main:      refs.Main,
		Thumbnail: refs.Thumbnail,
		Variants:  append([]string(nil), refs.Variants...),
	}
	if b == nil {
		b = &models.AssetBundle{}
	}

	if out.Main == "" {
		if b.Main == "" {
			return out, nil, apperrors.New(apperrors.ErrInvalid, "no main image to upload")
		}
		p, err := c.uploadSlot(ctx, owner, id, remote.SlotMain, b.Main)
		if err != nil {
			return out, nil, err
		}
		out.Main = p
	}

	var failures []models.AssetFailure
	if b.Thumbnail != "" && out.Thumbnail == "" {
		p, err := c.uploadSlot(ctx, owner, id, remote.SlotThumbnail, b.Thumbnail)
		if err != nil {
			failures = append(failures, auxFailure(remote.SlotThumbnail, err))
		} else {
			out.Thumbnail = p
		}
	}

	for len(out.Variants) < len(b.Variants) {
		out.Variants = append(out.Variants, "")
	}
	for i, v := range b.Variants {
		if v == "" || out.Variants[i] != "" {
			continue
		}
		slot := remote.VariantSlot(i)
		p, err := c.uploadSlot(ctx, owner, id, slot, v)
		if err != nil {
			failures = append(failures, auxFailure(slot, err))
			continue
		}
		out.Variants[i] = p
	}
	return out, failures, nil
}

func auxFailure(slot string, err error) models.AssetFailure {
	return models.AssetFailure{
		Asset: slot,
		Code:  string(apperrors.ErrAuxiliaryAssetUpload),
		Error: apperrors.Wrap(apperrors.ErrAuxiliaryAssetUpload, slot+" upload failed", err).Error(),
	}
}

func (c *Collection) uploadSlot(ctx context.Context, owner, id, slot, dataURL string) (string, error) {
	blob, err := assets.DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	p := remote.BlobPath(owner, c.def.RemoteKey, id, slot, blob.Extension())
	if err := c.remote.UploadBlob(ctx, owner, p, blob.Data, blob.ContentType); err != nil {
		return "", err
	}
	return p, nil
}

// insert places rec in the list, mirrors it into the cache, and evicts.
func (c *Collection) insert(ctx context.Context, rec *models.Record, b *models.AssetBundle) {
	c.items = append(c.items, rec)
	slices.SortStableFunc(c.items, newestFirst)
	c.writeRecord(ctx, rec)
	if b != nil {
		c.writeImages(ctx, rec, b)
	}
	c.evict(ctx)
}

// evict drops the oldest records beyond MaxSize from memory and cache.
// The remote store is left alone.
func (c *Collection) evict(ctx context.Context) {
	if c.def.MaxSize <= 0 {
		return
	}
	for len(c.items) > c.def.MaxSize {
		oldest := c.items[len(c.items)-1]
		c.items = c.items[:len(c.items)-1]
		c.dropCache(ctx, oldest.ID)
		logging.Debug("record evicted", c.logFields(map[string]interface{}{"record_id": oldest.ID}))
	}
}

func newestFirst(a, b *models.Record) int {
	switch {
	case a.CreatedAt > b.CreatedAt:
		return -1
	case a.CreatedAt < b.CreatedAt:
		return 1
	default:
		return strings.Compare(b.ID, a.ID)
	}
}

func (c *Collection) metaFor(rec *models.Record) models.CacheMeta {
	meta := models.CacheMeta{
		SyncStatus: rec.SyncStatus,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.SyncStatus == models.SyncStatusSynced {
		meta.SyncedAt = c.now().UnixMilli()
	}
	return meta
}

func (c *Collection) writeRecord(ctx context.Context, rec *models.Record) {
	payload, err := json.Marshal(rec)
	if err == nil {
		err = c.cache.Set(ctx, cache.RecordKey(c.def.ID, rec.ID), payload, c.metaFor(rec))
	}
	if err != nil {
		logging.Warn("cache write failed", c.logFields(map[string]interface{}{
			"record_id": rec.ID,
			"error":     err.Error(),
		}))
	}
}

func (c *Collection) writeImages(ctx context.Context, rec *models.Record, b *models.AssetBundle) {
	payload, err := json.Marshal(b)
	if err == nil {
		err = c.cache.Set(ctx, cache.ImagesKey(c.def.ID, rec.ID), payload, c.metaFor(rec))
	}
	if err != nil {
		logging.Warn("image cache write failed", c.logFields(map[string]interface{}{
			"record_id": rec.ID,
			"error":     err.Error(),
		}))
	}
}

func (c *Collection) dropCache(ctx context.Context, id string) {
	for _, key := range []string{cache.RecordKey(c.def.ID, id), cache.ImagesKey(c.def.ID, id)} {
		if err := c.cache.Delete(ctx, key); err != nil {
			logging.Warn("cache delete failed", c.logFields(map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			}))
		}
	}
}

func (c *Collection) setStatus(ctx context.Context, rec *models.Record, status models.SyncStatus) {
	rec.SyncStatus = status
	for _, key := range []string{cache.RecordKey(c.def.ID, rec.ID), cache.ImagesKey(c.def.ID, rec.ID)} {
		var err error
		if status == models.SyncStatusSynced {
			err = c.cache.MarkSynced(ctx, key)
		} else {
			err = c.cache.UpdateMeta(ctx, key, models.MetaPatch{SyncStatus: &status})
		}
		if err != nil {
			logging.Warn("cache metadata update failed", c.logFields(map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			}))
		}
	}
}

func (c *Collection) indexOf(id string) int {
	for i, r := range c.items {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) find(id string) *models.Record {
	if i := c.indexOf(id); i >= 0 {
		return c.items[i]
	}
	return nil
}

func (c *Collection) hasPendingFor(id string) bool {
	for _, op := range c.queue.Pending(c.def.ID) {
		if op.RecordID == id || op.Type == models.OperationClear {
			return true
		}
	}
	return false
}

func (c *Collection) hasPendingOfType(t models.OperationType) bool {
	for _, op := range c.queue.Pending(c.def.ID) {
		if op.Type == t {
			return true
		}
	}
	return false
}

// Get returns a copy of the record with id, or NOT_FOUND.
func (c *Collection) Get(ctx context.Context, id string) (*models.Record, error) {
	rec, err := c.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	return rec, nil
}

// FindByID returns a copy of the record with id, or nil when absent.
func (c *Collection) FindByID(ctx context.Context, id string) (*models.Record, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.find(id).Clone(), nil
}

// GetImages returns the asset bundle of id. Cached images are served first;
// otherwise, when online, the blobs are downloaded and cached. Returns nil
// when the record is unknown, its images are unavailable offline, or the main
// image cannot be downloaded.
func (c *Collection) GetImages(ctx context.Context, id string) (*models.AssetBundle, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	entry, err := c.cache.Get(ctx, cache.ImagesKey(c.def.ID, id))
	if err != nil {
		logging.Warn("image cache read failed", c.logFields(map[string]interface{}{"record_id": id, "error": err.Error()}))
	}
	if entry != nil {
		var b models.AssetBundle
		if err := json.Unmarshal(entry.Payload, &b); err == nil {
			return &b, nil
		}
	}

	c.mu.Lock()
	rec := c.find(id).Clone()
	c.mu.Unlock()
	if rec == nil || rec.AssetRefs.Main == "" {
		return nil, nil
	}

	owner, online := connectivity.Available(c.oracle)
	if !online {
		return nil, nil
	}

	b, complete, err := c.download(ctx, owner, rec.AssetRefs)
	if err != nil {
		logging.Warn("image download failed", c.logFields(map[string]interface{}{"record_id": id, "error": err.Error()}))
		return nil, nil
	}

	// A partial bundle is served but not cached so the next read retries.
	if complete {
		c.mu.Lock()
		if current := c.find(id); current != nil {
			c.writeImages(ctx, current, b)
		}
		c.mu.Unlock()
	}
	return b, nil
}

// download fetches every referenced slot. complete is false when a
// thumbnail or variant could not be fetched.
func (c *Collection) download(ctx context.Context, owner string, refs models.AssetRefs) (b *models.AssetBundle, complete bool, err error) {
	fetch := func(p string) (string, error) {
		data, err := c.remote.DownloadBlob(ctx, owner, p)
		if err != nil {
			return "", err
		}
		return assets.EncodeDataURL(data, ""), nil
	}

	main, err := fetch(refs.Main)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "failed to download main image", err)
	}
	b = &models.AssetBundle{Main: main}
	complete = true

	if refs.Thumbnail != "" {
		if t, err := fetch(refs.Thumbnail); err == nil {
			b.Thumbnail = t
		} else {
			complete = false
		}
	}
	for _, p := range refs.Variants {
		v := ""
		if p != "" {
			if v, err = fetch(p); err != nil {
				complete = false
			}
		}
		b.Variants = append(b.Variants, v)
	}
	return b, complete, nil
}

// Remove deletes the record with id. Online, the remote row and blobs are
// deleted first; a remote failure queues a Delete instead. If the Delete
// cannot be queued the error is returned and the record is kept.
func (c *Collection) Remove(ctx context.Context, id string) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	rec := c.find(id)
	if rec == nil {
		c.mu.Unlock()
		return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	if err := c.removeRemoteLocked(ctx, rec); err != nil {
		c.mu.Unlock()
		return err
	}

	c.items = slices.DeleteFunc(c.items, func(r *models.Record) bool { return r.ID == id })
	c.dropCache(ctx, id)
	delete(c.orphans, id)
	removed := rec.Clone()
	c.mu.Unlock()

	logging.Info("record removed", c.logFields(map[string]interface{}{"record_id": id}))
	c.events.emit(Event{Type: EventItemRemoved, Collection: c.def.ID, Record: removed, RecordID: id})
	return nil
}

func (c *Collection) blobPaths(rec *models.Record) []string {
	paths := rec.AssetRefs.Paths()
	if refs, ok := c.replayed[rec.ID]; ok {
		for _, p := range refs.Paths() {
			if !slices.Contains(paths, p) {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

func (c *Collection) removeRemoteLocked(ctx context.Context, rec *models.Record) error {
	payload := models.DeletePayload{BlobPaths: c.blobPaths(rec)}
	if rec.SyncStatus != models.SyncStatusSynced && len(payload.BlobPaths) == 0 && !c.hasPendingFor(rec.ID) {
		// Never reached the remote store and nothing is queued for it.
		return nil
	}

	owner, online := connectivity.Available(c.oracle)
	if online && c.hasPendingFor(rec.ID) {
		c.flushLocked(ctx, owner)
		payload.BlobPaths = c.blobPaths(rec)
		online = !c.hasPendingFor(rec.ID)
	}
	if !online {
		return c.enqueue(ctx, models.OperationDelete, rec.ID, payload)
	}

	err := c.remote.DeleteRecord(ctx, owner, c.def.RemoteKey, rec.ID)
	if err == nil && len(payload.BlobPaths) > 0 {
		err = c.remote.DeleteBlobs(ctx, owner, payload.BlobPaths)
	}
	if err != nil {
		logging.Warn("remote delete failed, queued for replay", c.logFields(map[string]interface{}{
			"record_id": rec.ID,
			"error":     err.Error(),
		}))
		return c.enqueue(ctx, models.OperationDelete, rec.ID, payload)
	}
	delete(c.replayed, rec.ID)
	return nil
}

// Update applies patch to a favorite. History collections reject updates
// with UNSUPPORTED_OPERATION and nothing is queued.
func (c *Collection) Update(ctx context.Context, id string, patch models.RecordPatch) (*models.Record, error) {
	if c.def.Type == models.CollectionHistory {
		return nil, apperrors.Newf(apperrors.ErrUnsupported, "collection %s does not support updates", c.def.ID)
	}
	if patch.IsEmpty() {
		return nil, apperrors.New(apperrors.ErrInvalid, "empty update")
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	rec := c.find(id)
	if rec == nil {
		c.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}

	patch.UpdatedAt = c.now().UnixMilli()
	if patch.UpdatedAt <= rec.UpdatedAt {
		patch.UpdatedAt = rec.UpdatedAt + 1
	}
	if err := c.updateRemoteLocked(ctx, id, patch); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	// A flush inside updateRemoteLocked may have replaced the entry.
	if current := c.find(id); current != nil {
		rec = current
	}
	patch.Apply(rec)
	c.writeRecord(ctx, rec)
	out := rec.Clone()
	c.mu.Unlock()

	c.events.emit(Event{Type: EventItemUpdated, Collection: c.def.ID, Record: out.Clone(), RecordID: id})
	return out, nil
}

func (c *Collection) updateRemoteLocked(ctx context.Context, id string, patch models.RecordPatch) error {
	owner, online := connectivity.Available(c.oracle)
	if online && c.hasPendingFor(id) {
		c.flushLocked(ctx, owner)
		online = !c.hasPendingFor(id)
	}
	if rec := c.find(id); online && (rec == nil || rec.SyncStatus != models.SyncStatusSynced) {
		// The row does not exist remotely yet; the update must follow its Add.
		online = false
	}
	if !online {
		return c.enqueue(ctx, models.OperationUpdate, id, models.UpdatePayload{Patch: patch})
	}

	if err := c.remote.UpdateRecord(ctx, owner, c.def.RemoteKey, id, patch); err != nil {
		logging.Warn("remote update failed, queued for replay", c.logFields(map[string]interface{}{
			"record_id": id,
			"error":     err.Error(),
		}))
		return c.enqueue(ctx, models.OperationUpdate, id, models.UpdatePayload{Patch: patch})
	}
	return nil
}

// Clear removes every record. The remote bulk delete is queued when it cannot
// run now. If the Clear cannot be queued either, local state is kept and the
// error is returned.
func (c *Collection) Clear(ctx context.Context) error {
	c.mu.Lock()
	owner, online := connectivity.Available(c.oracle)
	if online && len(c.queue.Pending(c.def.ID)) > 0 {
		c.flushLocked(ctx, owner)
		online = len(c.queue.Pending(c.def.ID)) == 0
	}
	if online {
		if err := c.remote.DeleteCollection(ctx, owner, c.def.RemoteKey); err != nil {
			logging.Warn("remote clear failed, queued for replay", c.logFields(map[string]interface{}{"error": err.Error()}))
			online = false
		}
	}
	if !online {
		if err := c.enqueue(ctx, models.OperationClear, "", nil); err != nil {
			c.mu.Unlock()
			return err
		}
	}

	c.clearCacheLocked(ctx)
	c.items = nil
	c.loaded = true
	clear(c.orphans)
	clear(c.replayed)
	c.mu.Unlock()

	logging.Info("collection cleared", c.logFields(nil))
	c.events.emit(Event{Type: EventCleared, Collection: c.def.ID})
	return nil
}

func (c *Collection) clearCacheLocked(ctx context.Context) {
	keys, err := c.cache.Keys(ctx)
	if err != nil {
		logging.Warn("cache list failed during clear", c.logFields(map[string]interface{}{"error": err.Error()}))
		return
	}
	for _, key := range keys {
		if _, _, ok := cache.ParseKey(c.def.ID, key); !ok {
			continue
		}
		if err := c.cache.Delete(ctx, key); err != nil {
			logging.Warn("cache delete failed", c.logFields(map[string]interface{}{"key": key, "error": err.Error()}))
		}
	}
}

// GetAll returns copies of the records newest-first. limit <= 0 means all.
func (c *Collection) GetAll(ctx context.Context, limit, offset int) ([]*models.Record, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(c.items) {
		return []*models.Record{}, nil
	}
	end := len(c.items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return cloneAll(c.items[offset:end]), nil
}

// Len returns the number of records in memory.
func (c *Collection) Len(ctx context.Context) (int, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), nil
}

func (c *Collection) filter(ctx context.Context, keep func(*models.Record) bool) ([]*models.Record, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []*models.Record{}
	for _, r := range c.items {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Search returns records whose display text, tags or folder contain query.
func (c *Collection) Search(ctx context.Context, query string) ([]*models.Record, error) {
	return c.filter(ctx, func(r *models.Record) bool { return r.Matches(query) })
}

// FilterByTag returns records carrying tag.
func (c *Collection) FilterByTag(ctx context.Context, tag string) ([]*models.Record, error) {
	return c.filter(ctx, func(r *models.Record) bool { return r.HasTag(tag) })
}

// FilterByFolder returns records in folder.
func (c *Collection) FilterByFolder(ctx context.Context, folder string) ([]*models.Record, error) {
	return c.filter(ctx, func(r *models.Record) bool { return strings.EqualFold(r.Folder, folder) })
}

// AllTags returns every distinct tag, sorted.
func (c *Collection) AllTags(ctx context.Context) ([]string, error) {
	return c.distinct(ctx, func(r *models.Record) []string { return r.Tags })
}

// AllFolders returns every distinct non-empty folder, sorted.
func (c *Collection) AllFolders(ctx context.Context) ([]string, error) {
	return c.distinct(ctx, func(r *models.Record) []string { return []string{r.Folder} })
}

func (c *Collection) distinct(ctx context.Context, values func(*models.Record) []string) ([]string, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	out := []string{}
	for _, r := range c.items {
		for _, v := range values(r) {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// Stats returns a snapshot of collection state without loading it.
func (c *Collection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		ID:     c.def.ID,
		Type:   c.def.Type,
		Loaded: c.loaded,
		Items:  len(c.items),
		Queued: len(c.queue.Pending(c.def.ID)),
	}
	for _, r := range c.items {
		switch r.SyncStatus {
		case models.SyncStatusPending:
			s.Pending++
		case models.SyncStatusFailed:
			s.Failed++
		}
	}
	return s
}

func cloneAll(records []*models.Record) []*models.Record {
	out := make([]*models.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
