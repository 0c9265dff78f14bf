// Package services assembles the storage, queue, remote and collections
// described by a config into one running vault.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kimhsiao/studiovault/internal/cache"
	"github.com/kimhsiao/studiovault/internal/collection"
	"github.com/kimhsiao/studiovault/internal/config"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	"github.com/kimhsiao/studiovault/internal/db"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/remote"
	"github.com/kimhsiao/studiovault/internal/remote/dirstore"
	"github.com/kimhsiao/studiovault/internal/remote/s3"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
	"github.com/kimhsiao/studiovault/internal/sync/scheduler"
)

// cacheNamespace scopes this vault's rows in the shared cache_entries table.
const cacheNamespace = "vault"

// Vault owns every long-lived component of a studiovault process.
type Vault struct {
	Config   *config.Config
	DB       *db.DB
	Cache    cache.LocalCache
	Queue    *queue.OfflineQueue
	Remote   remote.Store
	Network  *connectivity.Switch
	Registry *collection.Registry

	collections []*collection.Collection
	byID        map[string]*collection.Collection
}

// Status summarizes the vault for the CLI and the health endpoint.
type Status struct {
	Online      bool               `json:"online"`
	OwnerID     string             `json:"owner_id,omitempty"`
	Remote      string             `json:"remote"`
	Queue       queue.Stats        `json:"queue"`
	Collections []collection.Stats `json:"collections"`
}

// InitLogging configures the global logger from cfg.
func InitLogging(cfg config.LoggingConfig) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File == "" {
		logging.Init(os.Stderr, level)
		return
	}
	logging.InitFile(logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}, level)
}

// Open builds a vault from cfg. Persisted queue operations are reloaded so
// that mutations made in earlier runs are replayed on the next flush.
func Open(ctx context.Context, cfg *config.Config) (*Vault, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid config", err)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open database", err)
	}

	store, err := NewRemote(cfg)
	if err != nil {
		database.Close()
		return nil, err
	}

	q := queue.New(queue.NewSQLiteStore(database), cfg.Queue.MaxSize)
	if err := q.Load(ctx); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load offline queue", err)
	}

	v := &Vault{
		Config:   cfg,
		DB:       database,
		Cache:    cache.NewSQLiteCache(database, cacheNamespace),
		Queue:    q,
		Remote:   store,
		Network:  connectivity.NewSwitch(!cfg.Offline, cfg.OwnerID),
		Registry: collection.NewRegistry(),
		byID:     make(map[string]*collection.Collection),
	}

	for _, cc := range cfg.Collections {
		c, err := collection.New(collection.Options{
			Definition: collection.Definition{
				ID:         cc.ID,
				Type:       cc.Type,
				RemoteKey:  cc.RemoteKey,
				MaxSize:    cc.MaxSize,
				FetchLimit: cc.FetchLimit,
			},
			Cache:              v.Cache,
			Queue:              v.Queue,
			Remote:             v.Remote,
			Oracle:             v.Network,
			Registry:           v.Registry,
			GenerateThumbnails: cfg.Thumbnails.Generate,
			ThumbnailSize:      cfg.Thumbnails.Size,
		})
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("collection %q: %w", cc.ID, err)
		}
		v.collections = append(v.collections, c)
		v.byID[cc.ID] = c
	}

	logging.Debug("vault opened", map[string]interface{}{
		"data_dir":    cfg.DataDir,
		"remote":      cfg.Remote.Kind,
		"collections": len(v.collections),
		"queued":      q.Size(),
		"online":      v.Network.IsOnline(),
	})
	return v, nil
}

// NewRemote builds the remote store selected by cfg.Remote.Kind.
func NewRemote(cfg *config.Config) (remote.Store, error) {
	rc := cfg.Remote
	var objects remote.ObjectStore
	var err error

	switch rc.Kind {
	case config.RemoteMemory:
		return remote.NewMemoryStore(), nil
	case config.RemoteDir:
		objects, err = dirstore.New(cfg.RemoteDir())
	case config.RemoteS3:
		objects, err = s3.NewClient(&s3.Config{
			Endpoint:       rc.Endpoint,
			BucketName:     rc.Bucket,
			AccessKey:      rc.AccessKey,
			SecretKey:      rc.SecretKey,
			Region:         rc.Region,
			ForcePathStyle: rc.ForcePathStyle,
			Timeout:        rc.Timeout,
		})
	case config.RemoteMinIO:
		objects, err = s3.NewMinIOClient(&s3.MinIOConfig{
			Endpoint:   rc.Endpoint,
			BucketName: rc.Bucket,
			AccessKey:  rc.AccessKey,
			SecretKey:  rc.SecretKey,
			UseSSL:     rc.UseSSL,
		})
	case config.RemoteR2:
		objects, err = s3.NewR2Client(&s3.R2Config{
			AccountID:  rc.AccountID,
			BucketName: rc.Bucket,
			AccessKey:  rc.AccessKey,
			SecretKey:  rc.SecretKey,
		})
	case config.RemoteAWS:
		objects, err = s3.NewAWSClient(&s3.AWSConfig{
			BucketName: rc.Bucket,
			AccessKey:  rc.AccessKey,
			SecretKey:  rc.SecretKey,
			Region:     rc.Region,
		})
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown remote kind %q", rc.Kind)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to create "+rc.Kind+" remote", err)
	}
	return remote.NewObjectBackedStore(objects), nil
}

// Collection returns the collection with id.
func (v *Vault) Collection(id string) (*collection.Collection, error) {
	c, ok := v.byID[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "collection %q is not configured", id)
	}
	return c, nil
}

// Collections returns the collections in configuration order.
func (v *Vault) Collections() []*collection.Collection {
	return append([]*collection.Collection(nil), v.collections...)
}

// Scheduler returns a scheduler driving this vault's registry.
func (v *Vault) Scheduler() *scheduler.Scheduler {
	sc := v.Config.Scheduler
	return scheduler.New(v.Registry, v.Network, &scheduler.Config{
		SyncInterval:    sc.SyncInterval,
		QueueInterval:   sc.QueueInterval,
		SyncTimeout:     sc.SyncTimeout,
		SyncOnReconnect: sc.SyncOnReconnect,
	})
}

// Status reports connectivity, queue depth and per-collection counts.
func (v *Vault) Status() Status {
	st := Status{
		Online:  v.Network.IsOnline(),
		OwnerID: v.Network.CurrentOwnerID(),
		Remote:  v.Config.Remote.Kind,
		Queue:   v.Queue.Stats(),
	}
	for _, c := range v.collections {
		st.Collections = append(st.Collections, c.Stats())
	}
	return st
}

// Shutdown flushes queued operations when online, bounded by timeout, then
// closes the vault. Operations that cannot be flushed stay persisted.
func (v *Vault) Shutdown(ctx context.Context, timeout time.Duration) error {
	var flushErr error
	if _, ok := connectivity.Available(v.Network); ok && v.Queue.Size() > 0 {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		_, flushErr = v.Registry.FlushAll(fctx)
		cancel()
		if flushErr != nil {
			logging.Warn("shutdown flush incomplete", map[string]interface{}{
				"error":  flushErr.Error(),
				"queued": v.Queue.Size(),
			})
		}
	}
	return errors.Join(flushErr, v.Close())
}

// Close unregisters every collection and closes the database.
func (v *Vault) Close() error {
	for _, c := range v.collections {
		c.Close()
	}
	v.collections = nil
	v.byID = map[string]*collection.Collection{}
	if v.DB == nil {
		return nil
	}
	err := v.DB.Close()
	v.DB = nil
	return err
}
