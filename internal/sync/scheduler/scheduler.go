// Package scheduler runs background sync: a periodic broadcast sync while
// online, a periodic queue flush, and an immediate broadcast whenever
// connectivity comes back.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/studiovault/internal/collection"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	"github.com/kimhsiao/studiovault/internal/logging"
)

// Syncer is the broadcast surface of a collection registry.
type Syncer interface {
	BroadcastSync(ctx context.Context) ([]collection.SyncReport, error)
	FlushAll(ctx context.Context) ([]collection.SyncReport, error)
}

// Network reports connectivity and notifies on changes.
type Network interface {
	connectivity.Oracle
	OnChange(l connectivity.Listener) func()
}

// Scheduler manages background sync operations.
type Scheduler struct {
	syncer        Syncer
	network       Network
	syncInterval  time.Duration
	queueInterval time.Duration
	syncTimeout   time.Duration
	reconnect     bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	// runCtx is the Start context; reconnect-triggered syncs run under it.
	runCtx   context.Context
	unwatch  func()
	syncLock sync.Mutex

	mu              sync.RWMutex
	isRunning       bool
	lastSyncTime    time.Time
	lastSyncErr     error
	syncInProgress  bool
	queueInProgress bool
	syncCount       int
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval  time.Duration // how often to broadcast sync while online
	QueueInterval time.Duration // how often to flush queued operations
	SyncTimeout   time.Duration // bound on one broadcast
	// SyncOnReconnect triggers a broadcast on an offline to online transition.
	SyncOnReconnect bool
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    15 * time.Minute,
		QueueInterval:   1 * time.Minute,
		SyncTimeout:     5 * time.Minute,
		SyncOnReconnect: true,
	}
}

// New creates a Scheduler. A nil config uses DefaultConfig.
func New(syncer Syncer, network Network, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.QueueInterval <= 0 {
		config.QueueInterval = defaults.QueueInterval
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaults.SyncTimeout
	}

	return &Scheduler{
		syncer:        syncer,
		network:       network,
		syncInterval:  config.SyncInterval,
		queueInterval: config.QueueInterval,
		syncTimeout:   config.SyncTimeout,
		reconnect:     config.SyncOnReconnect,
		runCtx:        context.Background(),
	}
}

// Start starts the background loops. Calling Start twice is a no-op; a
// stopped scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.runCtx = ctx
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	if s.reconnect {
		s.unwatch = s.network.OnChange(s.onNetworkChange)
	}

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx, stop)
	go s.queueLoop(ctx, stop)

	logging.Info("background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"queue_interval": s.queueInterval.String(),
	})
}

// Stop stops the loops and waits for running syncs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop := s.stopCh
	s.mu.Unlock()

	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	close(stop)
	s.wg.Wait()

	logging.Info("background sync scheduler stopped", nil)
}

func (s *Scheduler) onNetworkChange(prev, next connectivity.State) {
	if prev.Available() || !next.Available() {
		return
	}
	logging.Info("connectivity restored, syncing", map[string]interface{}{"owner_id": next.OwnerID})

	s.mu.RLock()
	running := s.isRunning
	ctx := s.runCtx
	s.mu.RUnlock()
	if !running {
		return
	}
	s.TriggerSync(ctx)
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, ok := connectivity.Available(s.network); !ok {
				continue
			}
			if !s.TriggerSync(ctx) {
				logging.Debug("sync already in progress, skipping", nil)
			}
		}
	}
}

func (s *Scheduler) queueLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *Scheduler) flush(ctx context.Context) {
	if _, ok := connectivity.Available(s.network); !ok {
		return
	}

	s.mu.Lock()
	if s.queueInProgress || s.syncInProgress {
		s.mu.Unlock()
		return
	}
	s.queueInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.queueInProgress = false
		s.mu.Unlock()
	}()

	reports, err := s.syncer.FlushAll(ctx)
	processed := 0
	for _, r := range reports {
		processed += r.Flush.Processed
	}
	if err != nil {
		logging.Warn("queue flush finished with errors", map[string]interface{}{"error": err.Error()})
	}
	if processed > 0 {
		logging.Info("queue flush completed", map[string]interface{}{"processed": processed})
	}
}

// TriggerSync starts a broadcast in the background. It returns false when
// one is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return false
	}
	s.syncInProgress = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.run(ctx)
	}()
	return true
}

// SyncNow runs a broadcast and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()
	return s.run(ctx)
}

// run executes one broadcast. syncInProgress is set by the caller.
func (s *Scheduler) run(ctx context.Context) error {
	s.syncLock.Lock()
	defer s.syncLock.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	start := time.Now()
	reports, err := s.syncer.BroadcastSync(syncCtx)

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastSyncErr = err
	s.syncCount++
	s.mu.Unlock()

	processed := 0
	for _, r := range reports {
		processed += r.Flush.Processed
	}
	fields := map[string]interface{}{
		"collections": len(reports),
		"replayed":    processed,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		logging.Error("broadcast sync failed", err, fields)
		return err
	}
	logging.Info("broadcast sync completed", fields)
	return nil
}

// Status is a snapshot of scheduler state.
type Status struct {
	IsRunning       bool
	IsOnline        bool
	LastSyncTime    *time.Time
	LastSyncError   string
	SyncInProgress  bool
	QueueInProgress bool
	SyncCount       int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, online := connectivity.Available(s.network)
	status := Status{
		IsRunning:       s.isRunning,
		IsOnline:        online,
		SyncInProgress:  s.syncInProgress,
		QueueInProgress: s.queueInProgress,
		SyncCount:       s.syncCount,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastSyncErr != nil {
		status.LastSyncError = s.lastSyncErr.Error()
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
