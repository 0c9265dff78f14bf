// Package scheduler tests for background sync scheduling.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/studiovault/internal/collection"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
)

type fakeSyncer struct {
	broadcasts atomic.Int32
	flushes    atomic.Int32
	block      chan struct{}
	err        error
}

func (f *fakeSyncer) BroadcastSync(ctx context.Context) ([]collection.SyncReport, error) {
	f.broadcasts.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []collection.SyncReport{{Collection: "history", Flush: queue.FlushResult{Processed: 1}}}, f.err
}

func (f *fakeSyncer) FlushAll(context.Context) ([]collection.SyncReport, error) {
	f.flushes.Add(1)
	return nil, nil
}

func fastConfig() *Config {
	return &Config{
		SyncInterval:    20 * time.Millisecond,
		QueueInterval:   20 * time.Millisecond,
		SyncTimeout:     time.Second,
		SyncOnReconnect: true,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestDefaultConfig verifies default configuration.
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", config.SyncInterval)
	}
	if config.QueueInterval != time.Minute {
		t.Errorf("QueueInterval = %v, want 1m", config.QueueInterval)
	}
	if !config.SyncOnReconnect {
		t.Error("SyncOnReconnect should default to true")
	}
}

// TestNew_fillsZeroIntervals verifies zero values fall back to defaults.
func TestNew_fillsZeroIntervals(t *testing.T) {
	s := New(&fakeSyncer{}, connectivity.NewSwitch(true, "u1"), &Config{})

	if s.syncInterval != 15*time.Minute || s.queueInterval != time.Minute || s.syncTimeout != 5*time.Minute {
		t.Errorf("intervals = %v %v %v", s.syncInterval, s.queueInterval, s.syncTimeout)
	}
	if s.IsRunning() {
		t.Error("new scheduler should not be running")
	}
}

// TestStartStop verifies lifecycle and idempotence.
func TestStartStop(t *testing.T) {
	s := New(&fakeSyncer{}, connectivity.NewSwitch(true, "u1"), fastConfig())

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("scheduler should be running")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

// TestRestartAfterStop verifies a stopped scheduler runs its loops again.
func TestRestartAfterStop(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, connectivity.NewSwitch(true, "u1"), fastConfig())

	s.Start(context.Background())
	waitFor(t, func() bool { return syncer.broadcasts.Load() >= 1 })
	s.Stop()

	before := syncer.broadcasts.Load()
	s.Start(context.Background())
	defer s.Stop()
	if !s.IsRunning() {
		t.Fatal("scheduler should be running after restart")
	}
	waitFor(t, func() bool { return syncer.broadcasts.Load() >= before+2 })
}

// TestPeriodicLoops verifies both loops fire while online.
func TestPeriodicLoops(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, connectivity.NewSwitch(true, "u1"), fastConfig())

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return syncer.broadcasts.Load() >= 2 && syncer.flushes.Load() >= 1 })

	status := s.GetStatus()
	if status.LastSyncTime == nil || status.SyncCount < 1 || !status.IsOnline {
		t.Errorf("status = %+v", status)
	}
}

// TestPeriodicLoops_offline verifies nothing runs while offline.
func TestPeriodicLoops_offline(t *testing.T) {
	syncer := &fakeSyncer{}
	cfg := fastConfig()
	cfg.SyncOnReconnect = false
	s := New(syncer, connectivity.NewSwitch(false, "u1"), cfg)

	s.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	if n := syncer.broadcasts.Load() + syncer.flushes.Load(); n != 0 {
		t.Errorf("offline scheduler ran %d operations", n)
	}
}

// TestReconnectTriggersSync verifies an offline to online change broadcasts once.
func TestReconnectTriggersSync(t *testing.T) {
	syncer := &fakeSyncer{}
	cfg := fastConfig()
	cfg.SyncInterval = time.Hour
	cfg.QueueInterval = time.Hour
	net := connectivity.NewSwitch(false, "u1")
	s := New(syncer, net, cfg)

	s.Start(context.Background())
	defer s.Stop()

	net.SetOnline(true)
	waitFor(t, func() bool { return syncer.broadcasts.Load() == 1 })

	// Owner changes while online are not reconnects.
	net.SetOwner("u2")
	time.Sleep(30 * time.Millisecond)
	if n := syncer.broadcasts.Load(); n != 1 {
		t.Errorf("broadcasts = %d, want 1", n)
	}
}

// TestTriggerSync_skipsWhileRunning verifies overlapping triggers are dropped.
func TestTriggerSync_skipsWhileRunning(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{})}
	s := New(syncer, connectivity.NewSwitch(true, "u1"), fastConfig())

	if !s.TriggerSync(context.Background()) {
		t.Fatal("first trigger should start")
	}
	if s.TriggerSync(context.Background()) {
		t.Error("second trigger should be skipped")
	}
	if !s.GetStatus().SyncInProgress {
		t.Error("status should report sync in progress")
	}

	close(syncer.block)
	waitFor(t, func() bool { return !s.GetStatus().SyncInProgress })
}

// TestSyncNow verifies the synchronous path records errors.
func TestSyncNow(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("remote down")}
	s := New(syncer, connectivity.NewSwitch(true, "u1"), fastConfig())

	if err := s.SyncNow(context.Background()); err == nil {
		t.Fatal("SyncNow() should return the broadcast error")
	}
	status := s.GetStatus()
	if status.LastSyncError != "remote down" || status.SyncInProgress {
		t.Errorf("status = %+v", status)
	}
}

// TestSyncNow_concurrent verifies concurrent callers serialize.
func TestSyncNow_concurrent(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, connectivity.NewSwitch(true, "u1"), fastConfig())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SyncNow(context.Background()); err != nil {
				t.Errorf("SyncNow() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := syncer.broadcasts.Load(); n != 5 {
		t.Errorf("broadcasts = %d, want 5", n)
	}
}
