package collection

import (
	"context"
	"errors"
	"sync"
	"weak"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
)

// Registry tracks live collections for broadcast sync. It holds weak
// references, so a collection dropped by its owner disappears on its own.
type Registry struct {
	mu      sync.Mutex
	entries map[int]weak.Pointer[Collection]
	nextID  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]weak.Pointer[Collection])}
}

// Register adds c and returns a function that removes it.
func (r *Registry) Register(c *Collection) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.entries[id] = weak.Make(c)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.entries, id)
	}
}

// Live returns the collections that are still reachable, in registration order.
func (r *Registry) Live() []*Collection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Collection, 0, len(r.entries))
	for id := 0; id < r.nextID; id++ {
		wp, ok := r.entries[id]
		if !ok {
			continue
		}
		c := wp.Value()
		if c == nil {
			delete(r.entries, id)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Len returns the number of live collections.
func (r *Registry) Len() int {
	return len(r.Live())
}

// SyncReport is the outcome of one collection in a broadcast.
type SyncReport struct {
	Collection string
	Flush      queue.FlushResult
	Err        error
}

// BroadcastSync flushes the queue and then syncs every live collection
// concurrently. Every collection runs even when another fails; the
// failures are joined into the returned error.
func (r *Registry) BroadcastSync(ctx context.Context) ([]SyncReport, error) {
	return r.each(ctx, func(ctx context.Context, c *Collection) SyncReport {
		rep := SyncReport{Collection: c.ID()}
		rep.Flush, rep.Err = c.FlushOfflineQueue(ctx)
		if rep.Err != nil {
			return rep
		}
		rep.Err = c.SyncFromCloud(ctx)
		return rep
	})
}

// FlushAll flushes the queue of every live collection concurrently.
func (r *Registry) FlushAll(ctx context.Context) ([]SyncReport, error) {
	return r.each(ctx, func(ctx context.Context, c *Collection) SyncReport {
		rep := SyncReport{Collection: c.ID()}
		rep.Flush, rep.Err = c.FlushOfflineQueue(ctx)
		return rep
	})
}

func (r *Registry) each(ctx context.Context, fn func(context.Context, *Collection) SyncReport) ([]SyncReport, error) {
	live := r.Live()
	reports := make([]SyncReport, len(live))

	var g errgroup.Group
	for i, c := range live {
		g.Go(func() error {
			reports[i] = fn(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, rep := range reports {
		if rep.Err != nil {
			logging.Warn("collection sync failed", map[string]interface{}{
				"collection": rep.Collection,
				"error":      rep.Err.Error(),
			})
			errs = append(errs, rep.Err)
		}
	}
	return reports, errors.Join(errs...)
}
