package collection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/studiovault/internal/assets"
	"github.com/kimhsiao/studiovault/internal/cache"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/remote"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
)

const testOwner = "user-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

// Now advances by one second per call so records get distinct timestamps.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	cache    *cache.MemoryCache
	queue    *queue.OfflineQueue
	remote   *remote.MemoryStore
	net      *connectivity.Switch
	registry *Registry
	clock    *fakeClock
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	owner := testOwner
	return &harness{
		t:        t,
		ctx:      context.Background(),
		cache:    cache.NewMemoryCache(),
		queue:    queue.New(queue.NewMemoryStore(), 0),
		remote:   remote.NewMemoryStore(),
		net:      connectivity.NewSwitch(online, owner),
		registry: NewRegistry(),
		clock:    newFakeClock(),
	}
}

func (h *harness) options(def Definition) Options {
	return Options{
		Definition: def,
		Cache:      h.cache,
		Queue:      h.queue,
		Remote:     h.remote,
		Oracle:     h.net,
		Registry:   h.registry,
		Now:        h.clock.Now,
	}
}

func (h *harness) favorites(mods ...func(*Options)) *Collection {
	return h.open(Definition{ID: "favorites", Type: models.CollectionFavorite}, mods...)
}

func (h *harness) history(mods ...func(*Options)) *Collection {
	return h.open(Definition{ID: "history", Type: models.CollectionHistory}, mods...)
}

func (h *harness) open(def Definition, mods ...func(*Options)) *Collection {
	h.t.Helper()
	opts := h.options(def)
	for _, m := range mods {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(h.t, err)
	h.t.Cleanup(c.Close)
	return c
}

// device returns a harness sharing h's remote store and network but with
// its own cache and queue.
func (h *harness) device() *harness {
	return &harness{
		t:        h.t,
		ctx:      h.ctx,
		cache:    cache.NewMemoryCache(),
		queue:    queue.New(queue.NewMemoryStore(), 0),
		remote:   h.remote,
		net:      h.net,
		registry: NewRegistry(),
		clock:    h.clock,
	}
}

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return assets.EncodeDataURL(buf.Bytes(), "image/png")
}

func bundle(t *testing.T, variants int) models.AssetBundle {
	t.Helper()
	b := models.AssetBundle{
		Main:      pngDataURL(t, 16, 16),
		Thumbnail: pngDataURL(t, 4, 4),
	}
	for i := 0; i < variants; i++ {
		b.Variants = append(b.Variants, pngDataURL(t, 8+i, 8))
	}
	return b
}

func (h *harness) add(c *Collection, text string) *models.Record {
	h.t.Helper()
	rec, err := c.Add(h.ctx, models.RecordInput{DisplayText: text}, bundle(h.t, 1))
	require.NoError(h.t, err)
	return rec
}

// recordEvents collects every event type of c.
func recordEvents(c *Collection) func() []Event {
	var mu sync.Mutex
	var got []Event
	for _, t := range []EventType{EventItemAdded, EventItemRemoved, EventItemUpdated, EventCleared, EventSyncStart, EventSyncComplete} {
		c.On(t, func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev)
		})
	}
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}
}

func failOn(op, substr string) remote.FaultFunc {
	return func(gotOp, target string) error {
		if gotOp == op && strings.Contains(target, substr) {
			return errInjected
		}
		return nil
	}
}

var errInjected = errors.New("injected failure")
