package collection

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/remote"
)

func TestRegistry_registerAndUnregister(t *testing.T) {
	h := newHarness(t, true)
	a := h.history()
	b := h.favorites()

	live := h.registry.Live()
	require.Len(t, live, 2)
	assert.Same(t, a, live[0])
	assert.Same(t, b, live[1])

	a.Close()
	assert.Equal(t, 1, h.registry.Len())
	a.Close()
	assert.Equal(t, 1, h.registry.Len())
}

func TestRegistry_dropsUnreachableCollections(t *testing.T) {
	h := newHarness(t, true)
	kept := h.history()

	func() {
		_, err := New(h.options(Definition{ID: "scratch", Type: models.CollectionHistory}))
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return h.registry.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Same(t, kept, h.registry.Live()[0])
}

func TestRegistry_broadcastSync(t *testing.T) {
	h := newHarness(t, false)
	hist := h.history()
	fav := h.favorites()
	h.add(hist, "h1")
	h.add(fav, "f1")
	h.add(fav, "f2")

	h.net.SetOnline(true)
	reports, err := h.registry.BroadcastSync(h.ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "history", reports[0].Collection)
	assert.Equal(t, 1, reports[0].Flush.Processed)
	assert.Equal(t, 2, reports[1].Flush.Processed)

	assert.Equal(t, 1, h.remote.RecordCount("history"))
	assert.Equal(t, 2, h.remote.RecordCount("favorites"))
	assert.Zero(t, h.queue.Size())
	assert.Zero(t, fav.Stats().Pending)
}

func TestRegistry_broadcastJoinsFailures(t *testing.T) {
	h := newHarness(t, true)
	hist := h.history()
	fav := h.favorites()
	h.add(hist, "h1")
	h.add(fav, "f1")

	h.remote.SetFault(failOn(remote.OpFetch, "history"))
	reports, err := h.registry.BroadcastSync(h.ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRemoteUnavailable))
	require.Len(t, reports, 2)
	assert.Error(t, reports[0].Err)
	assert.NoError(t, reports[1].Err)

	h.net.SetOnline(false)
	reports, err = h.registry.FlushAll(h.ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}
