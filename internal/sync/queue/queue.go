// Package queue provides the durable offline queue of deferred mutations.
//
// Operations are kept in enqueue order and drained per collection key: a
// flush of one collection never touches another collection's operations,
// and a failing operation halts only its own collection's drain.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/uuid"
)

// ApplyFunc replays one operation against the remote store.
type ApplyFunc func(ctx context.Context, op *models.QueueOperation) error

// FlushResult summarizes one drain of a collection.
type FlushResult struct {
	Processed int
	Failed    int
	Remaining int
	// Err is the error of the operation that halted the drain.
	Err error
}

// Stats describes queue contents.
type Stats struct {
	Total        int
	Retrying     int
	ByCollection map[string]int
	ByType       map[models.OperationType]int
}

// OfflineQueue is a FIFO of deferred mutations shared by all collections.
type OfflineQueue struct {
	store   Store
	maxSize int

	mu    sync.RWMutex
	items []*models.QueueOperation

	drainMu sync.Mutex
	drains  map[string]*sync.Mutex

	now func() time.Time
}

// New creates an OfflineQueue over store. maxSize 0 means unbounded.
// Call Load to rehydrate operations persisted by a previous run.
func New(store Store, maxSize int) *OfflineQueue {
	return &OfflineQueue{
		store:   store,
		maxSize: maxSize,
		drains:  make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Load replaces the in-memory mirror with the store contents.
func (q *OfflineQueue) Load(ctx context.Context) error {
	ops, err := q.store.List(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to load offline queue", err)
	}

	q.mu.Lock()
	q.items = ops
	q.mu.Unlock()

	if len(ops) > 0 {
		logging.Info("offline queue loaded", map[string]interface{}{"operations": len(ops)})
	}
	return nil
}

// Enqueue appends op durably. ID and EnqueuedAt are filled in when empty.
func (q *OfflineQueue) Enqueue(ctx context.Context, op *models.QueueOperation) error {
	if op.CollectionKey == "" {
		return apperrors.New(apperrors.ErrInvalid, "queue operation has no collection key")
	}
	if op.ID == "" {
		op.ID = uuid.New()
	}
	if op.EnqueuedAt == 0 {
		op.EnqueuedAt = q.now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return apperrors.Newf(apperrors.ErrQueueFull, "offline queue is full (max size: %d)", q.maxSize)
	}

	stored := cloneOp(op)
	if err := q.store.Append(ctx, stored); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist queue operation", err)
	}
	q.items = append(q.items, stored)

	logging.Debug("operation enqueued", map[string]interface{}{
		"op_id":      op.ID,
		"type":       string(op.Type),
		"collection": op.CollectionKey,
		"record_id":  op.RecordID,
	})
	return nil
}

// Flush drains collectionKey's operations in enqueue order.
// Each successful operation is removed before the next is applied. The
// first failure increments that operation's Attempts, records LastError and
// stops the drain; the operation stays at the head of its collection.
// The returned error reports storage or context failures only.
func (q *OfflineQueue) Flush(ctx context.Context, collectionKey string, apply ApplyFunc) (FlushResult, error) {
	drain := q.drainLock(collectionKey)
	drain.Lock()
	defer drain.Unlock()

	ops := q.Pending(collectionKey)
	var res FlushResult

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(ops) - i
			return res, err
		}

		if err := apply(ctx, op); err != nil {
			res.Failed = 1
			res.Remaining = len(ops) - i
			res.Err = err
			if serr := q.markFailed(ctx, op.ID, err); serr != nil {
				return res, serr
			}
			logging.Warn("queue drain halted", map[string]interface{}{
				"collection": collectionKey,
				"op_id":      op.ID,
				"type":       string(op.Type),
				"attempts":   op.Attempts + 1,
				"error":      err.Error(),
			})
			return res, nil
		}

		if err := q.remove(ctx, op.ID); err != nil {
			res.Remaining = len(ops) - i
			return res, err
		}
		res.Processed++
	}

	if res.Processed > 0 {
		logging.Info("queue drained", map[string]interface{}{
			"collection": collectionKey,
			"processed":  res.Processed,
		})
	}
	return res, nil
}

func (q *OfflineQueue) drainLock(collectionKey string) *sync.Mutex {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	m, ok := q.drains[collectionKey]
	if !ok {
		m = &sync.Mutex{}
		q.drains[collectionKey] = m
	}
	return m
}

func (q *OfflineQueue) remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Remove(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove queue operation", err)
	}
	for i, op := range q.items {
		if op.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return nil
}

func (q *OfflineQueue) markFailed(ctx context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.items {
		if op.ID != id {
			continue
		}
		op.Attempts++
		op.LastError = cause.Error()
		if err := q.store.Update(ctx, op); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to record queue failure", err)
		}
		return nil
	}
	// Cleared while the operation was being applied.
	return nil
}

// Pending returns copies of collectionKey's operations in enqueue order.
func (q *OfflineQueue) Pending(collectionKey string) []*models.QueueOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ops []*models.QueueOperation
	for _, op := range q.items {
		if op.CollectionKey == collectionKey {
			ops = append(ops, cloneOp(op))
		}
	}
	return ops
}

// All returns copies of every operation in enqueue order.
func (q *OfflineQueue) All() []*models.QueueOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ops := make([]*models.QueueOperation, 0, len(q.items))
	for _, op := range q.items {
		ops = append(ops, cloneOp(op))
	}
	return ops
}

// Size returns the number of queued operations.
func (q *OfflineQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Stats returns queue statistics.
func (q *OfflineQueue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{
		ByCollection: make(map[string]int),
		ByType:       make(map[models.OperationType]int),
	}
	for _, op := range q.items {
		stats.Total++
		stats.ByCollection[op.CollectionKey]++
		stats.ByType[op.Type]++
		if op.Attempts > 0 {
			stats.Retrying++
		}
	}
	return stats
}

// Clear removes every operation.
func (q *OfflineQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Clear(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear offline queue", err)
	}
	q.items = nil
	logging.Info("offline queue cleared")
	return nil
}

func cloneOp(op *models.QueueOperation) *models.QueueOperation {
	c := *op
	c.Payload = append([]byte(nil), op.Payload...)
	return &c
}

// String implements fmt.Stringer for log output.
func (r FlushResult) String() string {
	return fmt.Sprintf("processed=%d failed=%d remaining=%d", r.Processed, r.Failed, r.Remaining)
}
