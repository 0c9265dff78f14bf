package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/kimhsiao/studiovault/internal/db"
	"github.com/kimhsiao/studiovault/internal/models"
)

// Store persists queue operations in enqueue order.
type Store interface {
	Append(ctx context.Context, op *models.QueueOperation) error
	// Update persists Attempts and LastError of op.
	Update(ctx context.Context, op *models.QueueOperation) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.QueueOperation, error)
	Clear(ctx context.Context) error
}

// SQLiteStore keeps operations in the offline_queue table.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a store over an opened database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

// Append inserts op after every existing operation.
func (s *SQLiteStore) Append(ctx context.Context, op *models.QueueOperation) error {
	query := `INSERT INTO offline_queue (id, type, collection_key, record_id, payload, enqueued_at, attempts, last_error)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, op.ID, string(op.Type), op.CollectionKey, op.RecordID,
		[]byte(op.Payload), op.EnqueuedAt, op.Attempts, op.LastError)
	return err
}

// Update persists the retry bookkeeping of op.
func (s *SQLiteStore) Update(ctx context.Context, op *models.QueueOperation) error {
	_, err := s.db.ExecContext(ctx, `UPDATE offline_queue SET attempts = ?, last_error = ? WHERE id = ?`,
		op.Attempts, op.LastError, op.ID)
	return err
}

// Remove deletes the operation with id.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE id = ?`, id)
	return err
}

// List returns every operation in enqueue order.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.QueueOperation, error) {
	query := `SELECT id, type, collection_key, record_id, payload, enqueued_at, attempts, last_error
			  FROM offline_queue ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list offline queue: %w", err)
	}
	defer rows.Close()

	var ops []*models.QueueOperation
	for rows.Next() {
		op := &models.QueueOperation{}
		var opType string
		var payload []byte
		if err := rows.Scan(&op.ID, &opType, &op.CollectionKey, &op.RecordID, &payload,
			&op.EnqueuedAt, &op.Attempts, &op.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue operation: %w", err)
		}
		op.Type = models.OperationType(opType)
		if len(payload) > 0 {
			op.Payload = payload
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Clear deletes every operation.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue`)
	return err
}

// MemoryStore is an ephemeral Store.
type MemoryStore struct {
	mu  sync.Mutex
	ops []*models.QueueOperation

	// FailAppend makes Append fail; used to exercise enqueue failures.
	FailAppend bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, op *models.QueueOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppend {
		return fmt.Errorf("append rejected")
	}
	s.ops = append(s.ops, cloneOp(op))
	return nil
}

func (s *MemoryStore) Update(_ context.Context, op *models.QueueOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.ops {
		if stored.ID == op.ID {
			stored.Attempts = op.Attempts
			stored.LastError = op.LastError
		}
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, op := range s.ops {
		if op.ID == id {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.QueueOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make([]*models.QueueOperation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, cloneOp(op))
	}
	return ops, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
	return nil
}
