package models

import "encoding/json"

// OperationType is the kind of deferred mutation.
type OperationType string

const (
	OperationAdd    OperationType = "add"
	OperationDelete OperationType = "delete"
	OperationUpdate OperationType = "update"
	OperationClear  OperationType = "clear"
)

// QueueOperation is one deferred mutation awaiting connectivity.
type QueueOperation struct {
	ID            string          `db:"id" json:"id"`
	Type          OperationType   `db:"type" json:"type"`
	CollectionKey string          `db:"collection_key" json:"collection_key"`
	RecordID      string          `db:"record_id" json:"record_id,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt    int64           `db:"enqueued_at" json:"enqueued_at"` // unix milliseconds
	Attempts      int             `db:"attempts" json:"attempts"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueOperation.
func (QueueOperation) TableName() string {
	return "offline_queue"
}

// AddPayload is the payload of an add operation. Bundle holds the assets not yet
// uploaded; slots already present in Record.AssetRefs are skipped on replay.
type AddPayload struct {
	Record *Record      `json:"record"`
	Bundle *AssetBundle `json:"bundle,omitempty"`
}

// DeletePayload is the payload of a delete operation.
type DeletePayload struct {
	BlobPaths []string `json:"blob_paths,omitempty"`
}

// UpdatePayload is the payload of an update operation.
type UpdatePayload struct {
	Patch RecordPatch `json:"patch"`
}
