package storage

import (
	"context"
	"time"
)

// InvocationRecord is one durable cycle-orchestrator invocation outcome.
type InvocationRecord struct {
	ID        int64
	Day       int64
	Phase     string
	Action    string
	Status    string
	TxHash    string
	LastError string
	CreatedAt time.Time
}

// InvocationStore persists orchestrator invocation records. Records are
// observational only; no cycle decision reads them back.
type InvocationStore interface {
	RecordInvocation(ctx context.Context, record InvocationRecord) error
	ListInvocations(ctx context.Context, limit int) ([]InvocationRecord, error)
}
