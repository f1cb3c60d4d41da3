package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts carries standard pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}

// WorkflowStore persists workflow runs and their per-marketplace outcomes.
type WorkflowStore interface {
	Create(ctx context.Context, rec WorkflowRecord) error
	Settle(ctx context.Context, id string, status WorkflowStatus, errMsg string, at time.Time) error
	UpsertMarketplace(ctx context.Context, workflowID string, ms MarketplaceStatus) error
	GetByID(ctx context.Context, id string) (WorkflowRecord, error)
	ListRecent(ctx context.Context, wallet string, opts ListOpts) ([]WorkflowRecord, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]WorkflowRecord, error)
}

// BlobWriter uploads a serialized blob to object storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Archiver exports settled workflow records out of the primary store.
type Archiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int, error)
}
