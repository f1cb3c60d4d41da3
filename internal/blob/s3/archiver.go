package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
)

// WorkflowArchiveStore is the narrow store surface the archiver needs: the
// settled-run query plus deletion of runs that made it into the archive.
type WorkflowArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.WorkflowRecord, error)
	Delete(ctx context.Context, ids []string) error
}

// ArchiveImpl implements domain.Archiver by exporting settled workflow runs
// to JSONL objects in the bucket, then pruning the exported rows from the
// primary store. Runs are only deleted after the upload succeeds.
type ArchiveImpl struct {
	writer domain.BlobWriter
	store  WorkflowArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, store WorkflowArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, store: store}
}

// ArchiveSettled exports every run settled before the cutoff and returns the
// number of runs archived. A cutoff window with no settled runs is a no-op.
func (a *ArchiveImpl) ArchiveSettled(ctx context.Context, before time.Time) (int, error) {
	records, err := a.store.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3blob: encode workflow %s: %w", rec.ID, err)
		}
		ids = append(ids, rec.ID)
	}

	key := archiveKey(before)
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settled: %w", err)
	}

	if err := a.store.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("s3blob: prune archived workflows: %w", err)
	}
	return len(records), nil
}

// archiveKey builds a date-partitioned object key from the cutoff time.
func archiveKey(before time.Time) string {
	return fmt.Sprintf("archive/workflows/%s/workflows-%s.jsonl",
		before.UTC().Format("2006/01"),
		before.UTC().Format("20060102T150405Z"),
	)
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
