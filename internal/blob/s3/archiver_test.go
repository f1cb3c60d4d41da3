package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftfolio/listingd/internal/domain"
)

type fakeBlobWriter struct {
	key         string
	contentType string
	body        []byte
	err         error
	puts        int
}

func (w *fakeBlobWriter) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	w.puts++
	if w.err != nil {
		return w.err
	}
	w.key = key
	w.contentType = contentType
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.body = body
	return nil
}

type fakeArchiveStore struct {
	records []domain.WorkflowRecord
	listErr error
	deleted []string
}

func (s *fakeArchiveStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.WorkflowRecord, error) {
	return s.records, s.listErr
}

func (s *fakeArchiveStore) Delete(ctx context.Context, ids []string) error {
	s.deleted = ids
	return nil
}

func settledRecord(id string) domain.WorkflowRecord {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.WorkflowRecord{
		ID:        id,
		Wallet:    "0xwallet",
		Kind:      domain.WorkflowList,
		Token:     "0xabc:1",
		Status:    domain.WorkflowSucceeded,
		StartedAt: at,
		SettledAt: &at,
	}
}

func TestArchiveSettledExportsJSONLAndPrunes(t *testing.T) {
	writer := &fakeBlobWriter{}
	store := &fakeArchiveStore{records: []domain.WorkflowRecord{
		settledRecord("wf-1"),
		settledRecord("wf-2"),
	}}
	arch := NewArchiver(writer, store)

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	n, err := arch.ArchiveSettled(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "archive/workflows/2026/08/workflows-20260801T000000Z.jsonl", writer.key)
	assert.Equal(t, "application/x-ndjson", writer.contentType)
	assert.Equal(t, []string{"wf-1", "wf-2"}, store.deleted)

	// One JSON document per line.
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(writer.body))
	for sc.Scan() {
		var rec domain.WorkflowRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"wf-1", "wf-2"}, ids)
}

func TestArchiveSettledNoopWhenEmpty(t *testing.T) {
	writer := &fakeBlobWriter{}
	arch := NewArchiver(writer, &fakeArchiveStore{})

	n, err := arch.ArchiveSettled(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, writer.puts, "nothing is uploaded for an empty window")
}

func TestArchiveSettledKeepsRowsOnUploadFailure(t *testing.T) {
	writer := &fakeBlobWriter{err: errors.New("bucket unavailable")}
	store := &fakeArchiveStore{records: []domain.WorkflowRecord{settledRecord("wf-1")}}
	arch := NewArchiver(writer, store)

	_, err := arch.ArchiveSettled(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, store.deleted, "rows are only pruned after a successful upload")
}
