package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nftfolio/listingd/internal/domain"
)

// WorkflowStore implements domain.WorkflowStore using PostgreSQL.
type WorkflowStore struct {
	pool *pgxpool.Pool
}

// NewWorkflowStore creates a new WorkflowStore backed by the given pool.
func NewWorkflowStore(pool *pgxpool.Pool) *WorkflowStore {
	return &WorkflowStore{pool: pool}
}

// Create inserts a new workflow run.
func (s *WorkflowStore) Create(ctx context.Context, rec domain.WorkflowRecord) error {
	const query = `
		INSERT INTO workflows (id, wallet, kind, token, status, error, started_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Wallet, string(rec.Kind), rec.Token,
		string(rec.Status), rec.Error, rec.StartedAt, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create workflow %s: %w", rec.ID, err)
	}
	return nil
}

// Settle marks a workflow terminal and records its settlement time.
func (s *WorkflowStore) Settle(ctx context.Context, id string, status domain.WorkflowStatus, errMsg string, at time.Time) error {
	const query = `
		UPDATE workflows
		SET status = $1, error = $2, settled_at = $3, updated_at = NOW()
		WHERE id = $4`

	tag, err := s.pool.Exec(ctx, query, string(status), errMsg, at, id)
	if err != nil {
		return fmt.Errorf("postgres: settle workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertMarketplace writes the latest per-marketplace status for a workflow.
// Transitions arrive repeatedly for the same marketplace; the last write wins.
func (s *WorkflowStore) UpsertMarketplace(ctx context.Context, workflowID string, ms domain.MarketplaceStatus) error {
	const query = `
		INSERT INTO workflow_marketplaces
			(workflow_id, marketplace, orderbook, order_kind, request_id, state, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (workflow_id, marketplace) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		workflowID, ms.ID, string(ms.Orderbook), string(ms.OrderKind),
		ms.RequestID, string(ms.State), ms.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert marketplace %s/%s: %w", workflowID, ms.ID, err)
	}
	return nil
}

// GetByID fetches a workflow run with its marketplace statuses.
// It returns domain.ErrNotFound when no run exists.
func (s *WorkflowStore) GetByID(ctx context.Context, id string) (domain.WorkflowRecord, error) {
	const query = `
		SELECT id, wallet, kind, token, status, error, started_at, settled_at
		FROM workflows WHERE id = $1`

	rec, err := scanWorkflow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowRecord{}, domain.ErrNotFound
		}
		return domain.WorkflowRecord{}, fmt.Errorf("postgres: get workflow %s: %w", id, err)
	}

	marketplaces, err := s.marketplacesFor(ctx, rec.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	rec.Marketplaces = marketplaces
	return rec, nil
}

// ListRecent returns a wallet's runs, newest first.
func (s *WorkflowStore) ListRecent(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.WorkflowRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, wallet, kind, token, status, error, started_at, settled_at
		FROM workflows
		WHERE LOWER(wallet) = LOWER($1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, wallet, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workflows for %s: %w", wallet, err)
	}
	defer rows.Close()

	records, err := collectWorkflows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workflows for %s: %w", wallet, err)
	}

	for i := range records {
		marketplaces, err := s.marketplacesFor(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Marketplaces = marketplaces
	}
	return records, nil
}

// ListSettledBefore returns runs settled before the cutoff, for archival.
func (s *WorkflowStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.WorkflowRecord, error) {
	const query = `
		SELECT id, wallet, kind, token, status, error, started_at, settled_at
		FROM workflows
		WHERE settled_at IS NOT NULL AND settled_at < $1
		ORDER BY settled_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled workflows: %w", err)
	}
	defer rows.Close()

	records, err := collectWorkflows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled workflows: %w", err)
	}

	for i := range records {
		marketplaces, err := s.marketplacesFor(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Marketplaces = marketplaces
	}
	return records, nil
}

// Delete removes archived runs from the primary store.
func (s *WorkflowStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("postgres: delete workflows: %w", err)
	}
	return nil
}

func (s *WorkflowStore) marketplacesFor(ctx context.Context, workflowID string) ([]domain.MarketplaceStatus, error) {
	const query = `
		SELECT marketplace, orderbook, order_kind, request_id, state, error
		FROM workflow_marketplaces
		WHERE workflow_id = $1
		ORDER BY marketplace`

	rows, err := s.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: marketplaces for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []domain.MarketplaceStatus
	for rows.Next() {
		var ms domain.MarketplaceStatus
		var orderbook, orderKind, state string
		if err := rows.Scan(&ms.ID, &orderbook, &orderKind, &ms.RequestID, &state, &ms.Error); err != nil {
			return nil, fmt.Errorf("postgres: scan marketplace for %s: %w", workflowID, err)
		}
		ms.Orderbook = domain.Orderbook(orderbook)
		ms.OrderKind = domain.OrderKind(orderKind)
		ms.State = domain.MarketplaceState(state)
		out = append(out, ms)
	}
	return out, rows.Err()
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (domain.WorkflowRecord, error) {
	var rec domain.WorkflowRecord
	var kind, status string
	if err := scanner.Scan(
		&rec.ID, &rec.Wallet, &kind, &rec.Token,
		&status, &rec.Error, &rec.StartedAt, &rec.SettledAt,
	); err != nil {
		return domain.WorkflowRecord{}, err
	}
	rec.Kind = domain.WorkflowKind(kind)
	rec.Status = domain.WorkflowStatus(status)
	return rec, nil
}

func collectWorkflows(rows pgx.Rows) ([]domain.WorkflowRecord, error) {
	var out []domain.WorkflowRecord
	for rows.Next() {
		rec, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.WorkflowStore = (*WorkflowStore)(nil)
