package domain

import "time"

// WorkflowKind identifies the user operation that started a workflow run.
type WorkflowKind string

const (
	WorkflowList   WorkflowKind = "list"
	WorkflowCancel WorkflowKind = "cancel"
	WorkflowEdit   WorkflowKind = "edit"
)

// WorkflowStatus is the aggregate outcome of a run. A run succeeds as soon
// as at least one marketplace succeeds; it fails only when every selected
// marketplace has failed (or the whole workflow aborted before any
// marketplace was reached).
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowRecord is the durable trace of one list/cancel/edit run.
type WorkflowRecord struct {
	ID           string              `json:"id"`
	Wallet       string              `json:"wallet"`
	Kind         WorkflowKind        `json:"kind"`
	Token        string              `json:"token"`
	Status       WorkflowStatus      `json:"status"`
	Error        string              `json:"error,omitempty"`
	Marketplaces []MarketplaceStatus `json:"marketplaces"`
	StartedAt    time.Time           `json:"started_at"`
	SettledAt    *time.Time          `json:"settled_at,omitempty"`
}

// Settled reports whether the run has reached a terminal status.
func (r WorkflowRecord) Settled() bool {
	return r.Status == WorkflowSucceeded || r.Status == WorkflowFailed
}

// StatusEvent is published on the signal bus whenever a marketplace record
// transitions, so dashboards can render per-marketplace progress live.
type StatusEvent struct {
	WorkflowID string           `json:"workflow_id"`
	Wallet     string           `json:"wallet"`
	Kind       WorkflowKind     `json:"kind"`
	Orderbook  Orderbook        `json:"orderbook"`
	State      MarketplaceState `json:"state"`
	RequestID  string           `json:"request_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	At         time.Time        `json:"at"`
}

// StatusChannel is the signal bus channel carrying StatusEvents.
const StatusChannel = "ch:marketplace:status"

// WorkflowChannel carries whole-workflow settlement events.
const WorkflowChannel = "ch:workflow"

// WorkflowStream is the durable stream recording settled workflow runs, read
// back for replay-on-connect and by the archiver.
const WorkflowStream = "stream:workflow"
