package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nftfolio/listingd/internal/domain"
)

// WorkflowsHandler serves workflow run history and the durable event stream.
type WorkflowsHandler struct {
	store  domain.WorkflowStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewWorkflowsHandler creates a WorkflowsHandler.
func NewWorkflowsHandler(store domain.WorkflowStore, bus domain.SignalBus, logger *slog.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{
		store:  store,
		bus:    bus,
		logger: logHandler(logger, "workflows"),
	}
}

// GetWorkflow returns one workflow run with its marketplace statuses.
// GET /api/workflows/{id}
func (h *WorkflowsHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "workflow id is required")
		return
	}

	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get workflow failed",
			slog.String("workflow_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListWorkflows returns a wallet's runs, newest first.
// GET /api/workflows?wallet=0x...
func (h *WorkflowsHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter is required")
		return
	}

	records, err := h.store.ListRecent(r.Context(), wallet, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list workflows failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	if records == nil {
		records = []domain.WorkflowRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, "workflows": records})
}

// StreamEvents returns settled-workflow events from the durable stream,
// starting after the given cursor. Clients poll this to catch up on events
// missed while disconnected from the WebSocket.
// GET /api/workflows/events?after=0&count=50
func (h *WorkflowsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			count = n
		}
	}

	messages, err := h.bus.StreamRead(r.Context(), domain.WorkflowStream, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	type event struct {
		ID       string          `json:"id"`
		Workflow json.RawMessage `json:"workflow"`
	}
	events := make([]event, 0, len(messages))
	var cursor string
	for _, m := range messages {
		events = append(events, event{ID: m.ID, Workflow: m.Payload})
		cursor = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "cursor": cursor})
}
