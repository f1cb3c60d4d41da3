package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/workflow"
)

// SessionProvider hands out the per-wallet workflow session.
type SessionProvider interface {
	Session(wallet string) *workflow.Session
}

// ListingSource looks up the active listings for a token.
type ListingSource interface {
	ActiveListings(ctx context.Context, contract, tokenID string) ([]domain.Listing, error)
}

// ListingsHandler serves active-listing lookups and starts list, cancel and
// edit workflows. Workflow starts return 202 with a workflow id; progress is
// observable over the WebSocket stream or the workflows endpoints.
type ListingsHandler struct {
	sessions SessionProvider
	source   ListingSource
	cache    domain.ListingCache
	logger   *slog.Logger
}

// NewListingsHandler creates a ListingsHandler.
func NewListingsHandler(sessions SessionProvider, source ListingSource, cache domain.ListingCache, logger *slog.Logger) *ListingsHandler {
	return &ListingsHandler{
		sessions: sessions,
		source:   source,
		cache:    cache,
		logger:   logHandler(logger, "listings"),
	}
}

// GetListings returns the active listings for a token, cache-first.
// GET /api/listings/{contract}/{token}
func (h *ListingsHandler) GetListings(w http.ResponseWriter, r *http.Request) {
	contract := pathParam(r, "contract")
	tokenID := pathParam(r, "token")
	if contract == "" || tokenID == "" {
		writeError(w, http.StatusBadRequest, "contract and token are required")
		return
	}

	token := domain.TokenRef(contract, tokenID)
	if listings, err := h.cache.Get(r.Context(), token); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "listings": listings})
		return
	}

	listings, err := h.source.ActiveListings(r.Context(), contract, tokenID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "active listings lookup failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch active listings")
		return
	}
	if err := h.cache.Set(r.Context(), token, listings); err != nil {
		h.logger.WarnContext(r.Context(), "listing cache write failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "listings": listings})
}

// createListingsRequest is the body for starting a list workflow.
type createListingsRequest struct {
	Wallet string `json:"wallet"`
	workflow.ListRequest
}

// CreateListings starts a list workflow.
// POST /api/listings
func (h *ListingsHandler) CreateListings(w http.ResponseWriter, r *http.Request) {
	var req createListingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	id, err := h.sessions.Session(req.Wallet).StartList(req.ListRequest)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
}

// cancelListingsRequest is the body for starting a cancel workflow.
type cancelListingsRequest struct {
	Wallet string `json:"wallet"`
	workflow.CancelRequest
}

// CancelListings starts a cancel workflow.
// DELETE /api/listings
func (h *ListingsHandler) CancelListings(w http.ResponseWriter, r *http.Request) {
	var req cancelListingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	id, err := h.sessions.Session(req.Wallet).StartCancel(req.CancelRequest)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
}

// editListingsRequest is the body for starting an edit workflow.
type editListingsRequest struct {
	Wallet string `json:"wallet"`
	workflow.EditRequest
}

// EditListings starts an edit (cancel-then-relist) workflow.
// PUT /api/listings
func (h *ListingsHandler) EditListings(w http.ResponseWriter, r *http.Request) {
	var req editListingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	id, err := h.sessions.Session(req.Wallet).StartEdit(req.EditRequest)
	if err != nil {
		h.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
}

func (h *ListingsHandler) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "a workflow is already running for this wallet")
	case errors.Is(err, domain.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "workflow start failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
	}
}
