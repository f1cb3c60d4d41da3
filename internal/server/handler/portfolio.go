package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nftfolio/listingd/internal/domain"
)

// PortfolioSource fetches a wallet's NFT holdings from the indexer.
type PortfolioSource interface {
	WalletNFTs(ctx context.Context, wallet string) ([]domain.NFT, error)
}

// PortfolioHandler serves wallet holdings, cached between refreshes.
type PortfolioHandler struct {
	source PortfolioSource
	cache  domain.PortfolioCache
	logger *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(source PortfolioSource, cache domain.PortfolioCache, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		source: source,
		cache:  cache,
		logger: logHandler(logger, "portfolio"),
	}
}

// GetPortfolio returns the NFTs held by a wallet. Pass ?refresh=true to
// bypass the cache.
// GET /api/portfolio/{wallet}
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	wallet := pathParam(r, "wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	refresh := r.URL.Query().Get("refresh") == "true"

	if !refresh {
		if nfts, err := h.cache.Get(r.Context(), wallet); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"wallet": wallet,
				"nfts":   nfts,
				"cached": true,
			})
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "portfolio cache read failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	}

	nfts, err := h.source.WalletNFTs(r.Context(), wallet)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "portfolio fetch failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch wallet holdings")
		return
	}

	if err := h.cache.Set(r.Context(), wallet, nfts); err != nil {
		h.logger.WarnContext(r.Context(), "portfolio cache write failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wallet,
		"nfts":   nfts,
		"cached": false,
	})
}
