// Package moralis is a thin client for the Moralis NFT API, used to load a
// wallet's holdings for the portfolio view. The API key is attached
// server-side so it never reaches the browser.
package moralis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
)

// Client is the Moralis REST client.
type Client struct {
	baseURL    string
	apiKey     string
	chain      string
	httpClient *http.Client
}

// NewClient creates a Moralis client. baseURL is the API root, e.g.
// "https://deep-index.moralis.io/api/v2.2"; chain is the Moralis chain slug
// ("eth", "polygon", ...).
func NewClient(baseURL, apiKey, chain string) *Client {
	if chain == "" {
		chain = "eth"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		chain:   chain,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WalletNFTs returns the NFTs owned by a wallet, paging through the API
// until the cursor is exhausted.
func (c *Client) WalletNFTs(ctx context.Context, wallet string) ([]domain.NFT, error) {
	var (
		nfts   []domain.NFT
		cursor string
	)

	for {
		q := url.Values{}
		q.Set("chain", c.chain)
		q.Set("format", "decimal")
		q.Set("media_items", "true")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		path := fmt.Sprintf("/%s/nft?%s", wallet, q.Encode())
		var page walletNFTPage
		if err := c.get(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("moralis: wallet nfts %s: %w", wallet, err)
		}

		for i := range page.Result {
			nfts = append(nfts, page.Result[i].ToDomain())
		}

		cursor = page.Cursor
		if cursor == "" {
			break
		}
	}

	return nfts, nil
}

// get sends an authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, string(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
