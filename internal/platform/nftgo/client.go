// Package nftgo is the REST client for the NFTGo trade aggregator, which
// fronts OpenSea, LooksRare, and NFTGo's own orderbook behind one
// create/post/check/cancel surface.
package nftgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
)

const (
	defaultPostOrderPath = "/aggregator/v1/post-order"
	createListingsPath   = "/aggregator/v1/create-listings"
	checkResultsPath     = "/aggregator/v1/check-post-order-results"
	cancelOrdersPath     = "/aggregator/v1/cancel-orders"
	listingsPath         = "/orderbook/v1/listings"
)

// Client is the aggregator REST client. All requests carry the NFTGo API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an aggregator client. baseURL is the API root, e.g.
// "https://data-api.nftgo.io".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateListings asks the aggregator to prepare listings for the maker and
// returns the heterogeneous action sequence to execute client-side.
func (c *Client) CreateListings(ctx context.Context, maker string, params []domain.ListingParams) ([]domain.Action, error) {
	body := map[string]any{
		"maker":  maker,
		"params": params,
	}

	data, err := c.doRequest(ctx, http.MethodPost, createListingsPath, body)
	if err != nil {
		return nil, fmt.Errorf("nftgo: create listings: %w", err)
	}

	var resp actionsData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("nftgo: decode create listings: %w", err)
	}
	return resp.Actions, nil
}

// CancelOrders asks the aggregator to cancel the given orders on behalf of
// the caller. The returned actions may include on-chain cancel transactions.
func (c *Client) CancelOrders(ctx context.Context, caller string, orders []domain.CancelOrder) ([]domain.Action, error) {
	body := map[string]any{
		"caller_address": caller,
		"orders":         orders,
	}

	data, err := c.doRequest(ctx, http.MethodPost, cancelOrdersPath, body)
	if err != nil {
		return nil, fmt.Errorf("nftgo: cancel orders: %w", err)
	}

	var resp actionsData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("nftgo: decode cancel orders: %w", err)
	}
	return resp.Actions, nil
}

// PostOrder submits a spliced pass-through payload. endpoint and method come
// from the action; both have defaults. A SUCCESS-coded response without a
// request_id is an error, since without one the order can never be polled.
func (c *Client) PostOrder(ctx context.Context, endpoint, method string, payload map[string]any) (string, error) {
	if endpoint == "" {
		endpoint = defaultPostOrderPath
	}
	if method == "" {
		method = http.MethodPost
	}

	data, err := c.doRequest(ctx, method, endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("nftgo: post order: %w", err)
	}

	var resp postOrderData
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("nftgo: decode post order: %w", err)
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("nftgo: post order response missing request_id")
	}
	return resp.RequestID, nil
}

// CheckPostOrderResults polls the processing state of submitted orders. An
// empty result list means the backend has not settled the requests yet.
func (c *Client) CheckPostOrderResults(ctx context.Context, requestIDs []string) ([]domain.PostOrderResult, error) {
	body := map[string]any{
		"request_ids": requestIDs,
	}

	data, err := c.doRequest(ctx, http.MethodPost, checkResultsPath, body)
	if err != nil {
		return nil, fmt.Errorf("nftgo: check post order results: %w", err)
	}

	var resp checkResultsData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("nftgo: decode check results: %w", err)
	}
	return resp.Results, nil
}

// ActiveListings returns the live listings for one NFT across marketplaces.
func (c *Client) ActiveListings(ctx context.Context, contract, tokenID string) ([]domain.Listing, error) {
	q := url.Values{}
	q.Set("contract_address", contract)
	q.Set("token_id", tokenID)

	data, err := c.doRequest(ctx, http.MethodGet, listingsPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nftgo: active listings %s:%s: %w", contract, tokenID, err)
	}

	var resp listingsData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("nftgo: decode listings: %w", err)
	}

	listings := make([]domain.Listing, 0, len(resp.Listings))
	for i := range resp.Listings {
		listings = append(listings, resp.Listings[i].ToDomain())
	}
	return listings, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, sends, and decodes an aggregator request. It unwraps the
// {code, msg, data} envelope and returns the raw data payload.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Code != codeSuccess {
		return nil, fmt.Errorf("aggregator error %s: %s", envelope.Code, envelope.Msg)
	}
	return envelope.Data, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
