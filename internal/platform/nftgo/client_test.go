package nftgo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftfolio/listingd/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-api-key")
}

func envelope(data any) []byte {
	raw, _ := json.Marshal(data)
	out, _ := json.Marshal(map[string]any{
		"code": "SUCCESS",
		"msg":  "",
		"data": json.RawMessage(raw),
	})
	return out
}

func TestCreateListings(t *testing.T) {
	var gotBody map[string]any
	var gotKey string

	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, createListingsPath, r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		gotKey = r.Header.Get("X-API-KEY")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Write(envelope(map[string]any{
			"actions": []map[string]any{
				{"kind": "signature", "signature_kind": "eip712"},
				{"kind": "pass-through", "payload": map[string]any{"orderbook": "opensea"}},
			},
		}))
	})

	actions, err := client.CreateListings(context.Background(), "0xmaker", []domain.ListingParams{{
		Token:     "0xabc:1",
		WeiPrice:  "1000",
		Orderbook: domain.OrderbookOpenSea,
	}})
	require.NoError(t, err)

	assert.Equal(t, "test-api-key", gotKey)
	assert.Equal(t, "0xmaker", gotBody["maker"])
	require.Len(t, actions, 2)
	assert.Equal(t, domain.ActionSignature, actions[0].Kind)
	assert.Equal(t, domain.OrderbookOpenSea, actions[1].Orderbook())
}

func TestPostOrder(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/custom/post", r.URL.Path)
		w.Write(envelope(map[string]any{"request_id": "req-42"}))
	})

	id, err := client.PostOrder(context.Background(), "/custom/post", "", map[string]any{"order": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "req-42", id)
}

func TestPostOrderDefaultsEndpoint(t *testing.T) {
	var gotPath string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write(envelope(map[string]any{"request_id": "req-1"}))
	})

	_, err := client.PostOrder(context.Background(), "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPostOrderPath, gotPath)
}

func TestPostOrderMissingRequestID(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelope(map[string]any{}))
	})

	_, err := client.PostOrder(context.Background(), "", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_id")
}

func TestCheckPostOrderResults(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"req-1", "req-2"}, body["request_ids"])

		w.Write(envelope(map[string]any{
			"post_order_results": []map[string]any{
				{"request_id": "req-1", "status": "success"},
				{"request_id": "req-2", "status": "failed", "status_reason": "expired"},
			},
		}))
	})

	results, err := client.CheckPostOrderResults(context.Background(), []string{"req-1", "req-2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.PostOrderSuccess, results[0].Status)
	assert.Equal(t, "expired", results[1].StatusReason)
}

func TestActiveListings(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, listingsPath, r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("contract_address"))
		assert.Equal(t, "7", r.URL.Query().Get("token_id"))

		w.Write(envelope(map[string]any{
			"listings": []map[string]any{{
				"order_hash":      "0xhash",
				"orderbook":       "looks-rare",
				"order_kind":      "seaport-v1.5",
				"price_wei":       "5000",
				"expiration_time": 1700000000,
			}},
		}))
	})

	listings, err := client.ActiveListings(context.Background(), "0xabc", "7")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, domain.OrderbookLooksRare, listings[0].Orderbook)
	assert.Equal(t, "0xhash", listings[0].Identifier())
	assert.Equal(t, int64(1700000000), listings[0].ExpirationTime.Unix())
}

func TestEnvelopeErrorCode(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"RATE_LIMITED","msg":"slow down","data":null}`))
	})

	_, err := client.CheckPostOrderResults(context.Background(), []string{"req-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMITED")
	assert.Contains(t, err.Error(), "slow down")
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tc := range cases {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		_, err := client.ActiveListings(context.Background(), "0xabc", "1")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}
