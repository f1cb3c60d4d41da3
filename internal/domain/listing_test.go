package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCancelOrderLengthHeuristic(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)

	co := NewCancelOrder(hash, "listing")
	assert.Equal(t, hash, co.OrderHash)
	assert.Empty(t, co.OrderID)

	co = NewCancelOrder("order-123", "listing")
	assert.Equal(t, "order-123", co.OrderID)
	assert.Empty(t, co.OrderHash)

	// Boundary: exactly 24 characters is still an opaque id.
	id24 := strings.Repeat("x", 24)
	co = NewCancelOrder(id24, "listing")
	assert.Equal(t, id24, co.OrderID)

	id25 := strings.Repeat("x", 25)
	co = NewCancelOrder(id25, "listing")
	assert.Equal(t, id25, co.OrderHash)
}

func TestListingIdentifierPrefersHash(t *testing.T) {
	l := Listing{OrderID: "id", OrderHash: "0xhash"}
	assert.Equal(t, "0xhash", l.Identifier())

	assert.Equal(t, "id", Listing{OrderID: "id"}.Identifier())
}

func TestTokenRef(t *testing.T) {
	assert.Equal(t, "0xabc:42", TokenRef("0xabc", "42"))
	assert.Equal(t, "0xabc:42", NFT{Contract: "0xabc", TokenID: "42"}.Token())
}

func TestDefaultOrderKind(t *testing.T) {
	assert.Equal(t, OrderKindSeaportV16, DefaultOrderKind(OrderbookOpenSea))
	assert.Equal(t, OrderKindSeaportV15, DefaultOrderKind(OrderbookLooksRare))
	assert.Equal(t, OrderKindPaymentProcessorV2, DefaultOrderKind(OrderbookNFTGo))
}

func TestMarketplaceStatePredicates(t *testing.T) {
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateListing.Terminal())

	assert.True(t, StatePending.Active())
	assert.True(t, StateListing.Active())
	assert.True(t, StateCanceling.Active())
	assert.False(t, StateIdle.Active())
	assert.False(t, StateSuccess.Active())
}
