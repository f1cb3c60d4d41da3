package sequencer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftfolio/listingd/internal/domain"
)

func ppv2Action(orderbook string) domain.Action {
	return domain.Action{
		Kind: domain.ActionPassThrough,
		Payload: map[string]any{
			"orderbook": orderbook,
			"order": map[string]any{
				"kind": string(domain.OrderKindPaymentProcessorV2),
				"data": map[string]any{
					"protocol": 0,
					"maker":    "0xabc",
				},
			},
		},
	}
}

func seaportAction(orderbook, kind string) domain.Action {
	return domain.Action{
		Kind: domain.ActionPassThrough,
		Payload: map[string]any{
			"orderbook": orderbook,
			"order": map[string]any{
				"kind": kind,
				"data": map[string]any{"counter": "0"},
			},
		},
	}
}

// longSig is a 65-byte signature hex string: 0x + 64 r + 64 s + 2 v.
var longSig = "0x" + strings.Repeat("1", 64) + strings.Repeat("2", 64) + "1b"

func TestSpliceSignaturePaymentProcessorV2(t *testing.T) {
	a := ppv2Action("nftgo")

	out := SpliceSignature(a, longSig)

	order, ok := out["order"].(map[string]any)
	require.True(t, ok)
	data, ok := order["data"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, longSig, data["signature"])
	assert.Equal(t, "0x"+strings.Repeat("1", 64), data["r"])
	assert.Equal(t, "0x"+strings.Repeat("2", 64), data["s"])
	assert.Equal(t, "0xabc", data["maker"], "existing data fields survive")

	_, rootSig := out["signature"]
	assert.False(t, rootSig, "payment-processor-v2 must not carry a root signature")
}

func TestSpliceSignaturePaymentProcessorV2ShortSignature(t *testing.T) {
	a := ppv2Action("nftgo")
	short := "0xdeadbeef"

	out := SpliceSignature(a, short)

	data := out["order"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, short, data["signature"])
	_, hasR := data["r"]
	_, hasS := data["s"]
	assert.False(t, hasR, "short signatures are not split")
	assert.False(t, hasS, "short signatures are not split")
}

func TestSpliceSignatureSeaportRoot(t *testing.T) {
	for _, kind := range []string{
		string(domain.OrderKindSeaportV15),
		string(domain.OrderKindSeaportV16),
	} {
		a := seaportAction("looks-rare", kind)

		out := SpliceSignature(a, longSig)

		assert.Equal(t, longSig, out["signature"], kind)
		data := out["order"].(map[string]any)["data"].(map[string]any)
		_, hasSig := data["signature"]
		assert.False(t, hasSig, "seaport signatures live at the payload root")
	}
}

func TestSpliceSignatureOpenSeaBulkData(t *testing.T) {
	a := seaportAction("opensea", string(domain.OrderKindSeaportV16))
	a.OrderIndexes = []int{3}

	out := SpliceSignature(a, longSig)

	bulk, ok := out["bulk_data"].(map[string]any)
	require.True(t, ok, "opensea submissions get a bulk_data wrapper")
	assert.Equal(t, longSig, bulk["signature"])
	assert.Equal(t, 3, bulk["order_index"])
	assert.Equal(t, out["order"], bulk["order"])
}

func TestSpliceSignatureOpenSeaDefaultOrderIndex(t *testing.T) {
	a := seaportAction("opensea", string(domain.OrderKindSeaportV16))

	out := SpliceSignature(a, longSig)

	bulk := out["bulk_data"].(map[string]any)
	assert.Equal(t, 0, bulk["order_index"])
}

func TestSpliceSignatureOpenSeaExistingBulkDataKept(t *testing.T) {
	a := seaportAction("opensea", string(domain.OrderKindSeaportV16))
	a.Payload["bulk_data"] = map[string]any{"order_index": 7}

	out := SpliceSignature(a, longSig)

	bulk := out["bulk_data"].(map[string]any)
	assert.Equal(t, 7, bulk["order_index"], "aggregator-provided bulk_data wins")
}

func TestSpliceSignatureDoesNotMutateInput(t *testing.T) {
	a := ppv2Action("nftgo")

	_ = SpliceSignature(a, longSig)

	data := a.Payload["order"].(map[string]any)["data"].(map[string]any)
	_, hasSig := data["signature"]
	assert.False(t, hasSig, "input payload must stay untouched")
}
