package sequencer

import "github.com/nftfolio/listingd/internal/domain"

// Signature length at or above which a payment-processor-v2 signature also
// gets split into its r and s components: "0x" + 64 r chars + 64 s chars +
// 2 v chars = 132.
const rsSplitMinLen = 132

// SpliceSignature writes the held signature into a pass-through payload
// according to the order kind:
//
//   - payment-processor-v2: signature (and, when long enough, its r/s split)
//     goes onto order.data;
//   - seaport-v1.5 / seaport-v1.6: signature at the payload root;
//   - opensea orderbook without bulk_data: a {order, signature, order_index}
//     bulk_data wrapper is synthesized for Seaport bulk submission.
//
// The input payload is not mutated; touched maps are copied.
func SpliceSignature(a domain.Action, signature string) map[string]any {
	payload := cloneMap(a.Payload)

	order, _ := payload["order"].(map[string]any)
	kind, _ := order["kind"].(string)

	switch domain.OrderKind(kind) {
	case domain.OrderKindPaymentProcessorV2:
		order = cloneMap(order)
		data := cloneMap(mapValue(order, "data"))
		data["signature"] = signature
		if len(signature) >= rsSplitMinLen {
			data["r"] = "0x" + signature[2:66]
			data["s"] = "0x" + signature[66:130]
		}
		order["data"] = data
		payload["order"] = order
	default:
		// Seaport kinds, and anything unrecognized, carry the signature at
		// the payload root.
		payload["signature"] = signature
	}

	if a.Orderbook() == domain.OrderbookOpenSea {
		if _, ok := payload["bulk_data"]; !ok {
			payload["bulk_data"] = map[string]any{
				"order":       payload["order"],
				"signature":   signature,
				"order_index": a.OrderIndex(),
			}
		}
	}

	return payload
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mapValue(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}
