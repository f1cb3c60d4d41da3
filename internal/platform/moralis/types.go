package moralis

import (
	"encoding/json"
	"strconv"

	"github.com/nftfolio/listingd/internal/domain"
)

// walletNFTPage is one page of the wallet NFT endpoint.
type walletNFTPage struct {
	Cursor string   `json:"cursor"`
	Result []apiNFT `json:"result"`
}

// apiNFT is one wire-format NFT entry. Metadata arrives as a JSON string.
type apiNFT struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	Name         string `json:"name"`
	Amount       string `json:"amount"`
	Metadata     string `json:"metadata"`
}

// nftMetadata is the subset of on-chain metadata the portfolio view needs.
type nftMetadata struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// ToDomain converts a wire NFT to the domain representation. Missing or
// unparseable metadata degrades to the collection-level name.
func (n apiNFT) ToDomain() domain.NFT {
	nft := domain.NFT{
		Contract:   n.TokenAddress,
		TokenID:    n.TokenID,
		Collection: n.Name,
		Amount:     1,
	}
	if amt, err := strconv.Atoi(n.Amount); err == nil && amt > 0 {
		nft.Amount = amt
	}
	if n.Metadata != "" {
		var meta nftMetadata
		if err := json.Unmarshal([]byte(n.Metadata), &meta); err == nil {
			nft.Name = meta.Name
			nft.ImageURL = meta.Image
		}
	}
	if nft.Name == "" {
		nft.Name = n.Name
	}
	return nft
}
