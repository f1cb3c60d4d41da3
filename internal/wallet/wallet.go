// Package wallet implements the wallet capability the workflow core delegates
// to: EIP-712 typed-data signing with a locally held key, transaction
// submission through a JSON-RPC node, and receipt lookups.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/nftfolio/listingd/internal/domain"
)

// fallbackGasLimit is used when gas estimation fails. Marketplace approval
// and cancel transactions stay well under this.
const fallbackGasLimit = 300_000

// TypedData is an EIP-712 signing request as assembled from an aggregator
// signature action.
type TypedData struct {
	Domain      apitypes.TypedDataDomain
	Types       apitypes.Types
	PrimaryType string
	Message     apitypes.TypedDataMessage
}

// Receipt is the subset of a transaction receipt the sequencer inspects. A
// nil BlockNumber means the transaction has not been mined.
type Receipt struct {
	TxHash      string
	BlockNumber *big.Int
	Status      uint64
}

// Signer holds a secp256k1 key and a JSON-RPC connection, and implements the
// wallet capability surface: SignTypedData, SendTransaction,
// TransactionReceipt.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	eth        *ethclient.Client
	logger     *slog.Logger
}

// NewSigner creates a Signer from a hex-encoded private key, the target
// chain ID, and an RPC endpoint for transaction submission.
func NewSigner(privateKeyHex string, chainID int64, rpcURL string, logger *slog.Logger) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key: %w", err)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial rpc %s: %w", rpcURL, err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
		eth:        eth,
		logger:     logger.With(slog.String("component", "wallet")),
	}, nil
}

// Close releases the RPC connection.
func (s *Signer) Close() {
	s.eth.Close()
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTypedData hashes the typed data per EIP-712 and signs the digest. The
// returned signature is hex-encoded r || s || v with v in {27, 28}.
func (s *Signer) SignTypedData(ctx context.Context, td TypedData) (string, error) {
	data := apitypes.TypedData{
		Types:       ensureDomainType(td.Types, td.Domain),
		PrimaryType: td.PrimaryType,
		Domain:      td.Domain,
		Message:     td.Message,
	}

	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return "", fmt.Errorf("wallet: hash typed data: %w", err)
	}

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("wallet: %w: %v", domain.ErrSigningFailed, err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	s.logger.DebugContext(ctx, "typed data signed",
		slog.String("primary_type", td.PrimaryType),
	)
	return hexutil.Encode(sig), nil
}

// SendTransaction builds, signs, and submits a legacy transaction for the
// canonical triple and returns its hash.
func (s *Signer) SendTransaction(ctx context.Context, tx domain.TxRequest) (string, error) {
	to := common.HexToAddress(tx.To)
	value, err := parseWei(tx.Value)
	if err != nil {
		return "", fmt.Errorf("wallet: %w", err)
	}
	data := common.FromHex(tx.Data)

	nonce, err := s.eth.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("wallet: pending nonce: %w", err)
	}
	gasPrice, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("wallet: suggest gas price: %w", err)
	}

	gas, err := s.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "gas estimation failed, using fallback limit",
			slog.String("to", tx.To),
			slog.String("error", err.Error()),
		)
		gas = fallbackGasLimit
	}

	unsigned := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(unsigned, ethtypes.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("wallet: %w: %v", domain.ErrSigningFailed, err)
	}

	if err := s.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("wallet: send transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	s.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx_hash", hash),
		slog.String("to", tx.To),
	)
	return hash, nil
}

// TransactionReceipt looks up a receipt by hash. It returns
// domain.ErrNotFound while the transaction is still unmined.
func (s *Signer) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := s.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("wallet: transaction receipt %s: %w", txHash, err)
	}
	return &Receipt{
		TxHash:      txHash,
		BlockNumber: r.BlockNumber,
		Status:      r.Status,
	}, nil
}

// parseWei accepts both hex ("0x...") and decimal wei amounts. Empty means
// zero.
func parseWei(v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(v, "0x") {
		n, err := hexutil.DecodeBig(v)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value %q: %w", v, err)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}

// ensureDomainType adds the EIP712Domain type entry when the aggregator
// omitted it from the types map, deriving the field list from which domain
// fields are actually set. apitypes refuses to hash without it.
func ensureDomainType(types apitypes.Types, dom apitypes.TypedDataDomain) apitypes.Types {
	if _, ok := types["EIP712Domain"]; ok {
		return types
	}
	out := make(apitypes.Types, len(types)+1)
	for k, v := range types {
		out[k] = v
	}
	var fields []apitypes.Type
	if dom.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if dom.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if dom.ChainId != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if dom.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if dom.Salt != "" {
		fields = append(fields, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	out["EIP712Domain"] = fields
	return out
}

// DomainFromMap converts the loose domain object of a signature action into
// the apitypes domain struct.
func DomainFromMap(m map[string]any) apitypes.TypedDataDomain {
	dom := apitypes.TypedDataDomain{}
	if v, ok := m["name"].(string); ok {
		dom.Name = v
	}
	if v, ok := m["version"].(string); ok {
		dom.Version = v
	}
	switch v := m["chainId"].(type) {
	case float64:
		dom.ChainId = math.NewHexOrDecimal256(int64(v))
	case string:
		if n, ok := new(big.Int).SetString(strings.TrimPrefix(v, "0x"), pickBase(v)); ok {
			dom.ChainId = (*math.HexOrDecimal256)(n)
		}
	}
	if v, ok := m["verifyingContract"].(string); ok {
		dom.VerifyingContract = v
	}
	if v, ok := m["salt"].(string); ok {
		dom.Salt = v
	}
	return dom
}

func pickBase(v string) int {
	if strings.HasPrefix(v, "0x") {
		return 16
	}
	return 10
}
