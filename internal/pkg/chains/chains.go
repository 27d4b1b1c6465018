package chains

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Network is a closed enumeration of supported settlement chains.
type Network string

const (
	NetworkArbitrum Network = "arbitrum"
	NetworkEthereum Network = "ethereum"
	NetworkTron     Network = "tron"
)

// Token is a closed enumeration of accepted stablecoins.
type Token string

const (
	TokenUSDT Token = "USDT"
	TokenUSDC Token = "USDC"
)

// Networks lists all supported networks in display order.
func Networks() []Network {
	return []Network{NetworkArbitrum, NetworkEthereum, NetworkTron}
}

// Tokens lists all accepted tokens in display order.
func Tokens() []Token {
	return []Token{TokenUSDT, TokenUSDC}
}

// ParseNetwork validates and normalizes a network identifier.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkArbitrum:
		return NetworkArbitrum, nil
	case NetworkEthereum:
		return NetworkEthereum, nil
	case NetworkTron:
		return NetworkTron, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// ParseToken validates and normalizes a token ticker.
func ParseToken(s string) (Token, error) {
	switch Token(strings.ToUpper(strings.TrimSpace(s))) {
	case TokenUSDT:
		return TokenUSDT, nil
	case TokenUSDC:
		return TokenUSDC, nil
	}
	return "", fmt.Errorf("unknown token %q", s)
}

// IsEVM reports whether the network settles on an EVM chain.
func (n Network) IsEVM() bool {
	return n == NetworkArbitrum || n == NetworkEthereum
}

// TransferQuery describes the on-chain transfer the monitor is looking for.
type TransferQuery struct {
	Network        Network
	Token          Token
	SenderAddress  string
	ReceiverAddress string
	RequiredAmount decimal.Decimal
	CreatedAt      time.Time
}

// TransferResult is the outcome of one adapter lookup. Found=false with a nil
// error means no matching transfer yet; errors are transient and retried.
type TransferResult struct {
	Found         bool
	TxHash        string
	Confirmations int64
	Amount        decimal.Decimal
	Timestamp     time.Time
	BlockNumber   int64
}

// Adapter discovers matching token transfers for one or more networks.
type Adapter interface {
	FindTransfer(ctx context.Context, q *TransferQuery) (*TransferResult, error)
}

// amountTolerance accepts transfers at >= 99% of the required amount,
// covering decimal-scale rounding at the API boundary.
var amountTolerance = decimal.NewFromFloat(0.99)

// MeetsAmount reports whether got satisfies the tolerance band for required.
func MeetsAmount(got, required decimal.Decimal) bool {
	return got.GreaterThanOrEqual(required.Mul(amountTolerance))
}
