package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/stablegate/stablegate/internal/pkg/chains"
)

const maxTransfers = 50

var networkEndpoints = map[chains.Network]string{
	chains.NetworkArbitrum: "https://arb-mainnet.g.alchemy.com/v2/",
	chains.NetworkEthereum: "https://eth-mainnet.g.alchemy.com/v2/",
}

// Adapter finds ERC-20 transfers on one EVM network through the Alchemy
// transfers API.
type Adapter struct {
	network chains.Network
	cfg     chains.Config
	client  *rpc.Client
}

// NewAdapter dials the Alchemy endpoint for the network. endpointOverride is
// for tests; pass "" in production.
func NewAdapter(network chains.Network, apiKey, endpointOverride string) (*Adapter, error) {
	if !network.IsEVM() {
		return nil, fmt.Errorf("evm: network %s is not an EVM chain", network)
	}
	cfg, err := chains.ConfigFor(network)
	if err != nil {
		return nil, err
	}
	endpoint := endpointOverride
	if endpoint == "" {
		base, ok := networkEndpoints[network]
		if !ok {
			return nil, fmt.Errorf("evm: no endpoint for network %s", network)
		}
		if strings.TrimSpace(apiKey) == "" {
			return nil, fmt.Errorf("evm: API key is required for network %s", network)
		}
		endpoint = base + strings.TrimSpace(apiKey)
	}
	client, err := rpc.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", network, err)
	}
	return &Adapter{network: network, cfg: cfg, client: client}, nil
}

// Close releases the underlying RPC connection.
func (a *Adapter) Close() {
	a.client.Close()
}

type assetTransfersParams struct {
	FromBlock         string   `json:"fromBlock"`
	ToBlock           string   `json:"toBlock"`
	FromAddress       string   `json:"fromAddress"`
	ToAddress         string   `json:"toAddress"`
	ContractAddresses []string `json:"contractAddresses"`
	Category          []string `json:"category"`
	WithMetadata      bool     `json:"withMetadata"`
	MaxCount          string   `json:"maxCount"`
	Order             string   `json:"order"`
}

type assetTransfersResult struct {
	Transfers []assetTransfer `json:"transfers"`
}

type assetTransfer struct {
	BlockNum    string `json:"blockNum"`
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	RawContract struct {
		Value   string `json:"value"`
		Address string `json:"address"`
	} `json:"rawContract"`
	Metadata struct {
		BlockTimestamp string `json:"blockTimestamp"`
	} `json:"metadata"`
}

// FindTransfer asks Alchemy for recent transfers sender->receiver on the
// token contract and accepts the newest one that clears the amount tolerance
// and the confirmation depth.
func (a *Adapter) FindTransfer(ctx context.Context, q *chains.TransferQuery) (*chains.TransferResult, error) {
	contract, err := chains.ContractFor(a.network, q.Token)
	if err != nil {
		return nil, err
	}

	params := assetTransfersParams{
		FromBlock:         "0x0",
		ToBlock:           "latest",
		FromAddress:       q.SenderAddress,
		ToAddress:         q.ReceiverAddress,
		ContractAddresses: []string{contract},
		Category:          []string{"erc20"},
		WithMetadata:      true,
		MaxCount:          hexutil.EncodeUint64(maxTransfers),
		Order:             "desc",
	}

	var result assetTransfersResult
	if err := a.client.CallContext(ctx, &result, "alchemy_getAssetTransfers", params); err != nil {
		return nil, fmt.Errorf("evm: getAssetTransfers on %s: %w", a.network, err)
	}
	if len(result.Transfers) == 0 {
		return &chains.TransferResult{Found: false}, nil
	}

	currentBlock, err := a.currentBlock(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range result.Transfers {
		ts, err := time.Parse(time.RFC3339, t.Metadata.BlockTimestamp)
		if err != nil {
			log.Debugf("[EVM %s] skipping transfer %s: bad timestamp %q", a.network, t.Hash, t.Metadata.BlockTimestamp)
			continue
		}
		// The chain block timestamp is authoritative; the guard is inclusive.
		if ts.Before(q.CreatedAt) {
			continue
		}

		amount, err := a.transferAmount(t)
		if err != nil {
			log.Debugf("[EVM %s] skipping transfer %s: %v", a.network, t.Hash, err)
			continue
		}
		if !chains.MeetsAmount(amount, q.RequiredAmount) {
			continue
		}

		blockNum, err := hexutil.DecodeUint64(t.BlockNum)
		if err != nil {
			continue
		}
		confirmations := int64(currentBlock) - int64(blockNum) + 1
		if confirmations < a.cfg.MinConfirmations {
			// Transfer exists but is too shallow; report not found and let
			// the next tick re-check.
			continue
		}

		return &chains.TransferResult{
			Found:         true,
			TxHash:        t.Hash,
			Confirmations: confirmations,
			Amount:        amount,
			Timestamp:     ts,
			BlockNumber:   int64(blockNum),
		}, nil
	}

	return &chains.TransferResult{Found: false}, nil
}

func (a *Adapter) currentBlock(ctx context.Context) (uint64, error) {
	var raw string
	if err := a.client.CallContext(ctx, &raw, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("evm: blockNumber on %s: %w", a.network, err)
	}
	n, err := hexutil.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("evm: decode block number %q: %w", raw, err)
	}
	return n, nil
}

func (a *Adapter) transferAmount(t assetTransfer) (decimal.Decimal, error) {
	raw := strings.TrimSpace(t.RawContract.Value)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("transfer without raw value")
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(raw, "0x"), 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("bad raw value %q", raw)
	}
	return decimal.NewFromBigInt(v, -a.cfg.Decimals), nil
}
