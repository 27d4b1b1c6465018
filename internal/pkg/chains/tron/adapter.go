package tron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/stablegate/stablegate/internal/pkg/chains"
)

const (
	defaultBaseURL = "https://api.trongrid.io"
	maxTransfers   = 50
)

// Adapter finds TRC-20 transfers through the TronGrid REST API.
type Adapter struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	cfg        chains.Config
}

// NewAdapter builds a Tron adapter. baseURL and apiKey may be empty; the
// public endpoint works without a key at lower rate limits.
func NewAdapter(baseURL, apiKey string) *Adapter {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	cfg, _ := chains.ConfigFor(chains.NetworkTron)
	return &Adapter{
		BaseURL: base,
		APIKey:  strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cfg: cfg,
	}
}

type trc20Response struct {
	Data []trc20Transfer `json:"data"`
}

type trc20Transfer struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
	TokenInfo      struct {
		Decimals int32 `json:"decimals"`
	} `json:"token_info"`
}

// FindTransfer queries the receiver's recent TRC-20 inbound transfers and
// accepts the newest one from the sender that clears the amount tolerance and
// confirmation depth.
func (a *Adapter) FindTransfer(ctx context.Context, q *chains.TransferQuery) (*chains.TransferResult, error) {
	contract, err := chains.ContractFor(chains.NetworkTron, q.Token)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("only_to", "true")
	params.Set("contract_address", contract)
	params.Set("min_timestamp", strconv.FormatInt(q.CreatedAt.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(maxTransfers))
	params.Set("order_by", "block_timestamp,desc")

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", a.BaseURL, q.ReceiverAddress, params.Encode())
	var resp trc20Response
	if err := a.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("tron: list trc20 transfers: %w", err)
	}
	if len(resp.Data) == 0 {
		return &chains.TransferResult{Found: false}, nil
	}

	for _, t := range resp.Data {
		// Tron addresses are base58 and case-significant, but the API has
		// returned mixed casing historically; compare case-insensitively.
		if !strings.EqualFold(t.From, q.SenderAddress) {
			continue
		}

		amount, err := a.transferAmount(t)
		if err != nil {
			log.Debugf("[Tron] skipping transfer %s: %v", t.TransactionID, err)
			continue
		}
		if !chains.MeetsAmount(amount, q.RequiredAmount) {
			continue
		}

		confirmations, blockNumber, err := a.confirmations(ctx, t.TransactionID)
		if err != nil {
			return nil, err
		}
		if confirmations < a.cfg.MinConfirmations {
			continue
		}

		return &chains.TransferResult{
			Found:         true,
			TxHash:        t.TransactionID,
			Confirmations: confirmations,
			Amount:        amount,
			Timestamp:     time.UnixMilli(t.BlockTimestamp).UTC(),
			BlockNumber:   blockNumber,
		}, nil
	}

	return &chains.TransferResult{Found: false}, nil
}

func (a *Adapter) transferAmount(t trc20Transfer) (decimal.Decimal, error) {
	raw := strings.TrimSpace(t.Value)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("transfer without value")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("bad value %q", raw)
	}
	decimals := t.TokenInfo.Decimals
	if decimals == 0 {
		decimals = a.cfg.Decimals
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

// confirmations resolves the transfer's block via the transaction-info
// endpoint and compares it against the current block height, counting the
// transfer's own block.
func (a *Adapter) confirmations(ctx context.Context, txID string) (int64, int64, error) {
	var info struct {
		BlockNumber int64 `json:"blockNumber"`
	}
	if err := a.postJSON(ctx, a.BaseURL+"/wallet/gettransactioninfobyid", map[string]string{"value": txID}, &info); err != nil {
		return 0, 0, fmt.Errorf("tron: transaction info %s: %w", txID, err)
	}
	if info.BlockNumber == 0 {
		return 0, 0, nil
	}

	var now struct {
		BlockHeader struct {
			RawData struct {
				Number int64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := a.postJSON(ctx, a.BaseURL+"/wallet/getnowblock", map[string]string{}, &now); err != nil {
		return 0, 0, fmt.Errorf("tron: now block: %w", err)
	}

	return now.BlockHeader.RawData.Number - info.BlockNumber + 1, info.BlockNumber, nil
}

func (a *Adapter) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return a.doJSON(req, out)
}

func (a *Adapter) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.doJSON(req, out)
}

func (a *Adapter) doJSON(req *http.Request, out any) error {
	if a.APIKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", a.APIKey)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("trongrid status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
