package chains

import "fmt"

// Config is the static per-network chain configuration.
type Config struct {
	TokenContracts   map[Token]string
	Decimals         int32
	MinConfirmations int64
	ExplorerTxURL    string
	// Metadata surfaced by the networks endpoint.
	DisplayName        string
	FeeHint            string
	AvgConfirmDuration string
	Recommended        bool
}

var configs = map[Network]Config{
	NetworkArbitrum: {
		TokenContracts: map[Token]string{
			TokenUSDT: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
			TokenUSDC: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		},
		Decimals:           6,
		MinConfirmations:   3,
		ExplorerTxURL:      "https://arbiscan.io/tx/",
		DisplayName:        "Arbitrum One",
		FeeHint:            "< $0.10",
		AvgConfirmDuration: "~1 minute",
		Recommended:        true,
	},
	NetworkEthereum: {
		TokenContracts: map[Token]string{
			TokenUSDT: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			TokenUSDC: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		},
		Decimals:           6,
		MinConfirmations:   3,
		ExplorerTxURL:      "https://etherscan.io/tx/",
		DisplayName:        "Ethereum",
		FeeHint:            "$1 - $10",
		AvgConfirmDuration: "~1 minute",
		Recommended:        false,
	},
	NetworkTron: {
		TokenContracts: map[Token]string{
			TokenUSDT: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
			TokenUSDC: "TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8",
		},
		Decimals:           6,
		MinConfirmations:   19,
		ExplorerTxURL:      "https://tronscan.org/#/transaction/",
		DisplayName:        "Tron",
		FeeHint:            "< $1",
		AvgConfirmDuration: "~1 minute",
		Recommended:        true,
	},
}

// ConfigFor returns the static configuration for a network.
func ConfigFor(n Network) (Config, error) {
	cfg, ok := configs[n]
	if !ok {
		return Config{}, fmt.Errorf("no chain config for network %q", n)
	}
	return cfg, nil
}

// ContractFor returns the token contract address on the given network.
func ContractFor(n Network, t Token) (string, error) {
	cfg, err := ConfigFor(n)
	if err != nil {
		return "", err
	}
	addr, ok := cfg.TokenContracts[t]
	if !ok {
		return "", fmt.Errorf("token %s not configured on %s", t, n)
	}
	return addr, nil
}

// ExplorerTxLink builds the block-explorer link for a transaction hash.
func ExplorerTxLink(n Network, txHash string) string {
	cfg, ok := configs[n]
	if !ok {
		return ""
	}
	return cfg.ExplorerTxURL + txHash
}
