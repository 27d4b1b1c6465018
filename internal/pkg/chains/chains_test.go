package chains

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseNetwork(t *testing.T) {
	t.Parallel()

	cases := map[string]Network{
		"arbitrum":  NetworkArbitrum,
		"Ethereum":  NetworkEthereum,
		" TRON ":    NetworkTron,
		"ARBITRUM ": NetworkArbitrum,
	}
	for in, want := range cases {
		got, err := ParseNetwork(in)
		if err != nil {
			t.Fatalf("ParseNetwork(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseNetwork(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseNetwork("solana"); err == nil {
		t.Fatalf("expected error for unsupported network")
	}
	if _, err := ParseNetwork(""); err == nil {
		t.Fatalf("expected error for empty network")
	}
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	cases := map[string]Token{
		"usdt":  TokenUSDT,
		"USDC":  TokenUSDC,
		" Usdt": TokenUSDT,
	}
	for in, want := range cases {
		got, err := ParseToken(in)
		if err != nil {
			t.Fatalf("ParseToken(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseToken(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseToken("DAI"); err == nil {
		t.Fatalf("expected error for unsupported token")
	}
}

func TestIsEVM(t *testing.T) {
	t.Parallel()

	if !NetworkArbitrum.IsEVM() || !NetworkEthereum.IsEVM() {
		t.Fatalf("arbitrum and ethereum are EVM chains")
	}
	if NetworkTron.IsEVM() {
		t.Fatalf("tron is not an EVM chain")
	}
}

func TestMeetsAmount(t *testing.T) {
	t.Parallel()

	required := decimal.NewFromFloat(100)

	// 99 sits exactly on the tolerance floor, 98.999999 just below it.
	cases := []struct {
		got  string
		want bool
	}{
		{"100", true},
		{"100.000001", true},
		{"99", true},
		{"98.999999", false},
		{"50", false},
		{"0", false},
	}
	for _, tc := range cases {
		got := decimal.RequireFromString(tc.got)
		if MeetsAmount(got, required) != tc.want {
			t.Fatalf("MeetsAmount(%s, 100) = %v, want %v", tc.got, !tc.want, tc.want)
		}
	}
}
