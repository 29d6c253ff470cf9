package x402

import (
	"reflect"
	"testing"
)

func TestBuildRequirement(t *testing.T) {
	req, err := BuildRequirement(0.05, "base-sepolia", "https://gate.test/api/x402/abc", "Weather API", "0xOwner")
	if err != nil {
		t.Fatalf("BuildRequirement returned error: %v", err)
	}

	if req.Scheme != "exact" {
		t.Errorf("expected scheme exact, got %q", req.Scheme)
	}
	if req.MaxAmountRequired != "50000" {
		t.Errorf("expected atomic amount 50000, got %q", req.MaxAmountRequired)
	}
	if req.MaxTimeoutSeconds != 60 {
		t.Errorf("expected maxTimeoutSeconds 60, got %d", req.MaxTimeoutSeconds)
	}
	if req.Asset != "0xEB466342C4d449BC9f53A865D5Cb90586f405215" {
		t.Errorf("unexpected asset address %q", req.Asset)
	}
	if req.PayTo != "0xOwner" {
		t.Errorf("expected payTo 0xOwner, got %q", req.PayTo)
	}
	if req.Extra == nil || req.Extra.Name != "USD Coin" || req.Extra.Version != "2" {
		t.Errorf("unexpected asset metadata: %+v", req.Extra)
	}
	if req.OutputSchema != nil {
		t.Errorf("expected no output schema, got %v", req.OutputSchema)
	}
}

func TestBuildRequirement_Deterministic(t *testing.T) {
	a, err := BuildRequirement(1.25, "base", "res", "desc", "0xOwner")
	if err != nil {
		t.Fatalf("BuildRequirement returned error: %v", err)
	}
	b, err := BuildRequirement(1.25, "base", "res", "desc", "0xOwner")
	if err != nil {
		t.Fatalf("BuildRequirement returned error: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same inputs produced different requirements: %+v vs %+v", a, b)
	}
}

func TestBuildRequirement_UnsupportedNetwork(t *testing.T) {
	_, err := BuildRequirement(0.05, "solana-devnet", "res", "desc", "0xOwner")
	if err == nil {
		t.Fatal("expected error for unsupported network")
	}
	if ErrorCode(err) != ErrCodeNetworkNotSupported {
		t.Errorf("expected NETWORK_NOT_SUPPORTED, got %q", ErrorCode(err))
	}
}

func TestAtomicAmount(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		decimals int
		want     string
	}{
		{"five cents", 0.05, 6, "50000"},
		{"ten cents", 0.10, 6, "100000"},
		{"whole dollar", 1, 6, "1000000"},
		{"floors remainder", 0.0000019, 6, "1"},
		{"zero", 0, 6, "0"},
		{"negative clamps to zero", -1, 6, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AtomicAmount(tt.price, tt.decimals); got != tt.want {
				t.Errorf("AtomicAmount(%v, %d) = %q, want %q", tt.price, tt.decimals, got, tt.want)
			}
		})
	}
}
