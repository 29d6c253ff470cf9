package grpcx

import (
	"encoding/base64"
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/krish858/xgate/x402"
)

func TestEncodeDecodeRequirements(t *testing.T) {
	requirement, err := x402.BuildRequirement(0.25, "base-sepolia", "/feed.v1.Feed/Get", "test feed", "0xRecipient")
	if err != nil {
		t.Fatalf("BuildRequirement failed: %v", err)
	}

	encoded, err := EncodeRequirements([]x402.Requirement{requirement})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("Not valid base64: %v", err)
	}

	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if decoded.X402Version != x402.ProtocolVersion {
		t.Errorf("Expected version %d, got %d", x402.ProtocolVersion, decoded.X402Version)
	}
	if decoded.Error != "payment required" {
		t.Errorf("Expected error 'payment required', got %q", decoded.Error)
	}
	if len(decoded.Accepts) != 1 {
		t.Fatalf("Expected 1 requirement, got %d", len(decoded.Accepts))
	}
	if decoded.Accepts[0].MaxAmountRequired != "250000" {
		t.Errorf("Expected amount 250000, got %s", decoded.Accepts[0].MaxAmountRequired)
	}
	if decoded.Accepts[0].PayTo != "0xRecipient" {
		t.Errorf("Expected recipient 0xRecipient, got %s", decoded.Accepts[0].PayTo)
	}
}

func TestDecodeRequirementsInvalidBase64(t *testing.T) {
	if _, err := DecodeRequirements("not-base64!!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}
}

func TestExtractPayment(t *testing.T) {
	encoded, err := x402.EncodePayment(grpcTestPayload("base-sepolia", "0xRecipient", "250000"))
	if err != nil {
		t.Fatalf("Failed to encode payment: %v", err)
	}

	md := metadata.Pairs(MetadataKeyPayment, encoded)
	payment, err := ExtractPayment(md)
	if err != nil {
		t.Fatalf("Failed to extract payment: %v", err)
	}
	if payment.Network != "base-sepolia" {
		t.Errorf("Expected network base-sepolia, got %s", payment.Network)
	}
	if payment.Payload.Authorization.Value != "250000" {
		t.Errorf("Expected value 250000, got %s", payment.Payload.Authorization.Value)
	}
}

func TestExtractPaymentMissing(t *testing.T) {
	if _, err := ExtractPayment(metadata.MD{}); err == nil {
		t.Error("Expected error when payment metadata is absent")
	}
}

func TestExtractReceipt(t *testing.T) {
	encoded, err := x402.EncodeSettleResponse(&x402.SettleResponse{
		Success:     true,
		Transaction: "0xabc",
		Network:     "base-sepolia",
		Payer:       "0xPayer",
	})
	if err != nil {
		t.Fatalf("Failed to encode receipt: %v", err)
	}

	md := metadata.Pairs(MetadataKeyPaymentResponse, encoded)
	receipt, err := ExtractReceipt(md)
	if err != nil {
		t.Fatalf("Failed to extract receipt: %v", err)
	}
	if receipt.Transaction != "0xabc" {
		t.Errorf("Expected transaction 0xabc, got %s", receipt.Transaction)
	}
}
