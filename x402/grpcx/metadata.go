package grpcx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/metadata"

	"github.com/krish858/xgate/x402"
)

// Metadata keys of the x402 gRPC binding. They mirror the HTTP headers:
// x402-payment carries the proof, x402-payment-response the receipt.
const (
	MetadataKeyPayment             = "x402-payment"
	MetadataKeyPaymentRequirements = "x402-payment-requirements"
	MetadataKeyPaymentResponse     = "x402-payment-response"
)

// EncodeRequirements encodes a payment-required response to base64 JSON for
// transport in metadata or a status message.
func EncodeRequirements(requirements []x402.Requirement) (string, error) {
	response := x402.PaymentRequiredResponse{
		X402Version: x402.ProtocolVersion,
		Error:       "payment required",
		Accepts:     requirements,
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeRequirements decodes a base64 JSON payment-required response.
func DecodeRequirements(encoded string) (*x402.PaymentRequiredResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	var response x402.PaymentRequiredResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment requirements: %w", err)
	}
	return &response, nil
}

// ExtractPayment decodes the payment proof from incoming metadata.
func ExtractPayment(md metadata.MD) (*x402.PaymentPayload, error) {
	values := md.Get(MetadataKeyPayment)
	if len(values) == 0 {
		return nil, fmt.Errorf("no payment found in metadata")
	}
	return x402.DecodePayment(values[0])
}

// ExtractRequirements decodes payment requirements from metadata. Clients
// use this after a payment-required status to build their proof.
func ExtractRequirements(md metadata.MD) (*x402.PaymentRequiredResponse, error) {
	values := md.Get(MetadataKeyPaymentRequirements)
	if len(values) == 0 {
		return nil, fmt.Errorf("no payment requirements found in metadata")
	}
	return DecodeRequirements(values[0])
}

// ExtractReceipt decodes the settlement receipt from trailer metadata.
func ExtractReceipt(md metadata.MD) (*x402.SettleResponse, error) {
	values := md.Get(MetadataKeyPaymentResponse)
	if len(values) == 0 {
		return nil, fmt.Errorf("no settlement receipt found in metadata")
	}
	return x402.DecodeSettleResponse(values[0])
}
