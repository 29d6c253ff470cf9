package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// DecodePayment parses an X-PAYMENT header (base64-encoded JSON) into a
// PaymentPayload and stamps it with the protocol version in use. It is a
// pure function: a malformed header must be rejected here, before any
// facilitator call is made.
func DecodePayment(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	var payment PaymentPayload
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if payment.Scheme == "" {
		return nil, fmt.Errorf("scheme is required")
	}
	if payment.Network == "" {
		return nil, fmt.Errorf("network is required")
	}
	if payment.Payload == nil {
		return nil, fmt.Errorf("payload is required")
	}
	if payment.Payload.Signature == "" {
		return nil, fmt.Errorf("signature is required")
	}
	auth := payment.Payload.Authorization
	if auth == nil {
		return nil, fmt.Errorf("authorization is required")
	}
	if auth.From == "" || auth.To == "" || auth.Value == "" || auth.Nonce == "" {
		return nil, fmt.Errorf("authorization missing required fields")
	}

	payment.X402Version = ProtocolVersion
	return &payment, nil
}

// EncodePayment encodes a PaymentPayload to X-PAYMENT header format.
// Useful for clients and tests.
func EncodePayment(payment *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// FindMatchingRequirement selects the requirement the decoded payment was
// authorized against: same scheme and network, same recipient, and an
// authorized value covering the required amount. The second return is false
// when nothing matches; callers fall back to the first candidate in that
// case, and should make the fallback observable.
func FindMatchingRequirement(requirements []Requirement, payment *PaymentPayload) (Requirement, bool) {
	for _, req := range requirements {
		if req.Scheme != payment.Scheme || req.Network != payment.Network {
			continue
		}
		if payment.Payload == nil || payment.Payload.Authorization == nil {
			continue
		}
		auth := payment.Payload.Authorization
		if auth.To != req.PayTo {
			continue
		}
		if !coversAmount(auth.Value, req.MaxAmountRequired) {
			continue
		}
		return req, true
	}
	return Requirement{}, false
}

// coversAmount reports whether the authorized atomic value is at least the
// required atomic amount. Unparseable values never match.
func coversAmount(value, required string) bool {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return false
	}
	r, ok := new(big.Int).SetString(required, 10)
	if !ok {
		return false
	}
	return v.Cmp(r) >= 0
}

// EncodeSettleResponse encodes a settlement receipt for transport in the
// X-PAYMENT-RESPONSE header or a websocket message field.
func EncodeSettleResponse(resp *SettleResponse) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettleResponse decodes an encoded settlement receipt.
func DecodeSettleResponse(encoded string) (*SettleResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	var resp SettleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &resp, nil
}
