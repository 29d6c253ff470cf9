// Package x402 implements the pieces of the x402 payment protocol that the
// gateway needs: building payment requirements for a priced resource,
// decoding and matching caller-supplied payment payloads, and talking to an
// external facilitator service for verification and settlement.
package x402

// ProtocolVersion is the x402 protocol version spoken by this gateway.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme the gateway issues requirements for.
const SchemeExact = "exact"

// Requirement describes the exact payment a caller must present for a
// resource: atomic amount, asset contract, recipient and network.
type Requirement struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"` // atomic units
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description"`
	MimeType          string                 `json:"mimeType"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Asset             string                 `json:"asset"` // token contract address
	OutputSchema      map[string]interface{} `json:"outputSchema,omitempty"`
	Extra             *AssetMetadata         `json:"extra,omitempty"`
}

// AssetMetadata carries the EIP-712 domain fields of the settlement asset.
type AssetMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PaymentPayload is a decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int              `json:"x402Version"`
	Scheme      string           `json:"scheme"`
	Network     string           `json:"network"`
	Payload     *ExactEVMPayload `json:"payload"`
}

// ExactEVMPayload is the scheme-specific payload for "exact" payments on
// EVM chains, following EIP-3009 transferWithAuthorization.
type ExactEVMPayload struct {
	Signature     string         `json:"signature"`
	Authorization *Authorization `json:"authorization"`
}

// Authorization contains the EIP-3009 authorization parameters.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // atomic units
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// VerifyResponse is the facilitator's answer to a verification request.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settlement request. The
// encoded form doubles as the receipt handed back to the caller.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
}

// SupportedKind is a scheme+network pair the facilitator can handle.
type SupportedKind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// SupportedResponse is returned by the facilitator's supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// PaymentRequiredResponse is the JSON body of a 402 response, and the shape
// pushed over a websocket before closing on a payment failure.
type PaymentRequiredResponse struct {
	X402Version int           `json:"x402Version"`
	Error       string        `json:"error"`
	Accepts     []Requirement `json:"accepts"`
	Payer       string        `json:"payer,omitempty"`
}
