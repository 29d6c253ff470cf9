package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/krish858/xgate/x402"
)

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writePaymentRequired writes the 402 body carrying the requirement list,
// the protocol version and, when known, the payer the rejection applies to.
func writePaymentRequired(w http.ResponseWriter, reason string, accepts []x402.Requirement, payer string) {
	writeJSONStatus(w, http.StatusPaymentRequired, x402.PaymentRequiredResponse{
		X402Version: x402.ProtocolVersion,
		Error:       reason,
		Accepts:     accepts,
		Payer:       payer,
	})
}
