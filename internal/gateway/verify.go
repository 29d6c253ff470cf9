// Package gateway contains the payment-gated proxies: the request gateway
// for per-call HTTP resources and the session gateway for per-session
// websocket resources, plus the registry tracking live sessions.
package gateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/krish858/xgate/x402"
)

// Facilitator is the external verifier/settler consumed by both gateways.
// Implemented by x402.FacilitatorClient; faked in tests.
type Facilitator interface {
	Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.Requirement) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.Requirement) (*x402.SettleResponse, error)
}

// checker runs the shared decode -> match -> verify pipeline. It holds no
// per-call state.
type checker struct {
	fac     Facilitator
	log     zerolog.Logger
	metrics *Metrics
}

// accepted is the result of a successful verification.
type accepted struct {
	payment *x402.PaymentPayload
	matched x402.Requirement
}

// rejected explains why a payment was not accepted. Malformed proofs never
// reach the facilitator.
type rejected struct {
	cause  string // causeMalformed or causeInvalid
	reason string
	payer  string
}

// check decodes the raw payment proof, matches it against the candidate
// requirements and asks the facilitator to verify it. A facilitator
// transport error is reported as a rejection: verifier downtime must never
// grant access.
func (c *checker) check(ctx context.Context, kind, rawPayment string, requirements []x402.Requirement) (*accepted, *rejected) {
	payment, err := x402.DecodePayment(rawPayment)
	if err != nil {
		c.metrics.PaymentsRejected.WithLabelValues(kind, causeMalformed).Inc()
		c.log.Debug().Err(err).Str("kind", kind).Msg("malformed payment header")
		return nil, &rejected{cause: causeMalformed, reason: "invalid payment"}
	}

	matched, ok := x402.FindMatchingRequirement(requirements, payment)
	if !ok {
		// Policy inherited from the original system: an unmatched proof is
		// still tried against the first candidate instead of being
		// rejected outright.
		matched = requirements[0]
		c.metrics.MatchFallbacks.Inc()
		c.log.Warn().
			Str("kind", kind).
			Str("network", payment.Network).
			Str("scheme", payment.Scheme).
			Msg("payment matched no requirement, falling back to first candidate")
	}

	resp, err := c.fac.Verify(ctx, payment, &matched)
	if err != nil {
		c.metrics.PaymentsRejected.WithLabelValues(kind, causeInvalid).Inc()
		c.log.Error().Err(err).Str("kind", kind).Msg("facilitator verify failed")
		return nil, &rejected{cause: causeInvalid, reason: "payment could not be verified"}
	}
	if !resp.IsValid {
		c.metrics.PaymentsRejected.WithLabelValues(kind, causeInvalid).Inc()
		c.log.Info().
			Str("kind", kind).
			Str("reason", resp.InvalidReason).
			Str("payer", resp.Payer).
			Msg("payment rejected by facilitator")
		return nil, &rejected{cause: causeInvalid, reason: resp.InvalidReason, payer: resp.Payer}
	}

	c.metrics.PaymentsVerified.WithLabelValues(kind).Inc()
	return &accepted{payment: payment, matched: matched}, nil
}
