// Package grpcx gates gRPC upstreams with the same verify/forward/settle
// flow the HTTP gateway applies, signalled over gRPC metadata instead of
// headers. Owners exposing a gRPC service (directly or behind grpc-gateway)
// install the interceptors on their server.
package grpcx

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/krish858/xgate/x402"
)

// Facilitator is the verify/settle surface the interceptors call.
type Facilitator interface {
	Verify(ctx context.Context, payment *x402.PaymentPayload, req *x402.Requirement) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payment *x402.PaymentPayload, req *x402.Requirement) (*x402.SettleResponse, error)
}

// RequirementFunc maps a full gRPC method name to its payment requirement.
// Returning false exempts the method from payment.
type RequirementFunc func(fullMethod string) (*x402.Requirement, bool)

// Options configures the interceptors.
type Options struct {
	Facilitator Facilitator
	Requirement RequirementFunc
	Logger      zerolog.Logger
}

func (o Options) validate() error {
	if o.Facilitator == nil {
		return fmt.Errorf("grpcx: Facilitator is required")
	}
	if o.Requirement == nil {
		return fmt.Errorf("grpcx: Requirement is required")
	}
	return nil
}

// PaymentContext is attached to the handler context once the proof is
// verified. The settlement receipt travels in the trailer instead, since
// settlement completes after the handler ran.
type PaymentContext struct {
	Payer   string
	Network string
	Amount  string
}

type paymentCtxKey struct{}

// FromContext returns the verified payment, if any.
func FromContext(ctx context.Context) (*PaymentContext, bool) {
	pc, ok := ctx.Value(paymentCtxKey{}).(*PaymentContext)
	return pc, ok
}

// UnaryServerInterceptor enforces payment on priced unary methods:
// verify before the handler, settle after it returned, receipt in the
// trailer. Settlement failure does not fail the call.
func UnaryServerInterceptor(opts Options) grpc.UnaryServerInterceptor {
	if err := opts.validate(); err != nil {
		panic(err)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requirement, priced := opts.Requirement(info.FullMethod)
		if !priced {
			return handler(ctx, req)
		}

		payment, err := paymentFromIncoming(ctx, requirement)
		if err != nil {
			return nil, err
		}

		if stErr := verify(ctx, opts, payment, requirement, info.FullMethod); stErr != nil {
			return nil, stErr
		}

		pc := &PaymentContext{
			Payer:   payment.Payload.Authorization.From,
			Network: payment.Network,
			Amount:  requirement.MaxAmountRequired,
		}
		ctx = context.WithValue(ctx, paymentCtxKey{}, pc)

		resp, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}

		// Delivery succeeded; settle best effort.
		if encoded, ok := settle(ctx, opts, payment, requirement, info.FullMethod); ok {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(MetadataKeyPaymentResponse, encoded))
		}

		return resp, nil
	}
}

// StreamServerInterceptor enforces payment on priced streaming methods.
// Like websocket sessions, a stream is billed once up front: verify and
// settle before the handler, receipt in the trailer.
func StreamServerInterceptor(opts Options) grpc.StreamServerInterceptor {
	if err := opts.validate(); err != nil {
		panic(err)
	}

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		requirement, priced := opts.Requirement(info.FullMethod)
		if !priced {
			return handler(srv, ss)
		}

		ctx := ss.Context()
		payment, err := paymentFromIncoming(ctx, requirement)
		if err != nil {
			return err
		}

		if stErr := verify(ctx, opts, payment, requirement, info.FullMethod); stErr != nil {
			return stErr
		}

		pc := &PaymentContext{
			Payer:   payment.Payload.Authorization.From,
			Network: payment.Network,
			Amount:  requirement.MaxAmountRequired,
		}
		ctx = context.WithValue(ctx, paymentCtxKey{}, pc)

		wrapped := &paymentServerStream{ServerStream: ss, ctx: ctx}
		if encoded, ok := settle(ctx, opts, payment, requirement, info.FullMethod); ok {
			wrapped.SetTrailer(metadata.Pairs(MetadataKeyPaymentResponse, encoded))
		}

		return handler(srv, wrapped)
	}
}

// paymentFromIncoming extracts and decodes the proof, mapping the two
// pre-verification failures to their statuses: missing proof carries the
// requirements, malformed proof is InvalidArgument with no facilitator call.
func paymentFromIncoming(ctx context.Context, requirement *x402.Requirement) (*x402.PaymentPayload, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md.Get(MetadataKeyPayment)) == 0 {
		return nil, paymentRequired(requirement)
	}
	payment, err := x402.DecodePayment(md.Get(MetadataKeyPayment)[0])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("invalid payment: %v", err))
	}
	return payment, nil
}

func verify(ctx context.Context, opts Options, payment *x402.PaymentPayload, requirement *x402.Requirement, method string) error {
	result, err := opts.Facilitator.Verify(ctx, payment, requirement)
	if err != nil {
		// Facilitator downtime never grants access.
		opts.Logger.Error().Err(err).Str("method", method).Msg("payment verification unreachable")
		return status.Error(codes.ResourceExhausted, "payment could not be verified")
	}
	if !result.IsValid {
		opts.Logger.Info().
			Str("method", method).
			Str("reason", result.InvalidReason).
			Str("payer", result.Payer).
			Msg("payment rejected")
		return status.Error(codes.ResourceExhausted, fmt.Sprintf("payment rejected: %s", result.InvalidReason))
	}
	return nil
}

// settle runs settlement and encodes the receipt. Failures are logged and
// swallowed; the caller already got, or will get, the response.
func settle(ctx context.Context, opts Options, payment *x402.PaymentPayload, requirement *x402.Requirement, method string) (string, bool) {
	resp, err := opts.Facilitator.Settle(ctx, payment, requirement)
	if err != nil || !resp.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = resp.ErrorReason
		}
		opts.Logger.Warn().Str("method", method).Str("reason", reason).Msg("settlement failed after delivery")
		return "", false
	}
	encoded, err := x402.EncodeSettleResponse(resp)
	if err != nil {
		opts.Logger.Warn().Err(err).Msg("failed to encode settlement receipt")
		return "", false
	}
	return encoded, true
}

// paymentRequired returns a ResourceExhausted status whose message is the
// base64 payment-required response, following the billing/quota precedent
// for payment signalling over gRPC.
func paymentRequired(requirement *x402.Requirement) error {
	encoded, err := EncodeRequirements([]x402.Requirement{*requirement})
	if err != nil {
		return status.Error(codes.Internal, fmt.Sprintf("failed to encode payment requirements: %v", err))
	}
	return status.Error(codes.ResourceExhausted, encoded)
}

// paymentServerStream overrides the stream context with the payment context.
type paymentServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *paymentServerStream) Context() context.Context {
	return s.ctx
}
