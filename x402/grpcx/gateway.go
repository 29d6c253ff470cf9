package grpcx

import (
	"context"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
)

// Metadata keys WithPaymentMetadata propagates to the gRPC side.
const (
	mdKeyVerified = "x-payment-verified"
	mdKeyPayer    = "x-payment-payer"
	mdKeyAmount   = "x-payment-amount"
	mdKeyNetwork  = "x-payment-network"
)

// ContextWithPayment attaches a verified payment to the request context.
// HTTP middleware sitting in front of a grpc-gateway mux calls this after
// verification so WithPaymentMetadata can forward the details.
func ContextWithPayment(ctx context.Context, pc *PaymentContext) context.Context {
	return context.WithValue(ctx, paymentCtxKey{}, pc)
}

// WithPaymentMetadata returns a ServeMuxOption that forwards the verified
// payment from the HTTP context into gRPC metadata, making it visible to
// handlers via FromIncomingMetadata.
func WithPaymentMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, r *http.Request) metadata.MD {
		md := metadata.MD{}
		pc, ok := FromContext(ctx)
		if !ok || pc == nil {
			return md
		}
		md.Set(mdKeyVerified, "true")
		md.Set(mdKeyPayer, pc.Payer)
		md.Set(mdKeyNetwork, pc.Network)
		if pc.Amount != "" {
			md.Set(mdKeyAmount, pc.Amount)
		}
		return md
	})
}

// FromIncomingMetadata reconstructs the payment context propagated by
// WithPaymentMetadata. Returns false when the request was not verified.
func FromIncomingMetadata(ctx context.Context) (*PaymentContext, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}
	verified := md.Get(mdKeyVerified)
	if len(verified) == 0 || verified[0] != "true" {
		return nil, false
	}
	pc := &PaymentContext{}
	if v := md.Get(mdKeyPayer); len(v) > 0 {
		pc.Payer = v[0]
	}
	if v := md.Get(mdKeyNetwork); len(v) > 0 {
		pc.Network = v[0]
	}
	if v := md.Get(mdKeyAmount); len(v) > 0 {
		pc.Amount = v[0]
	}
	return pc, true
}
