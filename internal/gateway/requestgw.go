package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krish858/xgate/internal/store"
	"github.com/krish858/xgate/x402"
)

// Header names of the x402 HTTP binding.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderPaymentWarning  = "X-PAYMENT-WARNING"
)

// CallEndpointPrefix is the path prefix of generated call-resource endpoints.
const CallEndpointPrefix = "/api/x402/"

// hop-by-hop headers stripped when forwarding in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RequestGateway gates call resources: it derives the payment requirement,
// verifies the caller's proof, forwards the request upstream and settles
// after delivery. It keeps no state across calls.
type RequestGateway struct {
	store   store.Store
	fac     Facilitator
	checker checker
	log     zerolog.Logger
	metrics *Metrics
	client  *http.Client

	network string
	baseURL string // externally visible base URL; empty derives from the request
}

// NewRequestGateway wires a request gateway.
func NewRequestGateway(st store.Store, fac Facilitator, logger zerolog.Logger, m *Metrics, network, publicBaseURL string) *RequestGateway {
	return &RequestGateway{
		store:   st,
		fac:     fac,
		checker: checker{fac: fac, log: logger, metrics: m},
		log:     logger,
		metrics: m,
		client:  &http.Client{},
		network: network,
		baseURL: publicBaseURL,
	}
}

// Handle serves a generated call-resource endpoint. Mounted for every HTTP
// method at CallEndpointPrefix + "{id}".
func (g *RequestGateway) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint := CallEndpointPrefix + chi.URLParam(r, "id")

	res, err := g.store.GetCallResource(ctx, endpoint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "API not found"})
			return
		}
		g.log.Error().Err(err).Str("endpoint", endpoint).Msg("call resource lookup failed")
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	owner, err := g.store.GetUserByID(ctx, res.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "owner not found"})
			return
		}
		g.log.Error().Err(err).Str("endpoint", endpoint).Msg("owner lookup failed")
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	requirement, err := x402.BuildRequirement(
		res.PricePerRequest,
		g.network,
		g.resourceURL(r),
		res.Name,
		owner.PublicKey,
	)
	if err != nil {
		g.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to build payment requirement")
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	requirements := []x402.Requirement{requirement}

	rawPayment := r.Header.Get(HeaderPayment)
	if rawPayment == "" {
		g.metrics.PaymentsRejected.WithLabelValues(store.KindCall, causeMissing).Inc()
		writePaymentRequired(w, "X-PAYMENT header required", requirements, "")
		return
	}

	ok, rej := g.checker.check(ctx, store.KindCall, rawPayment, requirements)
	if rej != nil {
		writePaymentRequired(w, rej.reason, requirements, rej.payer)
		return
	}

	upstreamResp, err := g.forward(r, res)
	if err != nil {
		g.log.Error().Err(err).Str("endpoint", endpoint).Str("upstream", res.ServiceURL).Msg("upstream request failed")
		writeJSONStatus(w, http.StatusBadGateway, map[string]string{"error": "upstream request failed"})
		return
	}
	defer upstreamResp.Body.Close()

	// Delivery succeeded; settlement is best effort from here on.
	g.settle(r, res, ok, w.Header())

	copyHeaders(w.Header(), upstreamResp.Header)
	w.WriteHeader(upstreamResp.StatusCode)
	if _, err := io.Copy(w, upstreamResp.Body); err != nil {
		g.log.Debug().Err(err).Str("endpoint", endpoint).Msg("copying upstream body failed")
	}
}

// forward replays the inbound request against the resource's upstream URL,
// preserving method, body, query parameters and headers minus the payment
// header.
func (g *RequestGateway) forward(r *http.Request, res *store.CallResource) (*http.Response, error) {
	upstreamURL, err := url.Parse(res.ServiceURL)
	if err != nil {
		return nil, err
	}

	q := upstreamURL.Query()
	for key, values := range r.URL.Query() {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	upstreamURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, r.Header)
	req.Header.Del(HeaderPayment)

	return g.client.Do(req)
}

// settle finalizes the verified payment after the upstream response arrived.
// Failure never turns into an error status: the caller already got the
// upstream's answer, so billing degrades to a warning plus a reconciliation
// record.
func (g *RequestGateway) settle(r *http.Request, res *store.CallResource, ok *accepted, respHeader http.Header) {
	ctx := r.Context()

	settleResp, err := g.fac.Settle(ctx, ok.payment, &ok.matched)
	if err != nil || !settleResp.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = settleResp.ErrorReason
		}
		g.metrics.Settlements.WithLabelValues(store.KindCall, store.SettlementFailed).Inc()
		g.log.Warn().
			Str("endpoint", res.GeneratedEndpoint).
			Str("reason", reason).
			Msg("settlement failed after delivery")
		respHeader.Set(HeaderPaymentWarning, "settlement failed")
		g.recordSettlement(ctx, res, ok, "", store.SettlementFailed)
		return
	}

	encoded, err := x402.EncodeSettleResponse(settleResp)
	if err != nil {
		g.log.Warn().Err(err).Msg("failed to encode settlement receipt")
	} else {
		respHeader.Set(HeaderPaymentResponse, encoded)
	}

	if err := g.store.AddCallRevenue(ctx, res.ID, res.PricePerRequest); err != nil {
		g.log.Error().Err(err).Str("endpoint", res.GeneratedEndpoint).Msg("failed to record revenue")
	}
	g.metrics.Settlements.WithLabelValues(store.KindCall, store.SettlementOK).Inc()
	g.recordSettlement(ctx, res, ok, encoded, store.SettlementOK)
}

func (g *RequestGateway) recordSettlement(ctx context.Context, res *store.CallResource, ok *accepted, receipt, status string) {
	rec := &store.SettlementRecord{
		ResourceKind: store.KindCall,
		ResourceID:   res.ID,
		Amount:       res.PricePerRequest,
		Status:       status,
		Receipt:      receipt,
		Payer:        ok.payment.Payload.Authorization.From,
	}
	// The reconciliation record must survive a client disconnect.
	if err := g.store.RecordSettlement(context.WithoutCancel(ctx), rec); err != nil {
		g.log.Error().Err(err).Msg("failed to write settlement record")
	}
}

// resourceURL reconstructs the externally visible URL of the request for the
// requirement's resource field.
func (g *RequestGateway) resourceURL(r *http.Request) string {
	if g.baseURL != "" {
		return g.baseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(h) == http.CanonicalHeaderKey(key) {
			return true
		}
	}
	return false
}
