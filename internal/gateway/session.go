package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/krish858/xgate/internal/store"
	"github.com/krish858/xgate/x402"
)

// StreamEndpointPrefix is the path prefix of generated stream-resource
// endpoints.
const StreamEndpointPrefix = "/wss/"

// Close codes of the stream endpoint. Each failure cause gets a distinct
// code so client tooling can branch on it; 1011 (internal server error)
// covers everything unexpected, including an unreachable upstream.
const (
	CloseMissingID        = 4000
	CloseResourceNotFound = 4001
	ClosePaymentRequired  = 4002
	ClosePaymentMalformed = 4003
	CloseOwnerNotFound    = 4004
	ClosePaymentInvalid   = 4006
)

const closeWriteWait = 5 * time.Second

// sessionMessage is the JSON envelope pushed to stream clients.
type sessionMessage struct {
	Type               string `json:"type,omitempty"`
	Message            string `json:"message,omitempty"`
	Error              string `json:"error,omitempty"`
	Warning            string `json:"warning,omitempty"`
	Payer              string `json:"payer,omitempty"`
	SettlementResponse string `json:"settlementResponse,omitempty"`
}

// SessionGateway gates stream resources: it verifies payment once at
// connection establishment, relays traffic bidirectionally to the upstream
// websocket, settles once, and reminds the client to renew every session
// TTL.
type SessionGateway struct {
	store    store.Store
	fac      Facilitator
	checker  checker
	log      zerolog.Logger
	metrics  *Metrics
	registry *Registry

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	network string
	baseURL string
}

// NewSessionGateway wires a session gateway around the given registry.
func NewSessionGateway(st store.Store, fac Facilitator, logger zerolog.Logger, m *Metrics, registry *Registry, network, publicBaseURL string) *SessionGateway {
	return &SessionGateway{
		store:    st,
		fac:      fac,
		checker:  checker{fac: fac, log: logger, metrics: m},
		log:      logger,
		metrics:  m,
		registry: registry,
		upgrader: websocket.Upgrader{
			// The gateway fronts arbitrary registered services; origin
			// policy is the upstream's concern.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer:  websocket.DefaultDialer,
		network: network,
		baseURL: publicBaseURL,
	}
}

// Handle upgrades the connection and runs the session to completion. All
// pre-relay failures close the socket with their cause-specific code.
func (g *SessionGateway) Handle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// The proof travels as a query parameter: upgrade requests cannot
	// carry a custom payment header in this deployment.
	rawPayment := r.URL.Query().Get("payment")

	client, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	g.serve(client, r, id, rawPayment)
}

func (g *SessionGateway) serve(client *websocket.Conn, r *http.Request, id, rawPayment string) {
	// The session outlives any request deadline.
	ctx := context.Background()

	if id == "" {
		closeConn(client, CloseMissingID, "missing websocket id")
		return
	}
	endpoint := StreamEndpointPrefix + id

	res, err := g.store.GetStreamResource(ctx, endpoint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			closeConn(client, CloseResourceNotFound, "websocket not found")
		} else {
			g.log.Error().Err(err).Str("endpoint", endpoint).Msg("stream resource lookup failed")
			closeConn(client, websocket.CloseInternalServerErr, "internal server error")
		}
		return
	}

	if rawPayment == "" {
		g.metrics.PaymentsRejected.WithLabelValues(store.KindStream, causeMissing).Inc()
		sendJSON(client, sessionMessage{Error: "payment query parameter required"})
		closeConn(client, ClosePaymentRequired, "payment required")
		return
	}

	owner, err := g.store.GetUserByID(ctx, res.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			closeConn(client, CloseOwnerNotFound, "owner not found")
		} else {
			g.log.Error().Err(err).Str("endpoint", endpoint).Msg("owner lookup failed")
			closeConn(client, websocket.CloseInternalServerErr, "internal server error")
		}
		return
	}

	requirement, err := x402.BuildRequirement(
		res.PricePerMinute,
		g.network,
		g.resourceURL(r, endpoint),
		res.Name,
		owner.PublicKey,
	)
	if err != nil {
		g.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to build payment requirement")
		closeConn(client, websocket.CloseInternalServerErr, "internal server error")
		return
	}
	requirements := []x402.Requirement{requirement}

	ok, rej := g.checker.check(ctx, store.KindStream, rawPayment, requirements)
	if rej != nil {
		sendJSON(client, sessionMessage{Error: rej.reason, Payer: rej.payer})
		if rej.cause == causeMalformed {
			closeConn(client, ClosePaymentMalformed, "invalid payment")
		} else {
			closeConn(client, ClosePaymentInvalid, "payment invalid")
		}
		return
	}

	upstream, _, err := g.dialer.Dial(res.ServiceURL, nil)
	if err != nil {
		g.log.Error().Err(err).Str("endpoint", endpoint).Str("upstream", res.ServiceURL).Msg("upstream dial failed")
		closeConn(client, websocket.CloseInternalServerErr, "upstream unreachable")
		return
	}

	sess := &Session{
		ID:          id,
		Client:      client,
		Upstream:    upstream,
		stopRenewal: make(chan struct{}),
	}
	if prev := g.registry.Put(sess); prev != nil {
		// At most one tracked session per resource id; the older entry
		// keeps running but is no longer cancellable through the registry.
		g.log.Warn().Str("id", id).Msg("replacing tracked session for resource")
	}
	g.metrics.ActiveSessions.Inc()
	g.log.Info().Str("endpoint", endpoint).Msg("proxy session established")

	sess.writeJSON(sessionMessage{Message: "connected via xGate proxy"})

	g.settleSession(ctx, res, ok, sess)

	ttl := res.SessionTTLSeconds
	if ttl <= 0 {
		ttl = 60
	}
	go g.renewalLoop(sess, time.Duration(ttl)*time.Second)

	g.relay(sess)
	g.teardown(sess)
}

// settleSession finalizes the payment once, right after the upstream
// connection opened. Failure keeps the session alive: traffic is already
// flowing, so the client gets a warning and operators get a failed
// settlement record.
func (g *SessionGateway) settleSession(ctx context.Context, res *store.StreamResource, ok *accepted, sess *Session) {
	rec := &store.SettlementRecord{
		ResourceKind: store.KindStream,
		ResourceID:   res.ID,
		Amount:       res.PricePerMinute,
		Payer:        ok.payment.Payload.Authorization.From,
	}

	settleResp, err := g.fac.Settle(ctx, ok.payment, &ok.matched)
	if err != nil || !settleResp.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = settleResp.ErrorReason
		}
		g.metrics.Settlements.WithLabelValues(store.KindStream, store.SettlementFailed).Inc()
		g.log.Warn().Str("endpoint", res.GeneratedEndpoint).Str("reason", reason).Msg("session settlement failed")
		sess.writeJSON(sessionMessage{Warning: "settlement failed"})

		rec.Status = store.SettlementFailed
		if err := g.store.RecordSettlement(ctx, rec); err != nil {
			g.log.Error().Err(err).Msg("failed to write settlement record")
		}
		return
	}

	if err := g.store.AddStreamRevenue(ctx, res.ID, res.PricePerMinute); err != nil {
		g.log.Error().Err(err).Str("endpoint", res.GeneratedEndpoint).Msg("failed to record revenue")
	}

	encoded, err := x402.EncodeSettleResponse(settleResp)
	if err != nil {
		g.log.Warn().Err(err).Msg("failed to encode settlement receipt")
	}
	g.metrics.Settlements.WithLabelValues(store.KindStream, store.SettlementOK).Inc()
	g.log.Info().Str("endpoint", res.GeneratedEndpoint).Msg("session payment settled")
	sess.writeJSON(sessionMessage{Type: "payment-settled", SettlementResponse: encoded})

	rec.Status = store.SettlementOK
	rec.Receipt = encoded
	if err := g.store.RecordSettlement(ctx, rec); err != nil {
		g.log.Error().Err(err).Msg("failed to write settlement record")
	}
}

// renewalLoop pushes an advisory renewal reminder every interval. It never
// re-verifies payment or closes the session.
func (g *SessionGateway) renewalLoop(sess *Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stopRenewal:
			return
		case <-ticker.C:
			if err := sess.writeJSON(sessionMessage{Message: "subscription expiring, please renew payment"}); err != nil {
				return
			}
		}
	}
}

// relay copies messages in both directions, unmodified, until either side
// fails or closes.
func (g *SessionGateway) relay(sess *Session) {
	errc := make(chan error, 2)

	go func() {
		for {
			mt, data, err := sess.Client.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if err := sess.Upstream.WriteMessage(mt, data); err != nil {
				errc <- err
				return
			}
		}
	}()

	go func() {
		for {
			mt, data, err := sess.Upstream.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if err := sess.writeMessage(mt, data); err != nil {
				errc <- err
				return
			}
		}
	}()

	// First failure on either side ends the session; teardown closes both
	// connections, which unblocks the other pump.
	<-errc
}

// teardown cancels the renewal timer, removes the session from the registry
// and closes both connections. Safe to call once per session.
func (g *SessionGateway) teardown(sess *Session) {
	sess.closeOnce.Do(func() {
		close(sess.stopRenewal)
		g.registry.Remove(sess)
		g.metrics.ActiveSessions.Dec()
		_ = sess.Client.Close()
		_ = sess.Upstream.Close()
		g.log.Info().Str("id", sess.ID).Msg("proxy session closed")
	})
}

func (g *SessionGateway) resourceURL(r *http.Request, endpoint string) string {
	if g.baseURL != "" {
		return g.baseURL + endpoint
	}
	return "ws://" + r.Host + endpoint
}

func (s *Session) writeJSON(msg sessionMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Client.WriteJSON(msg)
}

func (s *Session) writeMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Client.WriteMessage(messageType, data)
}

func sendJSON(c *websocket.Conn, msg sessionMessage) {
	_ = c.WriteJSON(msg)
}

func closeConn(c *websocket.Conn, code int, reason string) {
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeWriteWait))
	_ = c.Close()
}
