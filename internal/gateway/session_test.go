package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krish858/xgate/internal/store"
	"github.com/krish858/xgate/x402"
)

// wsUpstream is a fake upstream websocket service that echoes every message
// with an "echo:" prefix and tracks connections.
type wsUpstream struct {
	srv      *httptest.Server
	conns    atomic.Int32
	received chan string
	closed   chan struct{}
}

func newWSUpstream(t *testing.T) *wsUpstream {
	t.Helper()
	up := &wsUpstream{
		received: make(chan string, 16),
		closed:   make(chan struct{}, 4),
	}
	upgrader := websocket.Upgrader{}
	up.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		up.conns.Add(1)
		defer func() {
			conn.Close()
			up.closed <- struct{}{}
		}()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			up.received <- string(data)
			if err := conn.WriteMessage(mt, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(up.srv.Close)
	return up
}

func (u *wsUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

type sessionFixture struct {
	store    *store.Memory
	fac      *fakeFacilitator
	registry *Registry
	srv      *httptest.Server
	resource *store.StreamResource
}

func newSessionFixture(t *testing.T, upstreamURL string, ttlSeconds int) *sessionFixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	owner, err := st.UpsertUser(ctx, "0xOwner")
	require.NoError(t, err)

	res := &store.StreamResource{
		Name:              "ticker feed",
		GeneratedEndpoint: "/wss/xyz789",
		ServiceURL:        upstreamURL,
		OwnerID:           owner.ID,
		PricePerMinute:    0.10,
		BillingMode:       "subscription",
		SessionTTLSeconds: ttlSeconds,
	}
	require.NoError(t, st.CreateStreamResource(ctx, res))

	fac := &fakeFacilitator{}
	registry := NewRegistry()
	m := NewMetrics(prometheus.NewRegistry())
	g := NewSessionGateway(st, fac, zerolog.Nop(), m, registry, "base-sepolia", "")

	r := chi.NewRouter()
	r.HandleFunc("/wss", g.Handle)
	r.HandleFunc("/wss/{id}", g.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &sessionFixture{store: st, fac: fac, registry: registry, srv: srv, resource: res}
}

func (f *sessionFixture) dial(t *testing.T, path, payment string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	if payment != "" {
		u += "?payment=" + url.QueryEscape(payment)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// expectClose reads until the peer closes and asserts the close code.
func expectClose(t *testing.T, conn *websocket.Conn, wantCode int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // drain any pre-close messages
		}
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close error, got %v", err)
		assert.Equal(t, wantCode, closeErr.Code)
		return
	}
}

func readSessionMessage(t *testing.T, conn *websocket.Conn) sessionMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg sessionMessage
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSessionGateway_MissingID(t *testing.T) {
	fx := newSessionFixture(t, "ws://unused", 60)
	conn := fx.dial(t, "/wss", "")
	expectClose(t, conn, CloseMissingID)
}

func TestSessionGateway_ResourceNotFound(t *testing.T) {
	fx := newSessionFixture(t, "ws://unused", 60)
	conn := fx.dial(t, "/wss/nope", "anything")
	expectClose(t, conn, CloseResourceNotFound)
}

func TestSessionGateway_PaymentMissing(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 60)

	conn := fx.dial(t, "/wss/xyz789", "")

	msg := readSessionMessage(t, conn)
	assert.Contains(t, msg.Error, "payment")
	expectClose(t, conn, ClosePaymentRequired)

	assert.Equal(t, int32(0), up.conns.Load(), "unpaid session must never reach upstream")
	verifies, _ := fx.fac.calls()
	assert.Equal(t, 0, verifies)
}

func TestSessionGateway_PaymentMalformed(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 60)

	conn := fx.dial(t, "/wss/xyz789", "%%%garbage%%%")
	expectClose(t, conn, ClosePaymentMalformed)

	assert.Equal(t, int32(0), up.conns.Load())
	verifies, _ := fx.fac.calls()
	assert.Equal(t, 0, verifies, "malformed proof must be rejected before any facilitator call")
}

func TestSessionGateway_PaymentInvalid(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 60)
	fx.fac.verifyFunc = func(ctx context.Context, payment *x402.PaymentPayload, req *x402.Requirement) (*x402.VerifyResponse, error) {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds", Payer: "0xPayer"}, nil
	}

	conn := fx.dial(t, "/wss/xyz789", paymentHeaderFor(t, "0xOwner", "100000"))

	msg := readSessionMessage(t, conn)
	assert.Equal(t, "insufficient_funds", msg.Error)
	assert.Equal(t, "0xPayer", msg.Payer)
	expectClose(t, conn, ClosePaymentInvalid)

	assert.Equal(t, int32(0), up.conns.Load())
}

func TestSessionGateway_VerifierUnreachable(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 60)
	fx.fac.verifyFunc = func(ctx context.Context, payment *x402.PaymentPayload, req *x402.Requirement) (*x402.VerifyResponse, error) {
		return nil, context.DeadlineExceeded
	}

	conn := fx.dial(t, "/wss/xyz789", paymentHeaderFor(t, "0xOwner", "100000"))
	expectClose(t, conn, ClosePaymentInvalid)
	assert.Equal(t, int32(0), up.conns.Load(), "verifier downtime must not grant access")
}

func TestSessionGateway_FullSession(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 1)

	conn := fx.dial(t, "/wss/xyz789", paymentHeaderFor(t, "0xOwner", "100000"))

	// 1. connect confirmation
	msg := readSessionMessage(t, conn)
	assert.Contains(t, msg.Message, "connected")

	// 2. settlement result
	msg = readSessionMessage(t, conn)
	assert.Equal(t, "payment-settled", msg.Type)
	receipt, err := x402.DecodeSettleResponse(msg.SettlementResponse)
	require.NoError(t, err)
	assert.Equal(t, "0xtxhash", receipt.Transaction)

	got, err := fx.store.GetStreamResource(context.Background(), "/wss/xyz789")
	require.NoError(t, err)
	assert.InDelta(t, 0.10, got.AmountGenerated, 1e-9, "session billed once at connect")

	require.Eventually(t, func() bool { return fx.registry.Len() == 1 }, time.Second, 10*time.Millisecond)

	// 3. relay client -> upstream -> client
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	select {
	case received := <-up.received:
		assert.Equal(t, "ping", received, "relayed unmodified")
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received relayed message")
	}

	txt := readTextOrSession(t, conn, "echo:ping")
	assert.Equal(t, "echo:ping", txt.raw)

	// 4. renewal reminder at ~ttl
	renewal := waitForRenewal(t, conn, 3*time.Second)
	assert.Contains(t, renewal, "renew")

	// 5. closing the client closes upstream and clears the registry
	conn.Close()
	select {
	case <-up.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not closed after client close")
	}
	require.Eventually(t, func() bool { return fx.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	verifies, settles := fx.fac.calls()
	assert.Equal(t, 1, verifies, "verification happens once per session")
	assert.Equal(t, 1, settles, "settlement happens once per session, not per message")

	recs := fx.store.Settlements()
	require.Len(t, recs, 1)
	assert.Equal(t, store.KindStream, recs[0].ResourceKind)
	assert.Equal(t, store.SettlementOK, recs[0].Status)
}

func TestSessionGateway_SettlementFailureKeepsSessionOpen(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 60)
	fx.fac.settleFunc = func(ctx context.Context, payment *x402.PaymentPayload, req *x402.Requirement) (*x402.SettleResponse, error) {
		return &x402.SettleResponse{Success: false, ErrorReason: "chain congested"}, nil
	}

	conn := fx.dial(t, "/wss/xyz789", paymentHeaderFor(t, "0xOwner", "100000"))

	msg := readSessionMessage(t, conn)
	assert.Contains(t, msg.Message, "connected")

	msg = readSessionMessage(t, conn)
	assert.Equal(t, "settlement failed", msg.Warning)

	// Session is still usable.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("still-here")))
	select {
	case received := <-up.received:
		assert.Equal(t, "still-here", received)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stay open after settlement failure")
	}

	got, err := fx.store.GetStreamResource(context.Background(), "/wss/xyz789")
	require.NoError(t, err)
	assert.Zero(t, got.AmountGenerated, "no revenue on settlement failure")

	recs := fx.store.Settlements()
	require.Len(t, recs, 1)
	assert.Equal(t, store.SettlementFailed, recs[0].Status)
}

func TestSessionGateway_UpstreamCloseClosesClient(t *testing.T) {
	up := newWSUpstream(t)
	fx := newSessionFixture(t, up.wsURL(), 60)

	conn := fx.dial(t, "/wss/xyz789", paymentHeaderFor(t, "0xOwner", "100000"))
	readSessionMessage(t, conn) // connected
	readSessionMessage(t, conn) // settled

	up.srv.CloseClientConnections()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break // client side torn down
		}
	}
	require.Eventually(t, func() bool { return fx.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionGateway_UpstreamUnreachable(t *testing.T) {
	fx := newSessionFixture(t, "ws://127.0.0.1:1", 60)

	conn := fx.dial(t, "/wss/xyz789", paymentHeaderFor(t, "0xOwner", "100000"))
	expectClose(t, conn, websocket.CloseInternalServerErr)

	_, settles := fx.fac.calls()
	assert.Equal(t, 0, settles, "no settlement when the upstream never connected")
}

// textMsg pairs a raw relayed frame with its session-envelope decoding, so
// tests can skip interleaved renewal messages.
type textMsg struct{ raw string }

func readTextOrSession(t *testing.T, conn *websocket.Conn, want string) textMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if string(data) == want {
			return textMsg{raw: string(data)}
		}
	}
}

func waitForRenewal(t *testing.T, conn *websocket.Conn, timeout time.Duration) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "expected a renewal message before the deadline")
		var msg sessionMessage
		if json.Unmarshal(data, &msg) == nil && strings.Contains(msg.Message, "renew") {
			return msg.Message
		}
	}
}
