package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/guestsync/internal/claim"
	"github.com/christopherjohns/guestsync/internal/coordination"
	"github.com/christopherjohns/guestsync/internal/guest"
	"github.com/christopherjohns/guestsync/internal/metrics"
	"github.com/christopherjohns/guestsync/internal/ws"
)

var okStore = guest.PersisterFunc(func(context.Context, guest.Update) error { return nil })

type fixture struct {
	srv      *Server
	registry *claim.MemoryRegistry
	reg      *prometheus.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := ws.NewHub(nil, m)
	registry := claim.NewMemoryRegistry()
	svc := coordination.New(registry, okStore, hub, coordination.WithMetrics(m))
	t.Cleanup(svc.Close)

	opts = append([]Option{WithGatherer(reg)}, opts...)
	return &fixture{
		srv:      New(":0", hub, svc, opts...),
		registry: registry,
		reg:      reg,
	}
}

func (f *fixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRootGreeting(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Greeting, w.Body.String())

	w = f.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, HealthResponse{Status: "ok"}, body)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guestsync_connections")
}

func TestListClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.do(http.MethodGet, "/api/groups/g1/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"idGroup":"g1","guests":[]}`, w.Body.String())

	require.NoError(t, f.registry.Claim(ctx, "g1", "9"))
	require.NoError(t, f.registry.Claim(ctx, "g1", "10"))

	w = f.do(http.MethodGet, "/api/groups/g1/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ClaimsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, ClaimsResponse{GroupID: "g1", Guests: []string{"10", "9"}}, resp)
}

func TestDisposeClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Claim(ctx, "g1", "7"))
	require.NoError(t, f.registry.Claim(ctx, "g2", "7"))

	w := f.do(http.MethodDelete, "/api/groups/g1/claims", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	held, err := f.registry.IsClaimed(ctx, "g1", "7")
	require.NoError(t, err)
	assert.False(t, held)

	held, err = f.registry.IsClaimed(ctx, "g2", "7")
	require.NoError(t, err)
	assert.True(t, held, "other groups are untouched")
}

func TestClaimsBlankGroup(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/groups/%20/claims", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/api/groups/%20/claims", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type unavailable struct{}

func (unavailable) HandleGuestUpdated(context.Context, string, guest.Update, guest.ClaimContext) (coordination.Outcome, error) {
	return coordination.OutcomeFailed, errors.New("down")
}
func (unavailable) Claimed(context.Context, string) ([]string, error) { return nil, errors.New("down") }
func (unavailable) Dispose(context.Context, string) error           { return errors.New("down") }
func (unavailable) Close()                                           {}

func TestClaimsRegistryUnavailable(t *testing.T) {
	srv := New(":0", ws.NewHub(nil, nil), unavailable{}, WithGatherer(prometheus.NewRegistry()))

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(method, "/api/groups/g1/claims", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, method)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, WithAllowedOrigins("https://app-friend.netlify.app", "http://localhost:3000"))

	preflight := http.Header{
		"Origin":                        []string{"http://localhost:3000"},
		"Access-Control-Request-Method": []string{"PUT"},
	}
	w := f.do(http.MethodOptions, "/api/groups/g1/claims", preflight)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")

	w = f.do(http.MethodGet, "/health", http.Header{"Origin": []string{"https://evil.example.com"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSocketRoute(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/socket", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env ws.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, ws.EventConnected, env.Type)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"joinRoom","payload":"G1"}`)))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, ws.EventClaimedGuests, env.Type)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, HealthResponse{Status: "ok", Connections: 1, Rooms: 1}, health)
}

func TestRunGracefulShutdown(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, Greeting, string(body))

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+"/socket", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	_, _, err = conn.Read(dialCtx) // connected
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(dialCtx)
		readErr <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}

	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-readErr))
}

func TestRunListenError(t *testing.T) {
	f := newFixture(t)
	f.srv.addr = "256.0.0.1:bad"
	assert.Error(t, f.srv.Run(context.Background()))
}
