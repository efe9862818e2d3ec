package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
)

type stubIdentity struct{ token string }

func (s *stubIdentity) UserID() domain.PeerID { return "self" }
func (s *stubIdentity) SessionToken() string  { return s.token }
func (s *stubIdentity) Keys() (*ports.KeyPair, error) {
	return &ports.KeyPair{}, nil
}
func (s *stubIdentity) ContactKeys(context.Context, domain.PeerID) (*ports.ContactKeys, error) {
	return &ports.ContactKeys{}, nil
}

// signalServer is a minimal in-process signaling endpoint: it accepts
// one connection at a time, completes the auth handshake and records
// every frame it reads.
type signalServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu     sync.Mutex
	tokens []string
	frames []json.RawMessage
}

func newSignalServer(t *testing.T) (*signalServer, *httptest.Server) {
	s := &signalServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *signalServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var auth authFrame
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	s.mu.Lock()
	s.tokens = append(s.tokens, auth.SessionToken)
	s.mu.Unlock()

	if err := conn.WriteJSON(map[string]string{"type": frameAuthOK}); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, json.RawMessage(raw))
		s.mu.Unlock()
	}
}

func (s *signalServer) authTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *signalServer) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newTestClient(t *testing.T, url string, mutate ...func(*Options)) *WebSocketClient {
	t.Helper()
	opts := DefaultOptions("ws" + strings.TrimPrefix(url, "http"))
	for _, m := range mutate {
		m(&opts)
	}
	c := NewWebSocketClient(opts, &stubIdentity{token: "tok-1234"}, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHandshakeOpensAuthGate(t *testing.T) {
	server, srv := newSignalServer(t)
	c := newTestClient(t, srv.URL)

	authed := make(chan struct{})
	c.OnAuthenticated = func() { close(authed) }
	c.Connect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.AwaitAuthenticated(ctx))

	select {
	case <-authed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnAuthenticated never fired")
	}
	assert.Equal(t, []string{"tok-1234"}, server.authTokens())
}

func TestSendWithoutConnectionFails(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")

	err := c.Send(context.Background(), &domain.SignalingEnvelope{Type: domain.MsgCallEnd})
	require.Error(t, err)
}

// Envelope sends race the keepalive ping loop on the shared connection;
// run with -race, this catches unserialized writes.
func TestConcurrentSendsAndPings(t *testing.T) {
	server, srv := newSignalServer(t)
	c := newTestClient(t, srv.URL, func(o *Options) {
		o.PingInterval = 2 * time.Millisecond
		o.SendRatePerSec = 10000
		o.SendBurst = 10000
	})
	c.Connect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.AwaitAuthenticated(ctx))

	const senders, perSender = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				env := &domain.SignalingEnvelope{
					Type:      domain.MsgCallICECandidate,
					CallID:    "call-1",
					From:      "self",
					To:        "peer",
					Timestamp: time.Now().UnixMilli(),
				}
				assert.NoError(t, c.Send(context.Background(), env))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return server.frameCount() >= senders*perSender
	}, 2*time.Second, 5*time.Millisecond, "server received %d of %d frames", server.frameCount(), senders*perSender)
}
