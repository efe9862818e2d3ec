package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
	"whispercall/pkg/await"
	apperrors "whispercall/pkg/errors"
	"whispercall/pkg/retry"
	"whispercall/pkg/utils"
)

// Options configures the WebSocket signaling client.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReconnectMax     time.Duration
	SendRatePerSec   float64
	SendBurst        int
}

// DefaultOptions returns the transport defaults.
func DefaultOptions(url string) Options {
	return Options{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		ReconnectMax:     30 * time.Second,
		SendRatePerSec:   20,
		SendBurst:        40,
	}
}

// authFrame is the first message on every connection.
type authFrame struct {
	Type         string `json:"type"`
	SessionToken string `json:"session_token"`
}

const (
	frameAuth   = "auth"
	frameAuthOK = "auth_ok"
)

// WebSocketClient implements the Transport port over a single
// auto-reconnecting gorilla/websocket connection. Each (re)connection
// performs the session-token handshake before envelopes may be sent;
// AwaitAuthenticated exposes that gate to the core.
type WebSocketClient struct {
	opts     Options
	identity ports.Identity
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger

	// OnAuthenticated, when set before Connect, runs on its own goroutine
	// after every successful handshake. Used to prefetch TURN credentials.
	OnAuthenticated func()

	mu    sync.Mutex
	conn  *websocket.Conn
	authd *await.Cell[struct{}]

	// writeMu serializes frame writes; gorilla/websocket supports only
	// one concurrent writer per connection, and Send races the ping
	// loop otherwise.
	writeMu sync.Mutex

	messages  chan *domain.SignalingEnvelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketClient(opts Options, identity ports.Identity, logger *zap.Logger) *WebSocketClient {
	return &WebSocketClient{
		opts:     opts,
		identity: identity,
		limiter:  rate.NewLimiter(rate.Limit(opts.SendRatePerSec), opts.SendBurst),
		logger:   logger.Sugar().Named("transport"),
		authd:    await.New[struct{}](),
		messages: make(chan *domain.SignalingEnvelope, 64),
		done:     make(chan struct{}),
	}
}

// Connect starts the connection loop. It returns after the first dial
// attempt has been scheduled; connection state is managed in the
// background from then on.
func (c *WebSocketClient) Connect(ctx context.Context) {
	go c.run(ctx)
}

func (c *WebSocketClient) run(ctx context.Context) {
	cfg := retry.Config{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     c.opts.ReconnectMax,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := retry.Forever(ctx, cfg, func() error {
			return c.dial(ctx)
		})
		if err != nil {
			// Only cancellation breaks out of Forever.
			return
		}

		c.readPump()

		// Connection lost: future sends must wait for a new handshake.
		c.mu.Lock()
		c.conn = nil
		c.authd = await.New[struct{}]()
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
			c.logger.Warnw("connection lost, reconnecting")
		}
	}
}

func (c *WebSocketClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.logger.Debugw("dial failed", "url", c.opts.URL, "error", err)
		return err
	}

	token := c.identity.SessionToken()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteJSON(authFrame{Type: frameAuth, SessionToken: token}); err != nil {
		conn.Close()
		c.logger.Debugw("auth frame write failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Infow("connected", "url", c.opts.URL, "token", utils.MaskSensitive(token, 4))
	return nil
}

// readPump owns the connection until it fails. Inbound envelopes go out
// through Messages in receipt order; the auth_ok frame opens the gate
// instead.
func (c *WebSocketClient) readPump() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go c.pingLoop(conn, pingStop)

	for {
		var env domain.SignalingEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("read failed", "error", err)
			}
			conn.Close()
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		if string(env.Type) == frameAuthOK {
			c.onAuthOK()
			continue
		}

		e := env
		select {
		case c.messages <- &e:
		case <-c.done:
			conn.Close()
			return
		}
	}
}

func (c *WebSocketClient) onAuthOK() {
	c.mu.Lock()
	cell := c.authd
	c.mu.Unlock()
	cell.Fulfill(struct{}{})
	c.logger.Infow("authenticated")

	if c.OnAuthenticated != nil {
		go c.OnAuthenticated()
	}
}

func (c *WebSocketClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debugw("ping failed", "error", err)
				conn.Close()
				return
			}
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

// Send writes one envelope, paced by the client rate limit.
func (c *WebSocketClient) Send(ctx context.Context, env *domain.SignalingEnvelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeTransport, "send pacing interrupted")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.NewTransportError("not connected")
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeTransport, "envelope write failed")
	}
	return nil
}

func (c *WebSocketClient) Messages() <-chan *domain.SignalingEnvelope {
	return c.messages
}

// AwaitAuthenticated blocks until the current connection's handshake has
// completed, or ctx expires.
func (c *WebSocketClient) AwaitAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	cell := c.authd
	c.mu.Unlock()

	if _, err := cell.Wait(ctx); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeResource, "authentication gate did not open")
	}
	return nil
}

// Close stops the connection loop and closes the current connection.
func (c *WebSocketClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}
