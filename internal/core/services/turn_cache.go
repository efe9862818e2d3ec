package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
	"whispercall/pkg/await"
	apperrors "whispercall/pkg/errors"
)

// turnCache holds at most one relay credential set. EnsureValid returns
// fast while the cached set satisfies the TTL invariant; otherwise it
// emits a credential request and waits, deadline-bounded, for the
// matching turn_credentials envelope to be fed back in via Fulfill.
type turnCache struct {
	mu      sync.Mutex
	creds   *domain.TurnCredentials
	pending *await.Cell[*domain.TurnCredentials]

	codec     ports.EnvelopeCodec
	transport ports.Transport
	identity  ports.Identity
	clock     ports.Clock
	metrics   ports.MetricsCollector
	log       *zap.SugaredLogger
}

func newTurnCache(codec ports.EnvelopeCodec, transport ports.Transport, identity ports.Identity, clock ports.Clock, metrics ports.MetricsCollector, log *zap.SugaredLogger) *turnCache {
	return &turnCache{
		codec:     codec,
		transport: transport,
		identity:  identity,
		clock:     clock,
		metrics:   metrics,
		log:       log,
	}
}

// Current returns the cached credentials when they are still valid.
func (t *turnCache) Current() *domain.TurnCredentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.creds.Valid(t.clock.Now()) {
		return t.creds
	}
	return nil
}

// EnsureValid guarantees valid credentials are cached before it returns,
// requesting a fresh set when needed. The wait is bounded by ctx.
func (t *turnCache) EnsureValid(ctx context.Context) error {
	t.mu.Lock()
	if t.creds.Valid(t.clock.Now()) {
		t.mu.Unlock()
		return nil
	}

	// Expired or absent: drop the stale set and piggyback on an
	// in-flight request when one exists.
	t.creds = nil
	cell := t.pending
	created := cell == nil
	if created {
		cell = await.New[*domain.TurnCredentials]()
		t.pending = cell
	}
	t.mu.Unlock()

	if created {
		if err := t.request(ctx); err != nil {
			t.mu.Lock()
			if t.pending == cell {
				t.pending = nil
			}
			t.mu.Unlock()
			return err
		}
	}

	creds, err := cell.Wait(ctx)
	if err != nil {
		// Drop the dead cell so the next attempt issues a fresh request.
		t.mu.Lock()
		if t.pending == cell {
			t.pending = nil
		}
		t.mu.Unlock()
		return apperrors.WrapError(domain.ErrTurnUnavailable, apperrors.ErrCodeResource, "turn credential fetch timed out")
	}
	if !creds.Valid(t.clock.Now()) {
		return apperrors.WrapError(domain.ErrTurnUnavailable, apperrors.ErrCodeResource, "received turn credentials already expired")
	}
	return nil
}

// Prefetch fires a credential refresh without waiting on the result.
// Used on authentication success and when an incoming call starts
// ringing; neither transition blocks on it.
func (t *turnCache) Prefetch(ctx context.Context) {
	t.mu.Lock()
	valid := t.creds.Valid(t.clock.Now())
	inFlight := t.pending != nil
	var cell *await.Cell[*domain.TurnCredentials]
	if !valid && !inFlight {
		cell = await.New[*domain.TurnCredentials]()
		t.pending = cell
	}
	t.mu.Unlock()

	if valid || inFlight {
		return
	}
	if err := t.request(ctx); err != nil {
		t.mu.Lock()
		if t.pending == cell {
			t.pending = nil
		}
		t.mu.Unlock()
		t.log.Debugw("turn prefetch failed", "error", err)
	}
}

// Fulfill installs a freshly received credential set and wakes any
// waiter. Called by the state machine when a turn_credentials envelope
// arrives.
func (t *turnCache) Fulfill(creds *domain.TurnCredentials) {
	t.mu.Lock()
	t.creds = creds
	cell := t.pending
	t.pending = nil
	t.mu.Unlock()

	if cell != nil {
		cell.Fulfill(creds)
	}
	t.metrics.TurnRefreshed()
	t.log.Debugw("turn credentials refreshed", "urls", len(creds.URLs), "ttl", creds.TTL)
}

// Clear drops the cached set, forcing the next EnsureValid to refresh.
func (t *turnCache) Clear() {
	t.mu.Lock()
	t.creds = nil
	t.mu.Unlock()
}

func (t *turnCache) request(ctx context.Context) error {
	env, err := t.codec.Encode(ctx, domain.MsgGetTurnCredentials, "", t.identity.UserID(), []byte("turn"))
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeResource, "failed to build turn credential request")
	}
	if err := t.transport.Send(ctx, env); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to send turn credential request")
	}
	return nil
}
