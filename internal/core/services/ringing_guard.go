package services

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
)

// Durable record keys, scoped under the current account by the store.
const (
	keyRingingCallID    = "ringing_call_id"
	keyRingingStartedAt = "ringing_started_at"
)

// ringingGuard suppresses duplicate incoming-call alerts. The record of
// the currently alerting call is held both in memory (fast path) and in
// the durable store, so a duplicate delivered right after a process
// restart is still recognized. Elapsed time is measured on the monotonic
// clock: wall time can jump with NTP or timezone changes, while a
// monotonic reset only happens on reboot, where no call can be alerting
// anyway.
type ringingGuard struct {
	store  ports.KeyValueStore
	clock  ports.Clock
	window time.Duration
	log    *zap.SugaredLogger

	// In-memory copy of the durable record.
	callID    domain.CallID
	startedAt time.Duration
	hasRecord bool
}

func newRingingGuard(store ports.KeyValueStore, clock ports.Clock, window time.Duration, log *zap.SugaredLogger) *ringingGuard {
	return &ringingGuard{
		store:  store,
		clock:  clock,
		window: window,
		log:    log,
	}
}

// ShouldAlert decides whether an incoming call for callID may raise a new
// alert. It returns false only when a record for the same callID exists
// and is younger than the dedupe window.
func (g *ringingGuard) ShouldAlert(ctx context.Context, callID domain.CallID) bool {
	recordedID, startedAt, ok := g.record(ctx)
	if !ok {
		return true
	}
	if recordedID != callID {
		// A different call supersedes the old alert; the caller tears the
		// previous one down before alerting again.
		return true
	}
	elapsed := g.clock.Monotonic() - startedAt
	if elapsed < 0 || elapsed >= g.window {
		// Negative elapsed means the monotonic clock restarted (reboot);
		// the old record cannot refer to a live alert.
		return true
	}
	g.log.Debugw("duplicate incoming call suppressed", "call_id", callID, "elapsed", elapsed)
	return false
}

// MarkAlerting records callID as the currently alerting call, in memory
// and durably. The durable write happens before the caller does any
// network I/O that depends on it.
func (g *ringingGuard) MarkAlerting(ctx context.Context, callID domain.CallID) error {
	now := g.clock.Monotonic()
	if err := g.store.Set(ctx, keyRingingCallID, string(callID)); err != nil {
		return err
	}
	if err := g.store.Set(ctx, keyRingingStartedAt, strconv.FormatInt(int64(now), 10)); err != nil {
		return err
	}
	g.callID = callID
	g.startedAt = now
	g.hasRecord = true
	return nil
}

// Clear removes both records.
func (g *ringingGuard) Clear(ctx context.Context) {
	if err := g.store.Delete(ctx, keyRingingCallID); err != nil {
		g.log.Warnw("failed to clear ringing record", "error", err)
	}
	if err := g.store.Delete(ctx, keyRingingStartedAt); err != nil {
		g.log.Warnw("failed to clear ringing record timestamp", "error", err)
	}
	g.callID = ""
	g.startedAt = 0
	g.hasRecord = false
}

// record returns the current ringing record, consulting memory first and
// the durable store second.
func (g *ringingGuard) record(ctx context.Context) (domain.CallID, time.Duration, bool) {
	if g.hasRecord {
		return g.callID, g.startedAt, true
	}

	id, err := g.store.Get(ctx, keyRingingCallID)
	if err != nil || id == "" {
		return "", 0, false
	}
	raw, err := g.store.Get(ctx, keyRingingStartedAt)
	if err != nil || raw == "" {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, false
	}

	g.callID = domain.CallID(id)
	g.startedAt = time.Duration(nanos)
	g.hasRecord = true
	return g.callID, g.startedAt, true
}
