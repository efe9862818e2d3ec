package ports

import (
	"context"

	"whispercall/internal/core/domain"
)

// KeyValueStore is a small durable record store scoped to the current
// account. It holds exactly two records for this core: the active-session
// anchor and the ringing record. Writes are synchronous; a write that
// returns nil is durable.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error) // "" with nil error when absent
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// HistorySink records finished calls. Fire-and-forget: failures are
// logged by implementations, never surfaced to the state machine.
type HistorySink interface {
	Record(ctx context.Context, entry domain.HistoryEntry) error
}
