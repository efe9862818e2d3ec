package services

import (
	"whispercall/internal/core/domain"
)

// candidateBuffer holds ICE candidates that arrived before their gating
// condition became true. Two independent gates exist: candidates we
// generated may not be sent before our session description went out, and
// candidates the peer sent may not be applied before a remote description
// is set. Once a gate opens the buffered entries drain in FIFO order and
// subsequent candidates pass straight through.
//
// Not safe for concurrent use; owned exclusively by the state machine's
// event loop.
type candidateBuffer struct {
	pendingLocal  []*domain.ICECandidate
	pendingRemote []*domain.ICECandidate

	localGateOpen  bool
	remoteGateOpen bool
}

func newCandidateBuffer() *candidateBuffer {
	return &candidateBuffer{}
}

// BufferLocal records a locally generated candidate. Returns true when
// the candidate may be sent immediately instead.
func (b *candidateBuffer) BufferLocal(c *domain.ICECandidate) bool {
	if b.localGateOpen {
		return true
	}
	b.pendingLocal = append(b.pendingLocal, c)
	return false
}

// BufferRemote records a received candidate. Returns true when the
// candidate may be applied immediately instead.
func (b *candidateBuffer) BufferRemote(c *domain.ICECandidate) bool {
	if b.remoteGateOpen {
		return true
	}
	b.pendingRemote = append(b.pendingRemote, c)
	return false
}

// OpenLocalGate marks the local description as sent and returns the
// buffered candidates in generation order. The buffer is left empty.
func (b *candidateBuffer) OpenLocalGate() []*domain.ICECandidate {
	b.localGateOpen = true
	drained := b.pendingLocal
	b.pendingLocal = nil
	return drained
}

// OpenRemoteGate marks the remote description as set and returns the
// buffered candidates in arrival order. The buffer is left empty.
func (b *candidateBuffer) OpenRemoteGate() []*domain.ICECandidate {
	b.remoteGateOpen = true
	drained := b.pendingRemote
	b.pendingRemote = nil
	return drained
}

// LocalGateOpen reports whether locally generated candidates flow
// directly.
func (b *candidateBuffer) LocalGateOpen() bool { return b.localGateOpen }

// RemoteGateOpen reports whether received candidates flow directly.
func (b *candidateBuffer) RemoteGateOpen() bool { return b.remoteGateOpen }

// Reset closes both gates and discards anything buffered. Called on
// session cleanup.
func (b *candidateBuffer) Reset() {
	b.pendingLocal = nil
	b.pendingRemote = nil
	b.localGateOpen = false
	b.remoteGateOpen = false
}

// PendingCounts returns the current queue depths, for metrics and logs.
func (b *candidateBuffer) PendingCounts() (local, remote int) {
	return len(b.pendingLocal), len(b.pendingRemote)
}
