package services

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
)

// fakeClock is a settable clock. Wall and monotonic time advance
// together unless a test moves one independently.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	mono time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), mono: time.Hour}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Monotonic() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mono += d
	c.mu.Unlock()
}

// Reboot simulates a restart: wall time moves on, monotonic resets.
func (c *fakeClock) Reboot() {
	c.mu.Lock()
	c.now = c.now.Add(time.Minute)
	c.mono = time.Second
	c.mu.Unlock()
}

// memStore is an in-memory KeyValueStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// fakeTransport records sends and feeds inbound envelopes through a
// channel. AutoTurn makes it answer credential requests by itself.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []*domain.SignalingEnvelope
	msgs    chan *domain.SignalingEnvelope
	authErr error
	sendErr error

	AutoTurn bool
	turnTTL  int64
	clock    *fakeClock
	onSend   func(*domain.SignalingEnvelope)
}

func newFakeTransport(clock *fakeClock) *fakeTransport {
	return &fakeTransport{
		msgs:    make(chan *domain.SignalingEnvelope, 16),
		turnTTL: 600,
		clock:   clock,
	}
}

func (t *fakeTransport) Send(_ context.Context, env *domain.SignalingEnvelope) error {
	t.mu.Lock()
	sendErr := t.sendErr
	onSend := t.onSend
	auto := t.AutoTurn && env.Type == domain.MsgGetTurnCredentials
	ttl := t.turnTTL
	if sendErr == nil {
		t.sent = append(t.sent, env)
	}
	t.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}
	if onSend != nil {
		onSend(env)
	}
	if auto {
		t.Deliver(&domain.SignalingEnvelope{
			Type: domain.MsgTurnCredentials,
			Turn: &domain.TurnPayload{
				URLs:       []string{"turn:relay.example.net:3478"},
				Username:   "u",
				Credential: "c",
				TTLSeconds: ttl,
			},
		})
	}
	return nil
}

func (t *fakeTransport) Messages() <-chan *domain.SignalingEnvelope { return t.msgs }

func (t *fakeTransport) AwaitAuthenticated(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authErr
}

func (t *fakeTransport) Deliver(env *domain.SignalingEnvelope) {
	t.msgs <- env
}

func (t *fakeTransport) Sent() []*domain.SignalingEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.SignalingEnvelope, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) SentOfType(mt domain.MessageType) []*domain.SignalingEnvelope {
	var out []*domain.SignalingEnvelope
	for _, env := range t.Sent() {
		if env.Type == mt {
			out = append(out, env)
		}
	}
	return out
}

// fakeIdentity is a fully provisioned account unless a test clears a
// field.
type fakeIdentity struct {
	mu       sync.Mutex
	userID   domain.PeerID
	token    string
	keys     *ports.KeyPair
	keysErr  error
	contacts map[domain.PeerID]*ports.ContactKeys
}

func newFakeIdentity(userID domain.PeerID) *fakeIdentity {
	return &fakeIdentity{
		userID: userID,
		token:  "session-token",
		keys: &ports.KeyPair{
			BoxPublic:   []byte("box-pub-self"),
			BoxPrivate:  []byte("box-priv-self"),
			SignPublic:  []byte("sign-pub-self"),
			SignPrivate: []byte("sign-priv-self"),
		},
		contacts: map[domain.PeerID]*ports.ContactKeys{},
	}
}

func (i *fakeIdentity) UserID() domain.PeerID { return i.userID }

func (i *fakeIdentity) SessionToken() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.token
}

func (i *fakeIdentity) Keys() (*ports.KeyPair, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.keysErr != nil {
		return nil, i.keysErr
	}
	return i.keys, nil
}

func (i *fakeIdentity) ContactKeys(_ context.Context, peer domain.PeerID) (*ports.ContactKeys, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if ck, ok := i.contacts[peer]; ok {
		return ck, nil
	}
	return nil, domain.ErrContactKeyUnknown
}

func (i *fakeIdentity) AddContact(peer domain.PeerID) {
	i.mu.Lock()
	i.contacts[peer] = &ports.ContactKeys{
		BoxPublic:  []byte("box-pub-" + peer),
		SignPublic: []byte("sign-pub-" + peer),
	}
	i.mu.Unlock()
}

// plainCodec base64-wraps plaintext instead of sealing it, so state
// machine tests read sent payloads directly. Structure checks and
// precondition failures still behave like the production codec.
type plainCodec struct {
	identity *fakeIdentity
	clock    *fakeClock

	mu        sync.Mutex
	decodeErr error
	encodeErr error
	encodes   int
}

func newPlainCodec(identity *fakeIdentity, clock *fakeClock) *plainCodec {
	return &plainCodec{identity: identity, clock: clock}
}

func (c *plainCodec) Encode(_ context.Context, msgType domain.MessageType, callID domain.CallID, to domain.PeerID, plaintext []byte) (*domain.SignalingEnvelope, error) {
	c.mu.Lock()
	c.encodes++
	encodeErr := c.encodeErr
	c.mu.Unlock()
	if encodeErr != nil {
		return nil, encodeErr
	}
	if _, err := c.identity.Keys(); err != nil {
		return nil, err
	}
	if c.identity.SessionToken() == "" {
		return nil, domain.ErrMissingSession
	}
	if to != c.identity.UserID() {
		if _, err := c.identity.ContactKeys(context.Background(), to); err != nil {
			return nil, err
		}
	}
	return &domain.SignalingEnvelope{
		Type:         msgType,
		SessionToken: c.identity.SessionToken(),
		CallID:       callID,
		From:         c.identity.UserID(),
		To:           to,
		Timestamp:    c.clock.Now().UnixMilli(),
		Nonce:        "bm9uY2U=",
		Ciphertext:   base64.StdEncoding.EncodeToString(plaintext),
		Signature:    "c2ln",
	}, nil
}

func (c *plainCodec) Decode(_ context.Context, env *domain.SignalingEnvelope) ([]byte, error) {
	c.mu.Lock()
	decodeErr := c.decodeErr
	c.mu.Unlock()
	if decodeErr != nil {
		return nil, decodeErr
	}
	return base64.StdEncoding.DecodeString(env.Ciphertext)
}

func (c *plainCodec) Encodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encodes
}

// Plaintext extracts the sealed payload of a captured envelope.
func (c *plainCodec) Plaintext(env *domain.SignalingEnvelope) string {
	b, _ := base64.StdEncoding.DecodeString(env.Ciphertext)
	return string(b)
}

// fakeMedia records engine calls and lets tests simulate engine
// callbacks.
type fakeMedia struct {
	mu         sync.Mutex
	handler    func(domain.MediaEvent)
	started    int
	startVideo bool
	startTurn  *domain.TurnCredentials
	offers     int
	answers    int
	remoteSDPs []string
	applied    []*domain.ICECandidate
	closed     int

	startErr  error
	offerErr  error
	answerErr error
	remoteErr error
}

func newFakeMedia() *fakeMedia { return &fakeMedia{} }

func (m *fakeMedia) Start(_ context.Context, turn *domain.TurnCredentials, video bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started++
	m.startVideo = video
	m.startTurn = turn
	return nil
}

func (m *fakeMedia) CreateOffer(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offerErr != nil {
		return "", m.offerErr
	}
	m.offers++
	return "v=0 offer", nil
}

func (m *fakeMedia) CreateAnswer(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answerErr != nil {
		return "", m.answerErr
	}
	m.answers++
	return "v=0 answer", nil
}

func (m *fakeMedia) SetRemoteDescription(_ context.Context, sdp string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remoteErr != nil {
		return m.remoteErr
	}
	m.remoteSDPs = append(m.remoteSDPs, sdp)
	return nil
}

func (m *fakeMedia) AddICECandidate(_ context.Context, c *domain.ICECandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, c)
	return nil
}

func (m *fakeMedia) OnEvent(fn func(domain.MediaEvent)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Emit(ev domain.MediaEvent) {
	m.mu.Lock()
	fn := m.handler
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (m *fakeMedia) AppliedCandidates() []*domain.ICECandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ICECandidate, len(m.applied))
	copy(out, m.applied)
	return out
}

func (m *fakeMedia) Answers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers
}

func (m *fakeMedia) Started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// fakeHistory collects recorded entries.
type fakeHistory struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func newFakeHistory() *fakeHistory { return &fakeHistory{} }

func (h *fakeHistory) Record(_ context.Context, entry domain.HistoryEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return nil
}

func (h *fakeHistory) Entries() []domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
