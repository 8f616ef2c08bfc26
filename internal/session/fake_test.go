package session

import (
	"context"
	"sync"
	"time"
)

// fakeTransport and fakeDialer stand in for the whatsmeow layer so the
// state machine can be driven deterministically.

type sentMessage struct {
	to   string
	text string
}

type fakeTransport struct {
	mu          sync.Mutex
	sink        EventSink
	connected   bool
	connectErr  error
	pairingCode string
	pairingErr  error
	sent        []sentMessage
	logoutCalls int
	closeCalls  int
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pairingErr != nil {
		return "", t.pairingErr
	}
	return t.pairingCode, nil
}

func (t *fakeTransport) SendMessage(ctx context.Context, to string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{to: to, text: text})
	return nil
}

func (t *fakeTransport) GroupName(ctx context.Context, groupJID string) (string, error) {
	return "Test Group", nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logoutCalls++
	t.connected = false
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	t.connected = false
}

func (t *fakeTransport) sentMessages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

type fakeDialer struct {
	mu          sync.Mutex
	dialErr     error
	pairingCode string
	transports  []*fakeTransport
	stored      []string
	valid       map[string]bool
	purged      map[string]int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		pairingCode: "ABCD-1234",
		valid:       make(map[string]bool),
		purged:      make(map[string]int),
	}
}

func (d *fakeDialer) Dial(id string, mode LoginMode, sink EventSink) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	t := &fakeTransport{sink: sink, pairingCode: d.pairingCode}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) StoredSessions(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stored, nil
}

func (d *fakeDialer) HasValidCredentials(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valid[id]
}

func (d *fakeDialer) PurgeCredentials(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purged[id]++
	return nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 {
		i = len(d.transports) + i
	}
	return d.transports[i]
}

func (d *fakeDialer) purgeCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.purged[id]
}

// white-box accessors used by the tests

func (s *Session) counters() (retries, cycles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount, s.failureCycles
}

func (s *Session) cooldownDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownUntil
}

func testTuning() Tuning {
	return Tuning{
		MaxRetries:         2,
		MaxFailureCycles:   3,
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
		CooldownPeriod:     300 * time.Millisecond,
		PairingCodeDelay:   5 * time.Millisecond,
	}
}
