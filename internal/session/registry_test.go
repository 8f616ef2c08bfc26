package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, d *fakeDialer) *Registry {
	t.Helper()
	r := NewRegistry(d, testTuning(), nil)
	r.SetStartupConnectDelay(5 * time.Millisecond)
	t.Cleanup(r.ShutdownAll)
	return r
}

func TestRegistryCreateGetDelete(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)
	ctx := context.Background()

	s, err := r.Create("session-a")
	require.NoError(t, err)
	assert.Equal(t, "session-a", s.ID())
	assert.Equal(t, 1, d.dialCount())

	got, err := r.Get("session-a")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Create("session-a")
	assert.ErrorIs(t, err, ErrSessionExists)

	assert.True(t, r.Delete(ctx, "session-a"))
	assert.Equal(t, 1, d.purgeCount("session-a"))

	_, err = r.Get("session-a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, r.Delete(ctx, "session-a"))
}

func TestRegistryCreateGeneratesID(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	s, err := r.Create("")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistryCreateWithModeValidation(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	_, err := r.CreateWithMode("p1", LoginModePairing, "")
	assert.ErrorIs(t, err, ErrPhoneRequired)

	_, err = r.CreateWithMode("p1", LoginMode("email"), "")
	assert.ErrorIs(t, err, ErrInvalidLoginMode)

	// a rejected request leaves nothing behind
	assert.Empty(t, r.List())
	assert.Equal(t, 0, d.dialCount())

	s, err := r.CreateWithMode("p1", LoginModePairing, "0812-3456-7890")
	require.NoError(t, err)
	st := s.Status()
	assert.Equal(t, LoginModePairing, st.LoginMode)
	assert.Equal(t, "081234567890", st.PairingPhoneNumber)
}

func TestRegistryListAndActiveCount(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	_, err := r.Create("one")
	require.NoError(t, err)
	_, err = r.Create("two")
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, st := range r.List() {
		ids[st.ID] = true
	}
	assert.Equal(t, map[string]bool{"one": true, "two": true}, ids)
	assert.Equal(t, 0, r.ActiveCount())

	d.transport(0).sink(ConnectedEvent{JID: "111@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return r.ActiveCount() == 1
	}, waitFor, tick)
}

func TestRegistryDefaultHandlersAttachToNewSessions(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	var mu sync.Mutex
	var seen []string
	r.AddDefaultHandler("recorder", func(s *Session, evt Event) error {
		if msg, ok := evt.(MessageEvent); ok {
			mu.Lock()
			seen = append(seen, s.ID()+":"+msg.Text)
			mu.Unlock()
		}
		return nil
	})

	s, err := r.Create("bot-session")
	require.NoError(t, err)

	s.deliver(MessageEvent{Chat: "a@s.whatsapp.net", Text: "hello"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []string{"bot-session:hello"}, seen)
	mu.Unlock()
}

func TestRegistrySwitchLoginMode(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	_, err := r.Create("switcher")
	require.NoError(t, err)
	d.transport(0).sink(ConnectedEvent{JID: "111@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return r.ActiveCount() == 1
	}, waitFor, tick)

	s, err := r.SwitchLoginMode("switcher", LoginModePairing, "6281234567890")
	require.NoError(t, err)

	// old transport torn down, new dial under the new mode
	assert.Equal(t, 1, d.transport(0).closeCalls)
	assert.Equal(t, 2, d.dialCount())
	require.Eventually(t, func() bool {
		return s.Status().PairingCode == "ABCD-1234"
	}, waitFor, tick)
	assert.Equal(t, LoginModePairing, s.Status().LoginMode)

	_, err = r.SwitchLoginMode("missing", LoginModeQR, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryReconnect(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	s, err := r.Create("rec")
	require.NoError(t, err)
	s.deliver(DisconnectedEvent{Reason: CloseLoggedOut})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateDisconnected
	}, waitFor, tick)

	require.NoError(t, r.Reconnect("rec"))
	assert.Equal(t, 2, d.dialCount())
	assert.ErrorIs(t, r.Reconnect("missing"), ErrSessionNotFound)
}

func TestRegistryRestoreSessions(t *testing.T) {
	d := newFakeDialer()
	d.stored = []string{"saved-valid", "saved-stale"}
	d.valid["saved-valid"] = true
	r := newTestRegistry(t, d)

	require.NoError(t, r.RestoreSessions(context.Background()))
	assert.Len(t, r.List(), 2)

	// only the session with a usable credential bundle reconnects
	require.Eventually(t, func() bool {
		return d.dialCount() == 1
	}, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())

	stale, err := r.Get("saved-stale")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, stale.Status().ConnectionState)

	// restoring again is a no-op for already-known ids
	require.NoError(t, r.RestoreSessions(context.Background()))
	assert.Len(t, r.List(), 2)
}

func TestRegistryShutdownAllKeepsCredentials(t *testing.T) {
	d := newFakeDialer()
	r := newTestRegistry(t, d)

	_, err := r.Create("shut-a")
	require.NoError(t, err)
	_, err = r.Create("shut-b")
	require.NoError(t, err)
	d.transport(0).sink(ConnectedEvent{JID: "111@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return r.ActiveCount() == 1
	}, waitFor, tick)

	r.ShutdownAll()

	assert.Equal(t, 1, d.transport(0).closeCalls)
	assert.Equal(t, 1, d.transport(1).closeCalls)
	assert.Equal(t, 0, d.purgeCount("shut-a"))
	assert.Equal(t, 0, d.purgeCount("shut-b"))
}
