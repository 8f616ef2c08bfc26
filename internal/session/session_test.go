package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func newTestSession(t *testing.T, d *fakeDialer, tuning Tuning) *Session {
	t.Helper()
	s := newSession("test-session", d, tuning, nil)
	t.Cleanup(s.stop)
	return s
}

func TestConnectDialFailureCountsFailureCycle(t *testing.T) {
	d := newFakeDialer()
	d.dialErr = errors.New("store unavailable")
	s := newTestSession(t, d, testTuning())

	s.Connect()

	retries, cycles := s.counters()
	assert.Equal(t, 0, retries)
	assert.Equal(t, 1, cycles)
	assert.Equal(t, StateDisconnected, s.Status().ConnectionState)
}

func TestConnectIsNoOpWhileConnecting(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())

	s.Connect()
	require.Equal(t, StateConnecting, s.Status().ConnectionState)

	s.Connect()
	assert.Equal(t, 1, d.dialCount())
}

func TestQRCodeEventRendersDataURL(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	s.Connect()

	s.deliver(QRCodeEvent{Code: "2@abcdef0123456789"})

	require.Eventually(t, func() bool {
		return s.Status().QRImage != ""
	}, waitFor, tick)
	st := s.Status()
	assert.True(t, strings.HasPrefix(st.QRImage, "data:image/png;base64,"))
	assert.Empty(t, st.PairingCode)
}

func TestQRCodeEventIgnoredInPairingMode(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	require.NoError(t, s.SetLoginMode(LoginModePairing, "6281234567890"))
	s.Connect()

	s.deliver(QRCodeEvent{Code: "2@abcdef0123456789"})

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, s.Status().QRImage)
}

func TestPairingModeAutoRequestsCode(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())

	require.NoError(t, s.ConnectWithMode(LoginModePairing, "+62 812-3456-7890"))

	require.Eventually(t, func() bool {
		return s.Status().PairingCode == "ABCD-1234"
	}, waitFor, tick)
	st := s.Status()
	assert.Equal(t, "6281234567890", st.PairingPhoneNumber)
	assert.Equal(t, LoginModePairing, st.LoginMode)
	assert.Empty(t, st.QRImage, "pairing and QR artifacts are mutually exclusive")
}

func TestRequestPairingCodeValidation(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	ctx := context.Background()

	_, err := s.RequestPairingCode(ctx, "no digits here")
	assert.ErrorIs(t, err, ErrPhoneRequired)

	// still in QR mode
	_, err = s.RequestPairingCode(ctx, "6281234567890")
	assert.ErrorIs(t, err, ErrInvalidLoginMode)

	// pairing mode but never connected, no transport yet
	require.NoError(t, s.SetLoginMode(LoginModePairing, "6281234567890"))
	_, err = s.RequestPairingCode(ctx, "6281234567890")
	assert.ErrorIs(t, err, ErrTransportNotReady)
}

func TestConnectedEventResetsCountersAndArtifacts(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	s.Connect()

	s.deliver(QRCodeEvent{Code: "2@abcdef0123456789"})
	require.Eventually(t, func() bool {
		return s.Status().QRImage != ""
	}, waitFor, tick)

	s.deliver(ConnectedEvent{JID: "6281234567890@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateConnected
	}, waitFor, tick)

	st := s.Status()
	assert.Equal(t, "6281234567890@s.whatsapp.net", st.JID)
	assert.Empty(t, st.QRImage)
	assert.Empty(t, st.PairingCode)
	assert.Equal(t, 0, st.RetryCount)
	retries, cycles := s.counters()
	assert.Equal(t, 0, retries)
	assert.Equal(t, 0, cycles)
}

func TestRecoverableClosesExhaustRetriesThenCountCycle(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	s.Connect()
	require.Equal(t, 1, d.dialCount())

	// first close: retry 1 scheduled, fires after the backoff delay
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	require.Eventually(t, func() bool {
		return d.dialCount() == 2
	}, waitFor, tick)

	// second close: retry 2
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	require.Eventually(t, func() bool {
		return d.dialCount() == 3
	}, waitFor, tick)

	// third close: retry budget spent, one failure cycle recorded
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	require.Eventually(t, func() bool {
		retries, cycles := s.counters()
		return retries == 0 && cycles == 1
	}, waitFor, tick)

	assert.Equal(t, StateDisconnected, s.Status().ConnectionState)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, d.dialCount(), "no reconnect after the retry budget is spent")
}

func TestNonRecoverableCloseNeverReconnects(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	s.Connect()
	s.deliver(ConnectedEvent{JID: "123@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateConnected
	}, waitFor, tick)

	s.deliver(DisconnectedEvent{Reason: CloseLoggedOut})
	require.Eventually(t, func() bool {
		_, cycles := s.counters()
		return cycles == 1
	}, waitFor, tick)

	assert.Equal(t, StateDisconnected, s.Status().ConnectionState)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestRepeatedFailureCyclesEnterCooldown(t *testing.T) {
	d := newFakeDialer()
	tuning := testTuning()
	tuning.MaxRetries = 0
	tuning.MaxFailureCycles = 2
	s := newTestSession(t, d, tuning)

	// each close burns a whole cycle because there is no retry budget
	s.Connect()
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	require.Eventually(t, func() bool {
		_, cycles := s.counters()
		return cycles == 1
	}, waitFor, tick)

	s.Connect()
	require.Equal(t, 2, d.dialCount())
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateCoolingDown
	}, waitFor, tick)

	// cooldown resets both counters and records a future deadline
	retries, cycles := s.counters()
	assert.Equal(t, 0, retries)
	assert.Equal(t, 0, cycles)
	assert.True(t, s.cooldownDeadline().After(time.Now()))

	// connect attempts inside the window are ignored
	s.Connect()
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, StateCoolingDown, s.Status().ConnectionState)
}

func TestDuplicateCloseIsNoOp(t *testing.T) {
	d := newFakeDialer()
	tuning := testTuning()
	tuning.ReconnectBaseDelay = 500 * time.Millisecond // keep the timer out of the way
	s := newTestSession(t, d, tuning)
	s.Connect()

	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	require.Eventually(t, func() bool {
		retries, _ := s.counters()
		return retries == 1
	}, waitFor, tick)

	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	time.Sleep(30 * time.Millisecond)
	retries, cycles := s.counters()
	assert.Equal(t, 1, retries)
	assert.Equal(t, 0, cycles)
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	s.Connect()
	s.deliver(ConnectedEvent{JID: "123@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateConnected
	}, waitFor, tick)

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.Status().ConnectionState)
	assert.Equal(t, 1, d.transport(0).closeCalls)

	// the close notification the transport emits afterwards changes nothing
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, StateDisconnected, s.Status().ConnectionState)
}

func TestLogoutIsIdempotentAndPurgesOnce(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	ctx := context.Background()
	s.Connect()
	s.deliver(ConnectedEvent{JID: "123@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateConnected
	}, waitFor, tick)

	require.NoError(t, s.Logout(ctx))
	st := s.Status()
	assert.Equal(t, StateLoggedOut, st.ConnectionState)
	assert.Empty(t, st.JID)
	assert.Equal(t, 1, d.purgeCount("test-session"))
	assert.Equal(t, 1, d.transport(0).logoutCalls)

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, 1, d.purgeCount("test-session"))

	// the trailing close from the torn-down transport cannot resurrect it
	s.deliver(DisconnectedEvent{Reason: CloseNetwork})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateLoggedOut, s.Status().ConnectionState)
	assert.Equal(t, 1, d.dialCount())
}

func TestSendMessageRequiresConnection(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	ctx := context.Background()

	err := s.SendMessage(ctx, "6281234567890", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	s.Connect()
	err = s.SendMessage(ctx, "6281234567890", "hi")
	assert.ErrorIs(t, err, ErrNotConnected, "connecting is not connected")

	s.deliver(ConnectedEvent{JID: "123@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateConnected
	}, waitFor, tick)

	require.NoError(t, s.SendMessage(ctx, "6281234567890", "hi"))
	sent := d.transport(0).sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "6281234567890", sent[0].to)
	assert.Equal(t, "hi", sent[0].text)
}

func TestBuiltinPingCommand(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())
	s.Connect()
	s.deliver(ConnectedEvent{JID: "123@s.whatsapp.net"})
	require.Eventually(t, func() bool {
		return s.Status().ConnectionState == StateConnected
	}, waitFor, tick)

	s.deliver(MessageEvent{
		From: "6289876543210@s.whatsapp.net",
		Chat: "6289876543210@s.whatsapp.net",
		Text: "  /PING ",
	})

	require.Eventually(t, func() bool {
		return len(d.transport(0).sentMessages()) == 1
	}, waitFor, tick)
	sent := d.transport(0).sentMessages()
	assert.Equal(t, "6289876543210@s.whatsapp.net", sent[0].to)
	assert.Contains(t, sent[0].text, "Pong")
}

func TestHandlersRunInOrderAndAreIsolated(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())

	var mu sync.Mutex
	var calls []string
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}

	s.AddHandler("failing", func(_ *Session, _ Event) error {
		record("failing")
		return errors.New("handler exploded")
	})
	s.AddHandler("panicking", func(_ *Session, _ Event) error {
		record("panicking")
		panic("boom")
	})
	s.AddHandler("last", func(_ *Session, evt Event) error {
		if _, ok := evt.(MessageEvent); ok {
			record("last")
		}
		return nil
	})

	s.deliver(MessageEvent{From: "a@s.whatsapp.net", Chat: "a@s.whatsapp.net", Text: "hello"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []string{"failing", "panicking", "last"}, calls)
	mu.Unlock()
}

func TestAddHandlerReplacesInPlace(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())

	var mu sync.Mutex
	var calls []string
	record := func(name string) func(*Session, Event) error {
		return func(_ *Session, _ Event) error {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return nil
		}
	}

	s.AddHandler("first", record("first-old"))
	s.AddHandler("second", record("second"))
	s.AddHandler("first", record("first-new")) // replace, keeps position

	s.deliver(GroupParticipantsEvent{GroupID: "g@g.us", Participants: []string{"a"}, Action: "add"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []string{"first-new", "second"}, calls)
	mu.Unlock()
}

func TestRemoveHandlerStopsDelivery(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())

	var mu sync.Mutex
	count := 0
	s.AddHandler("counter", func(_ *Session, _ Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	s.deliver(MessageEvent{Chat: "a@s.whatsapp.net", Text: "one"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, waitFor, tick)

	s.RemoveHandler("counter")
	s.deliver(MessageEvent{Chat: "a@s.whatsapp.net", Text: "two"})
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

func TestStatusListenerReceivesTransitions(t *testing.T) {
	d := newFakeDialer()
	s := newTestSession(t, d, testTuning())

	var mu sync.Mutex
	var states []ConnectionState
	s.onStatusChange = func(st Status) {
		mu.Lock()
		states = append(states, st.ConnectionState)
		mu.Unlock()
	}

	s.Connect()
	s.deliver(ConnectedEvent{JID: "123@s.whatsapp.net"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateConnected, states[len(states)-1])
	mu.Unlock()
}
