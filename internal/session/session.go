package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wa-gateway/internal/helper"

	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	ErrNotConnected      = errors.New("session not connected")
	ErrTransportNotReady = errors.New("transport not initialized, call connect first")
	ErrInvalidLoginMode  = errors.New("invalid login mode")
	ErrPhoneRequired     = errors.New("phone number is required for pairing mode")
)

// Tuning holds the retry/cooldown knobs. The defaults match the values the
// gateway has always shipped with, but they are product tuning, not
// protocol, so everything is overridable from config.
type Tuning struct {
	MaxRetries         int
	MaxFailureCycles   int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	CooldownPeriod     time.Duration
	PairingCodeDelay   time.Duration
}

func DefaultTuning() Tuning {
	return Tuning{
		MaxRetries:         2,
		MaxFailureCycles:   3,
		ReconnectBaseDelay: 15 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		CooldownPeriod:     5 * time.Minute,
		PairingCodeDelay:   2 * time.Second,
	}
}

// Handler is an inbound-event callback. It receives the raw event plus the
// owning session so it can send replies. Errors are logged, never
// propagated; one broken handler must not abort dispatch to the rest.
type Handler func(s *Session, evt Event) error

type namedHandler struct {
	name string
	fn   Handler
}

// Session owns the connection lifecycle of one logical account: login mode,
// retry/cooldown counters, the credential bundle (through the Dialer) and
// the registered inbound handlers. All transport events for one session are
// processed by a single goroutine; different sessions run fully in
// parallel.
type Session struct {
	id     string
	dialer Dialer
	tuning Tuning
	log    waLog.Logger

	// called after every state change, used by the registry to push
	// realtime status events
	onStatusChange func(Status)

	mu               sync.Mutex
	state            ConnectionState
	loginMode        LoginMode
	pairingPhone     string
	qrImage          string
	pairingCode      string
	jid              string
	transport        Transport
	retryCount       int
	failureCycles    int
	cooldownUntil    time.Time
	lastDisconnect   time.Time
	manualDisconnect bool
	reconnectTimer   *time.Timer
	pairingTimer     *time.Timer

	handlersMu sync.RWMutex
	handlers   []namedHandler

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

func newSession(id string, dialer Dialer, tuning Tuning, log waLog.Logger) *Session {
	if log == nil {
		log = waLog.Noop
	}
	s := &Session{
		id:        id,
		dialer:    dialer,
		tuning:    tuning,
		log:       log,
		state:     StateIdle,
		loginMode: LoginModeQR,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	go s.dispatchLoop()
	return s
}

func (s *Session) ID() string { return s.id }

// Connect opens a transport under the current login mode. Already
// connecting/connected and in-cooldown attempts are silently ignored;
// transport failures are counted against the failure cycle budget instead
// of being returned (the session must never crash the registry).
func (s *Session) Connect() {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		s.log.Debugf("already connecting or connected, skipping")
		return
	}
	if !s.cooldownUntil.IsZero() && s.now().Before(s.cooldownUntil) {
		remaining := time.Until(s.cooldownUntil).Round(time.Second)
		s.mu.Unlock()
		s.log.Infof("still in cooldown period, %s remaining", remaining)
		return
	}
	s.state = StateConnecting
	s.qrImage = ""
	s.pairingCode = ""
	mode := s.loginMode
	phone := s.pairingPhone
	s.mu.Unlock()
	s.notifyStatus()

	t, err := s.dialer.Dial(s.id, mode, s.deliver)
	if err != nil {
		s.connectFailed(err)
		return
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	if err := t.Connect(context.Background()); err != nil {
		s.connectFailed(err)
		return
	}

	// Pairing mode: the code has to be requested after the transport is up.
	// Give the socket a moment, same grace the gateway always used.
	if mode == LoginModePairing && phone != "" {
		s.mu.Lock()
		needCode := s.pairingCode == ""
		if needCode {
			if s.pairingTimer != nil {
				s.pairingTimer.Stop()
			}
			s.pairingTimer = time.AfterFunc(s.tuning.PairingCodeDelay, func() {
				s.autoRequestPairingCode(phone)
			})
		}
		s.mu.Unlock()
	}
}

func (s *Session) connectFailed(err error) {
	s.log.Errorf("connection error: %v", err)
	s.mu.Lock()
	s.state = StateDisconnected
	s.failureCycles++
	if s.failureCycles >= s.tuning.MaxFailureCycles {
		s.log.Warnf("entering cooldown due to connection errors")
		s.startCooldownLocked()
	}
	s.mu.Unlock()
	s.notifyStatus()
}

// ConnectWithMode reconfigures the login mode and connects. Pairing mode
// requires a phone number; QR mode clears any stale pairing artifacts.
func (s *Session) ConnectWithMode(mode LoginMode, phoneNumber string) error {
	if err := s.SetLoginMode(mode, phoneNumber); err != nil {
		return err
	}
	s.ResetLoginData()
	s.Connect()
	return nil
}

// SetLoginMode switches between QR and pairing. The modes are mutually
// exclusive: entering QR mode drops the pairing number and code.
func (s *Session) SetLoginMode(mode LoginMode, phoneNumber string) error {
	switch mode {
	case LoginModeQR:
		s.mu.Lock()
		s.loginMode = LoginModeQR
		s.pairingPhone = ""
		s.pairingCode = ""
		s.mu.Unlock()
		s.log.Infof("set to QR mode")
	case LoginModePairing:
		digits := helper.DigitsOnly(phoneNumber)
		if digits == "" {
			return ErrPhoneRequired
		}
		s.mu.Lock()
		s.loginMode = LoginModePairing
		s.pairingPhone = digits
		s.mu.Unlock()
		s.log.Infof("set to pairing mode with number %s", digits)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLoginMode, mode)
	}
	return nil
}

// ResetLoginData clears the QR image and pairing code, e.g. before a
// reconnect under a different mode.
func (s *Session) ResetLoginData() {
	s.mu.Lock()
	s.qrImage = ""
	s.pairingCode = ""
	s.mu.Unlock()
}

// RequestPairingCode round-trips to the transport for a phone-pairing code.
// Fails when the transport is not up yet or the session is in QR mode.
func (s *Session) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	digits := helper.DigitsOnly(phoneNumber)
	if digits == "" {
		return "", ErrPhoneRequired
	}
	s.mu.Lock()
	t := s.transport
	mode := s.loginMode
	s.mu.Unlock()
	if mode != LoginModePairing {
		return "", fmt.Errorf("%w: session is in %s mode", ErrInvalidLoginMode, mode)
	}
	if t == nil {
		return "", ErrTransportNotReady
	}

	code, err := t.RequestPairingCode(ctx, digits)
	if err != nil {
		s.log.Errorf("error requesting pairing code: %v", err)
		return "", err
	}

	s.mu.Lock()
	s.pairingPhone = digits
	s.pairingCode = code
	s.mu.Unlock()
	s.log.Infof("pairing code generated for number %s", digits)
	s.notifyStatus()
	return code, nil
}

func (s *Session) autoRequestPairingCode(phone string) {
	s.mu.Lock()
	t := s.transport
	busy := s.state == StateConnected || s.pairingCode != ""
	s.mu.Unlock()
	if t == nil || busy {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code, err := t.RequestPairingCode(ctx, phone)
	if err != nil {
		s.log.Errorf("error generating pairing code: %v", err)
		return
	}
	s.deliver(PairingCodeEvent{Code: code})
}

// SendMessage sends a text payload through the live connection.
func (s *Session) SendMessage(ctx context.Context, to string, text string) error {
	s.mu.Lock()
	t := s.transport
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || t == nil {
		return ErrNotConnected
	}
	return t.SendMessage(ctx, to, text)
}

// GroupName resolves a group JID to its subject through the live
// transport, best effort: returns "" when not connected or on error.
func (s *Session) GroupName(ctx context.Context, groupJID string) string {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ""
	}
	name, err := t.GroupName(ctx, groupJID)
	if err != nil {
		s.log.Debugf("failed to fetch group metadata for %s: %v", groupJID, err)
		return ""
	}
	return name
}

// Logout unlinks the device, purges the stored credential bundle and leaves
// the session in the logged-out state. Idempotent: calling it on an already
// logged-out session does nothing. Any pending reconnect timer is canceled
// first so a zombie timer cannot resurrect the session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		return nil
	}
	s.manualDisconnect = true
	s.cancelTimersLocked()
	t := s.transport
	s.transport = nil
	s.state = StateLoggedOut
	s.qrImage = ""
	s.pairingCode = ""
	s.jid = ""
	s.mu.Unlock()

	if t != nil {
		if err := t.Logout(ctx); err != nil {
			s.log.Warnf("logout error: %v", err)
			t.Close()
		}
	}
	if err := s.dialer.PurgeCredentials(ctx, s.id); err != nil {
		s.log.Warnf("failed to purge credentials: %v", err)
	}
	s.log.Infof("logged out")
	s.notifyStatus()
	return nil
}

// Disconnect closes the socket without unlinking the device, marking the
// close as manual so no reconnect is scheduled. Used for login mode
// switches and graceful shutdown.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manualDisconnect = true
	s.cancelTimersLocked()
	t := s.transport
	s.transport = nil
	if s.state == StateConnecting || s.state == StateConnected {
		s.state = StateDisconnected
	}
	s.mu.Unlock()
	if t != nil {
		t.Close()
	}
	s.notifyStatus()
}

// Status returns a read-only snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:                 s.id,
		ConnectionState:    s.state,
		LoginMode:          s.loginMode,
		JID:                s.jid,
		QRImage:            s.qrImage,
		PairingCode:        s.pairingCode,
		PairingPhoneNumber: s.pairingPhone,
		RetryCount:         s.retryCount,
	}
}

// AddHandler registers an inbound-event handler under a unique name.
// Re-registering a name replaces the previous handler in place, keeping
// its position in the dispatch order.
func (s *Session) AddHandler(name string, fn Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for i, h := range s.handlers {
		if h.name == name {
			s.handlers[i].fn = fn
			return
		}
	}
	s.handlers = append(s.handlers, namedHandler{name: name, fn: fn})
}

func (s *Session) RemoveHandler(name string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for i, h := range s.handlers {
		if h.name == name {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// ---- event dispatch ----

// deliver is the EventSink handed to the transport. Events are queued into
// the per-session channel; the dispatch loop is the only consumer, which
// serializes all state transitions for this session.
func (s *Session) deliver(evt Event) {
	select {
	case <-s.done:
	case s.events <- evt:
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.events:
			s.handleEvent(evt)
		}
	}
}

func (s *Session) handleEvent(evt Event) {
	switch e := evt.(type) {
	case QRCodeEvent:
		s.handleQRCode(e)
	case PairingCodeEvent:
		s.mu.Lock()
		if s.loginMode == LoginModePairing && s.state != StateConnected {
			s.pairingCode = e.Code
		}
		s.mu.Unlock()
		s.log.Infof("pairing code received")
		s.notifyStatus()
	case ConnectedEvent:
		s.handleConnected(e)
	case DisconnectedEvent:
		s.handleDisconnected(e)
	case MessageEvent:
		s.handleIncomingMessage(e)
	case GroupParticipantsEvent:
		s.runHandlers(e)
	}
}

func (s *Session) handleQRCode(e QRCodeEvent) {
	s.mu.Lock()
	if s.loginMode != LoginModeQR {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	img, err := helper.QRToDataURL(e.Code)
	if err != nil {
		s.log.Errorf("failed to render QR code: %v", err)
		return
	}
	s.mu.Lock()
	s.qrImage = img
	s.mu.Unlock()
	s.log.Infof("QR code generated")
	s.notifyStatus()
}

func (s *Session) handleConnected(e ConnectedEvent) {
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		s.log.Warnf("ignoring connected event after logout")
		return
	}
	s.cancelTimersLocked()
	s.state = StateConnected
	s.jid = e.JID
	s.qrImage = ""
	s.pairingCode = ""
	s.retryCount = 0
	s.failureCycles = 0
	s.cooldownUntil = time.Time{}
	s.lastDisconnect = time.Time{}
	s.mu.Unlock()
	s.log.Infof("connected, jid=%s", e.JID)
	s.notifyStatus()
}

// handleDisconnected runs the whole reconnect policy: manual-disconnect
// suppression, close reason classification, cooldown window, failure cycle
// threshold and finally the backoff schedule.
func (s *Session) handleDisconnected(e DisconnectedEvent) {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateCoolingDown, StateLoggedOut, StateIdle:
		// repeat close while already down, nothing to do
		s.manualDisconnect = false
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.lastDisconnect = s.now()
	s.log.Infof("connection closed: %s", e.Reason)

	if s.manualDisconnect {
		s.manualDisconnect = false
		s.mu.Unlock()
		s.log.Infof("manual disconnect detected, not reconnecting")
		s.notifyStatus()
		return
	}

	if !e.Reason.Recoverable() {
		s.failureCycles++
		s.mu.Unlock()
		s.log.Warnf("not reconnecting due to close reason: %s", e.Reason)
		s.notifyStatus()
		return
	}

	if !s.cooldownUntil.IsZero() && s.now().Before(s.cooldownUntil) {
		remaining := s.cooldownUntil.Sub(s.now()).Round(time.Second)
		s.state = StateCoolingDown
		s.mu.Unlock()
		s.log.Infof("in cooldown period, %s remaining", remaining)
		s.notifyStatus()
		return
	}

	if s.failureCycles >= s.tuning.MaxFailureCycles {
		s.log.Warnf("too many consecutive failures (%d), entering cooldown period", s.failureCycles)
		s.startCooldownLocked()
		s.mu.Unlock()
		s.notifyStatus()
		return
	}

	if s.retryCount < s.tuning.MaxRetries {
		s.retryCount++
		delay := s.backoffDelay(s.retryCount)
		s.log.Infof("reconnecting, attempt %d/%d in %s", s.retryCount, s.tuning.MaxRetries, delay)
		s.scheduleReconnectLocked(delay)
		s.mu.Unlock()
		s.notifyStatus()
		return
	}

	// Retry budget exhausted: one full failure cycle done.
	s.log.Warnf("max retry attempts (%d) reached, stopping reconnection", s.tuning.MaxRetries)
	s.retryCount = 0
	s.failureCycles++
	if s.failureCycles >= s.tuning.MaxFailureCycles {
		s.log.Warnf("starting cooldown period due to repeated failures")
		s.startCooldownLocked()
	}
	s.mu.Unlock()
	s.notifyStatus()
}

// startCooldownLocked records the cooldown window and resets both counters.
// The window timestamp is the only state carried into the next cycle.
// Caller holds s.mu.
func (s *Session) startCooldownLocked() {
	s.cooldownUntil = s.now().Add(s.tuning.CooldownPeriod)
	s.retryCount = 0
	s.failureCycles = 0
	s.state = StateCoolingDown
}

func (s *Session) backoffDelay(attempt int) time.Duration {
	d := s.tuning.ReconnectBaseDelay << (attempt - 1)
	if d > s.tuning.ReconnectMaxDelay {
		d = s.tuning.ReconnectMaxDelay
	}
	return d
}

// scheduleReconnectLocked arms a single deferred connect. The guard at fire
// time re-checks the state and that the full delay elapsed since the last
// disconnect, so overlapping timers cannot double-connect. Caller holds
// s.mu.
func (s *Session) scheduleReconnectLocked(delay time.Duration) {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		ok := s.state != StateConnected && s.state != StateConnecting &&
			s.state != StateLoggedOut &&
			s.now().Sub(s.lastDisconnect) >= delay
		s.mu.Unlock()
		if ok {
			s.Connect()
		}
	})
}

// cancelTimersLocked stops any pending reconnect or pairing timer. Caller
// holds s.mu.
func (s *Session) cancelTimersLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.pairingTimer != nil {
		s.pairingTimer.Stop()
		s.pairingTimer = nil
	}
}

func (s *Session) handleIncomingMessage(e MessageEvent) {
	s.handleBuiltinCommands(e)
	s.runHandlers(e)
}

// handleBuiltinCommands answers the lightweight gateway commands before any
// registered handler sees the message.
func (s *Session) handleBuiltinCommands(e MessageEvent) {
	text := strings.ToLower(strings.TrimSpace(e.Text))
	if text != "/info" && text != "/ping" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var reply string
	switch text {
	case "/info":
		reply = "🤖 *WhatsApp Gateway Info*\n\n" +
			"📱 Session: " + s.id + "\n" +
			"⏰ Time: " + s.now().Format("2006-01-02 15:04:05") + "\n" +
			"✅ Status: Connected\n\n" +
			"Commands:\n/info - Show this info\n/ping - Test connection"
	case "/ping":
		reply = "🏓 Pong! Gateway is active!"
	}
	if err := s.SendMessage(ctx, e.Chat, reply); err != nil {
		s.log.Warnf("failed to answer %s: %v", text, err)
	}
}

// runHandlers invokes every registered handler in registration order on a
// copy of the handler list, so concurrent Add/Remove never races with an
// in-flight dispatch. A failing or panicking handler is logged and skipped.
func (s *Session) runHandlers(evt Event) {
	s.handlersMu.RLock()
	snapshot := make([]namedHandler, len(s.handlers))
	copy(snapshot, s.handlers)
	s.handlersMu.RUnlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Errorf("handler %s panicked: %v", h.name, r)
				}
			}()
			if err := h.fn(s, evt); err != nil {
				s.log.Errorf("handler %s error: %v", h.name, err)
			}
		}()
	}
}

func (s *Session) notifyStatus() {
	if s.onStatusChange != nil {
		s.onStatusChange(s.Status())
	}
}

// stop terminates the dispatch loop. Called when the session is removed
// from the registry or the process shuts down.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
