package session

import "context"

// CloseReason classifies why the transport reported a closed connection.
// The session only cares whether a reason is worth retrying.
type CloseReason int

const (
	CloseNetwork CloseReason = iota // transient network loss, stream error
	CloseLoggedOut
	CloseBadSession
	CloseDeviceMismatch
	CloseUnauthorized
	CloseForbidden
	CloseTimeout
)

func (r CloseReason) String() string {
	switch r {
	case CloseNetwork:
		return "network"
	case CloseLoggedOut:
		return "logged_out"
	case CloseBadSession:
		return "bad_session"
	case CloseDeviceMismatch:
		return "device_mismatch"
	case CloseUnauthorized:
		return "unauthorized"
	case CloseForbidden:
		return "forbidden"
	case CloseTimeout:
		return "timeout"
	}
	return "unknown"
}

// Recoverable reports whether a reconnect attempt makes sense for this
// reason. Anything that needs fresh authentication is not recoverable.
func (r CloseReason) Recoverable() bool {
	switch r {
	case CloseLoggedOut, CloseBadSession, CloseDeviceMismatch,
		CloseUnauthorized, CloseForbidden, CloseTimeout:
		return false
	}
	return true
}

// Event is a lifecycle or application event pushed by the transport into
// the session's dispatch loop. Concrete types below.
type Event interface{}

// QRCodeEvent carries one raw scannable code string (QR mode only).
type QRCodeEvent struct {
	Code string
}

// PairingCodeEvent carries a pairing code issued for the configured phone
// number (pairing mode only).
type PairingCodeEvent struct {
	Code string
}

// ConnectedEvent signals a fully established, authenticated connection.
type ConnectedEvent struct {
	JID string
}

// DisconnectedEvent signals the connection closed. Reason drives the
// reconnect policy.
type DisconnectedEvent struct {
	Reason CloseReason
	Err    error
}

// MessageEvent is one inbound application message.
type MessageEvent struct {
	From     string // sender JID
	Chat     string // chat JID (group or direct)
	PushName string
	Text     string
	IsGroup  bool
}

// GroupParticipantsEvent signals members joining or leaving a group chat.
type GroupParticipantsEvent struct {
	GroupID      string
	Participants []string
	Action       string // "add" or "remove"
}

// Transport is one live (or connecting) link to the messaging network.
// Implementations push Events through the sink given at dial time.
type Transport interface {
	// Connect starts the connection. Events arrive asynchronously.
	Connect(ctx context.Context) error
	// RequestPairingCode asks the network for a phone-pairing code. Only
	// valid before the session is authenticated.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)
	// SendMessage sends a text payload to a user or group JID.
	SendMessage(ctx context.Context, to string, text string) error
	// GroupName resolves a group JID to its subject, best effort.
	GroupName(ctx context.Context, groupJID string) (string, error)
	// IsConnected reports the live socket state.
	IsConnected() bool
	// Logout unlinks the device and purges its credential bundle.
	Logout(ctx context.Context) error
	// Close tears the socket down without touching credentials.
	Close()
}

// EventSink receives transport events. The session guarantees serialized
// processing per session; the transport may call it from any goroutine.
type EventSink func(Event)

// Dialer creates transports and owns the durable credential bundles keyed
// by session id. The whatsmeow implementation lives in internal/wa; tests
// use fakes.
type Dialer interface {
	// Dial builds a transport for the session in the given login mode,
	// attached to whatever credential bundle is stored under id.
	Dial(id string, mode LoginMode, sink EventSink) (Transport, error)
	// StoredSessions lists session ids that have a persisted bundle.
	StoredSessions(ctx context.Context) ([]string, error)
	// HasValidCredentials reports whether the bundle under id is non-empty
	// and well formed enough to resume without re-authentication.
	HasValidCredentials(ctx context.Context, id string) bool
	// PurgeCredentials removes the bundle under id.
	PurgeCredentials(ctx context.Context, id string) error
}
