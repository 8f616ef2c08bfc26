package session

import "fmt"

// ConnectionState is the lifecycle state of a single session. Exactly one
// holds at any instant.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateCoolingDown  ConnectionState = "cooling_down"
	StateLoggedOut    ConnectionState = "logged_out"
)

// LoginMode selects the authentication path for a connection attempt.
// QR and pairing are mutually exclusive per attempt.
type LoginMode string

const (
	LoginModeQR      LoginMode = "qr"
	LoginModePairing LoginMode = "pairing"
)

// ParseLoginMode validates a user-supplied login mode string.
func ParseLoginMode(s string) (LoginMode, error) {
	switch LoginMode(s) {
	case LoginModeQR, LoginModePairing:
		return LoginMode(s), nil
	case "":
		return LoginModeQR, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLoginMode, s)
	}
}

// Status is a read-only snapshot of a session, safe to hand to the REST
// layer and the websocket hub.
type Status struct {
	ID                 string          `json:"id"`
	ConnectionState    ConnectionState `json:"connectionState"`
	LoginMode          LoginMode       `json:"loginMode"`
	JID                string          `json:"jid,omitempty"`
	QRImage            string          `json:"qrImage,omitempty"`
	PairingCode        string          `json:"pairingCode,omitempty"`
	PairingPhoneNumber string          `json:"pairingPhoneNumber,omitempty"`
	RetryCount         int             `json:"retryCount"`
}
