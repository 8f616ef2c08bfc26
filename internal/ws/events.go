package ws

import (
	"time"

	"wa-gateway/internal/session"
)

// Event names pushed to frontend clients.
const (
	EventSessionStatusChanged = "SESSION_STATUS_CHANGED"
	EventQRGenerated          = "QR_GENERATED"
	EventPairingCodeGenerated = "PAIRING_CODE_GENERATED"
	EventIncomingMessage      = "INCOMING_MESSAGE"
)

// WsEvent is the envelope for everything sent over the websocket.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StatusChangedEvent wraps a session status snapshot for broadcast. The
// hub picks the event name based on which login artifact just appeared.
func StatusChangedEvent(st session.Status) WsEvent {
	name := EventSessionStatusChanged
	if st.QRImage != "" {
		name = EventQRGenerated
	} else if st.PairingCode != "" {
		name = EventPairingCodeGenerated
	}
	return WsEvent{
		Event:     name,
		Timestamp: time.Now().UTC(),
		Data:      st,
	}
}
