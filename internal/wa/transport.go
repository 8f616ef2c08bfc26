package wa

import (
	"context"
	"strings"
	"sync"
	"time"

	"wa-gateway/internal/helper"
	"wa-gateway/internal/model"
	"wa-gateway/internal/session"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	qrLoginTimeout    = 3 * time.Minute
	heartbeatInterval = 5 * time.Minute
)

// Transport adapts one whatsmeow client to the session.Transport contract.
// whatsmeow events are translated into the session event types and pushed
// through the sink; the session layer decides what to do with them.
type Transport struct {
	id     string
	mode   session.LoginMode
	client *whatsmeow.Client
	sink   session.EventSink
	log    waLog.Logger

	mu              sync.Mutex
	qrCancel        context.CancelFunc
	heartbeatCancel context.CancelFunc
}

// Connect brings the socket up. For an unpaired device in QR mode the QR
// channel has to be consumed before connecting, same dance as always with
// whatsmeow.
func (t *Transport) Connect(ctx context.Context) error {
	if t.mode == session.LoginModeQR && t.client.Store.ID == nil {
		qrCtx, cancel := context.WithTimeout(context.Background(), qrLoginTimeout)
		qrChan, err := t.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return err
		}
		t.mu.Lock()
		t.qrCancel = cancel
		t.mu.Unlock()

		if err := t.client.Connect(); err != nil {
			cancel()
			return err
		}
		go t.pumpQR(qrCtx, qrChan)
		return nil
	}

	return t.client.Connect()
}

func (t *Transport) pumpQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		select {
		case <-ctx.Done():
			t.log.Infof("QR generation cancelled or timed out")
			t.sink(session.DisconnectedEvent{Reason: session.CloseTimeout, Err: ctx.Err()})
			return
		default:
		}

		switch {
		case evt.Event == "code":
			t.sink(session.QRCodeEvent{Code: evt.Code})
		case evt.Event == "success":
			t.log.Infof("QR scanned, pairing successful")
			return
		case evt.Event == "timeout":
			t.log.Infof("QR login timed out")
			t.sink(session.DisconnectedEvent{Reason: session.CloseTimeout})
			return
		case strings.HasPrefix(evt.Event, "err-"):
			t.log.Warnf("QR error: %s", evt.Event)
			t.sink(session.DisconnectedEvent{Reason: session.CloseBadSession, Err: evt.Error})
			return
		}
	}
}

func (t *Transport) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		jid := ""
		if t.client.Store.ID != nil {
			jid = t.client.Store.ID.String()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := t.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
			t.log.Warnf("failed to send presence: %v", err)
		}
		cancel()
		t.startHeartbeat()

		if err := model.UpdateInstanceOnConnected(t.id, jid, helper.ExtractPhoneFromJID(jid)); err != nil {
			t.log.Warnf("failed to update instance on connected: %v", err)
		}
		t.sink(session.ConnectedEvent{JID: jid})

	case *events.PairSuccess:
		t.log.Infof("pair success: %s", evt.ID)

	case *events.LoggedOut:
		t.stopHeartbeat()
		if err := model.UpdateInstanceOnLoggedOut(t.id); err != nil {
			t.log.Warnf("failed to update instance on logged out: %v", err)
		}
		t.sink(session.DisconnectedEvent{Reason: session.CloseLoggedOut})

	case *events.StreamReplaced:
		// another device took over this session's stream
		t.sink(session.DisconnectedEvent{Reason: session.CloseDeviceMismatch})

	case *events.ConnectFailure:
		t.stopHeartbeat()
		t.sink(session.DisconnectedEvent{Reason: classifyConnectFailure(evt.Reason)})

	case *events.Disconnected:
		t.stopHeartbeat()
		if err := model.UpdateInstanceOnDisconnected(t.id); err != nil {
			t.log.Warnf("failed to update instance on disconnected: %v", err)
		}
		t.sink(session.DisconnectedEvent{Reason: session.CloseNetwork})

	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		t.sink(session.MessageEvent{
			From:     evt.Info.Sender.String(),
			Chat:     evt.Info.Chat.String(),
			PushName: evt.Info.PushName,
			Text:     extractText(evt.Message),
			IsGroup:  evt.Info.IsGroup,
		})

	case *events.GroupInfo:
		if len(evt.Join) > 0 {
			t.sink(session.GroupParticipantsEvent{
				GroupID:      evt.JID.String(),
				Participants: jidStrings(evt.Join),
				Action:       "add",
			})
		}
		if len(evt.Leave) > 0 {
			t.sink(session.GroupParticipantsEvent{
				GroupID:      evt.JID.String(),
				Participants: jidStrings(evt.Leave),
				Action:       "remove",
			})
		}
	}
}

// classifyConnectFailure maps whatsmeow connect failures onto the close
// reason taxonomy. Anything that requires a fresh login is non-recoverable.
func classifyConnectFailure(r events.ConnectFailureReason) session.CloseReason {
	switch {
	case r.IsLoggedOut():
		return session.CloseLoggedOut
	case r == events.ConnectFailureTempBanned:
		return session.CloseForbidden
	case r == events.ConnectFailureClientOutdated:
		return session.CloseBadSession
	default:
		return session.CloseNetwork
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}

func jidStrings(jids []types.JID) []string {
	out := make([]string, len(jids))
	for i, j := range jids {
		out[i] = j.String()
	}
	return out
}

// RequestPairingCode asks WhatsApp for a phone-pairing code.
func (t *Transport) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	return t.client.PairPhone(ctx, phoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

// SendMessage sends a plain text message to a user phone number or a group
// JID.
func (t *Transport) SendMessage(ctx context.Context, to string, text string) error {
	jid, err := targetJID(to)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	_, err = t.client.SendMessage(ctx, jid, msg)
	return err
}

func targetJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	return helper.FormatPhoneNumber(to)
}

// GroupName resolves a group JID to its subject.
func (t *Transport) GroupName(ctx context.Context, groupJID string) (string, error) {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return "", err
	}
	info, err := t.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

func (t *Transport) IsConnected() bool {
	return t.client.IsConnected()
}

// Logout unlinks the device from WhatsApp and disconnects. whatsmeow
// deletes the device bundle from its store as part of a successful logout.
func (t *Transport) Logout(ctx context.Context) error {
	t.teardown()
	if t.client.Store.ID == nil {
		t.client.Disconnect()
		return nil
	}
	err := t.client.Logout(ctx)
	t.client.Disconnect()
	return err
}

// Close disconnects without unlinking.
func (t *Transport) Close() {
	t.teardown()
	t.client.Disconnect()
}

func (t *Transport) teardown() {
	t.stopHeartbeat()
	t.mu.Lock()
	if t.qrCancel != nil {
		t.qrCancel()
		t.qrCancel = nil
	}
	t.mu.Unlock()
}

// startHeartbeat keeps presence fresh so the phone shows the device online.
func (t *Transport) startHeartbeat() {
	t.mu.Lock()
	if t.heartbeatCancel != nil {
		t.heartbeatCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.heartbeatCancel = cancel
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !t.client.IsConnected() {
					return
				}
				if err := t.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
					t.log.Warnf("heartbeat failed: %v", err)
				}
			}
		}
	}()
}

func (t *Transport) stopHeartbeat() {
	t.mu.Lock()
	if t.heartbeatCancel != nil {
		t.heartbeatCancel()
		t.heartbeatCancel = nil
	}
	t.mu.Unlock()
}
