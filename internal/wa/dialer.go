package wa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wa-gateway/internal/model"
	"wa-gateway/internal/session"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Dialer builds whatsmeow-backed transports. Credential bundles live in the
// whatsmeow sqlstore keyed by JID; the wa_instances table maps session ids
// to JIDs so a restored session finds its device again.
type Dialer struct {
	container *sqlstore.Container
	log       waLog.Logger
}

func NewDialer(container *sqlstore.Container, deviceName string, log waLog.Logger) *Dialer {
	if log == nil {
		log = waLog.Noop
	}
	// Device name shows up in the phone's linked devices list. Global
	// whatsmeow setting, set once before any device is created.
	store.DeviceProps.Os = proto.String(deviceName)
	return &Dialer{container: container, log: log}
}

// Dial builds a client attached to the credential bundle stored under id,
// or a fresh device when none is stored. Our session layer owns the
// reconnect policy, so whatsmeow's own auto-reconnect is turned off.
func (d *Dialer) Dial(id string, mode session.LoginMode, sink session.EventSink) (session.Transport, error) {
	ctx := context.Background()

	if err := model.InsertInstance(id, string(mode)); err != nil {
		return nil, fmt.Errorf("ensure instance row: %w", err)
	}

	device, err := d.deviceFor(ctx, id)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, d.log.Sub("Client").Sub(id))
	client.EnableAutoReconnect = false

	t := &Transport{
		id:     id,
		mode:   mode,
		client: client,
		sink:   sink,
		log:    d.log.Sub(id),
	}
	client.AddEventHandler(t.handleEvent)
	return t, nil
}

func (d *Dialer) deviceFor(ctx context.Context, id string) (*store.Device, error) {
	inst, err := model.GetInstanceByInstanceID(id)
	if err == nil && inst.JID.Valid && inst.JID.String != "" {
		jid, perr := types.ParseJID(inst.JID.String)
		if perr == nil {
			device, gerr := d.container.GetDevice(ctx, jid)
			if gerr == nil && device != nil {
				return device, nil
			}
		}
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return d.container.NewDevice(), nil
}

// StoredSessions lists persisted session identifiers for startup recovery.
func (d *Dialer) StoredSessions(ctx context.Context) ([]string, error) {
	return model.GetAllInstanceIDs()
}

// HasValidCredentials reports whether the session has a paired device with
// a usable bundle in the store. Absence or a broken JID means the session
// needs a fresh QR/pairing login and must not auto-connect at startup.
func (d *Dialer) HasValidCredentials(ctx context.Context, id string) bool {
	inst, err := model.GetInstanceByInstanceID(id)
	if err != nil || !inst.JID.Valid || inst.JID.String == "" {
		return false
	}
	jid, err := types.ParseJID(inst.JID.String)
	if err != nil {
		return false
	}
	device, err := d.container.GetDevice(ctx, jid)
	return err == nil && device != nil && device.ID != nil
}

// PurgeCredentials drops the device bundle for the session. The instance
// row is kept (marked logged out) so the id survives for a re-login.
func (d *Dialer) PurgeCredentials(ctx context.Context, id string) error {
	inst, err := model.GetInstanceByInstanceID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if inst.JID.Valid && inst.JID.String != "" {
		if jid, perr := types.ParseJID(inst.JID.String); perr == nil {
			if device, gerr := d.container.GetDevice(ctx, jid); gerr == nil && device != nil {
				if derr := d.container.DeleteDevice(ctx, device); derr != nil {
					d.log.Warnf("failed to delete device store for %s: %v", id, derr)
				}
			}
		}
	}
	return model.UpdateInstanceOnLoggedOut(id)
}
