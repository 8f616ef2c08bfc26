package model

import (
	"database/sql"
	"time"

	"wa-gateway/database"
)

// Instance is one row of wa_instances: the durable record of a session
// identifier, the JID it paired to and its advisory status. The credential
// bundle itself lives in the whatsmeow store, keyed by JID; this table is
// the session-id → JID directory scanned at startup.
type Instance struct {
	ID             int64
	InstanceID     string
	JID            sql.NullString
	PhoneNumber    sql.NullString
	LoginMode      string
	Status         string
	IsConnected    bool
	WebhookURL     sql.NullString
	WebhookSecret  sql.NullString
	CreatedAt      time.Time
	ConnectedAt    sql.NullTime
	DisconnectedAt sql.NullTime
}

const instanceColumns = `
    id, instance_id, jid, phone_number, login_mode, status, is_connected,
    webhook_url, webhook_secret, created_at, connected_at, disconnected_at
`

func scanInstance(row *sql.Row) (*Instance, error) {
	var inst Instance
	err := row.Scan(
		&inst.ID, &inst.InstanceID, &inst.JID, &inst.PhoneNumber,
		&inst.LoginMode, &inst.Status, &inst.IsConnected,
		&inst.WebhookURL, &inst.WebhookSecret,
		&inst.CreatedAt, &inst.ConnectedAt, &inst.DisconnectedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func InsertInstance(instanceID, loginMode string) error {
	_, err := database.AppDB.Exec(`
        INSERT INTO wa_instances (instance_id, login_mode, status, is_connected, created_at)
        VALUES ($1, $2, 'waiting_for_login', false, NOW())
        ON CONFLICT (instance_id) DO NOTHING
    `, instanceID, loginMode)
	return err
}

func GetInstanceByInstanceID(instanceID string) (*Instance, error) {
	row := database.AppDB.QueryRow(`
        SELECT `+instanceColumns+`
        FROM wa_instances WHERE instance_id = $1
    `, instanceID)
	return scanInstance(row)
}

func GetInstanceByJID(jid string) (*Instance, error) {
	row := database.AppDB.QueryRow(`
        SELECT `+instanceColumns+`
        FROM wa_instances WHERE jid = $1
    `, jid)
	return scanInstance(row)
}

// GetAllInstanceIDs lists every persisted session identifier, used by the
// registry's startup recovery.
func GetAllInstanceIDs() ([]string, error) {
	rows, err := database.AppDB.Query(`
        SELECT instance_id FROM wa_instances ORDER BY created_at
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func UpdateInstanceOnConnected(instanceID, jid, phoneNumber string) error {
	_, err := database.AppDB.Exec(`
        UPDATE wa_instances
        SET jid = $1, phone_number = $2, status = 'online',
            is_connected = true, connected_at = NOW(), disconnected_at = NULL
        WHERE instance_id = $3
    `, jid, phoneNumber, instanceID)
	return err
}

func UpdateInstanceOnDisconnected(instanceID string) error {
	_, err := database.AppDB.Exec(`
        UPDATE wa_instances
        SET status = 'disconnected', is_connected = false, disconnected_at = NOW()
        WHERE instance_id = $1
    `, instanceID)
	return err
}

func UpdateInstanceOnLoggedOut(instanceID string) error {
	_, err := database.AppDB.Exec(`
        UPDATE wa_instances
        SET jid = NULL, status = 'logged_out', is_connected = false,
            disconnected_at = NOW()
        WHERE instance_id = $1
    `, instanceID)
	return err
}

func UpdateInstanceLoginMode(instanceID, loginMode, phoneNumber string) error {
	_, err := database.AppDB.Exec(`
        UPDATE wa_instances
        SET login_mode = $1, phone_number = NULLIF($2, '')
        WHERE instance_id = $3
    `, loginMode, phoneNumber, instanceID)
	return err
}

func UpdateInstanceWebhook(instanceID, url, secret string) error {
	res, err := database.AppDB.Exec(`
        UPDATE wa_instances
        SET webhook_url = $1, webhook_secret = $2
        WHERE instance_id = $3
    `, url, secret, instanceID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func DeleteInstanceByInstanceID(instanceID string) error {
	_, err := database.AppDB.Exec(`
        DELETE FROM wa_instances WHERE instance_id = $1
    `, instanceID)
	return err
}
