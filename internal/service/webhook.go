package service

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"wa-gateway/internal/model"
	"wa-gateway/internal/session"
)

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

var webhookClient = &http.Client{Timeout: 5 * time.Second}

// WebhookHandler is a session message handler forwarding incoming messages
// to the webhook URL configured for the session, if any. Signed with
// HMAC-SHA256 when a secret is set.
func WebhookHandler(s *session.Session, evt session.Event) error {
	msg, ok := evt.(session.MessageEvent)
	if !ok {
		return nil
	}

	inst, err := model.GetInstanceByInstanceID(s.ID())
	if err != nil || !inst.WebhookURL.Valid || inst.WebhookURL.String == "" {
		return nil
	}

	payload := WebhookPayload{
		Event:     "incoming_message",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"sessionId": s.ID(),
			"from":      msg.From,
			"chat":      msg.Chat,
			"pushName":  msg.PushName,
			"text":      msg.Text,
			"isGroup":   msg.IsGroup,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, inst.WebhookURL.String, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if inst.WebhookSecret.Valid && inst.WebhookSecret.String != "" {
		mac := hmac.New(sha256.New, []byte(inst.WebhookSecret.String))
		mac.Write(body)
		req.Header.Set("X-Gateway-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	go func() {
		resp, err := webhookClient.Do(req)
		if err != nil {
			log.Printf("webhook: send error: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()
	return nil
}
