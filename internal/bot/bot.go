// Package bot holds the standard handler set registered on every session:
// a logger for incoming traffic and the group welcome/goodbye responder.
package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"wa-gateway/internal/helper"
	"wa-gateway/internal/session"
)

// LogHandler prints incoming messages, mirroring what the gateway always
// logged per message.
func LogHandler(s *session.Session, evt session.Event) error {
	msg, ok := evt.(session.MessageEvent)
	if !ok {
		return nil
	}
	log.Printf("[%s] Message from %s: %s", s.ID(), msg.From, msg.Text)
	return nil
}

// GroupGreeter welcomes members joining a group and waves goodbye to
// leavers. Replies are sent into the group through the same session.
func GroupGreeter(s *session.Session, evt session.Event) error {
	update, ok := evt.(session.GroupParticipantsEvent)
	if !ok {
		return nil
	}
	if update.Action != "add" && update.Action != "remove" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	groupName := s.GroupName(ctx, update.GroupID)
	if groupName == "" {
		groupName = "the group"
	}

	for _, p := range update.Participants {
		number := helper.ExtractPhoneFromJID(p)
		var text string
		if update.Action == "add" {
			text = fmt.Sprintf("👋 Welcome +%s to %s!", number, groupName)
		} else {
			text = fmt.Sprintf("👋 Goodbye +%s, thanks for being part of %s!", number, groupName)
		}
		if err := s.SendMessage(ctx, update.GroupID, text); err != nil {
			return err
		}
	}
	return nil
}
