package database

import (
	"context"
	"log"

	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Container holds the whatsmeow device store: one credential bundle per
// paired device, keyed by JID. The wa dialer maps session ids to JIDs
// through the wa_instances table.
var Container *sqlstore.Container

func InitWhatsmeow(dbURL string) {
	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(context.Background(), "postgres", dbURL, dbLog)
	if err != nil {
		log.Fatal("Failed to connect whatsmeow DB:", err)
	}
	Container = container
	log.Println("Whatsmeow store connected successfully")
}
