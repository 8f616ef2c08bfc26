package database

import (
	"database/sql"
	"log"

	_ "github.com/lib/pq"
)

// AppDB is the gateway's own database (wa_instances), separate from the
// whatsmeow device store.
var AppDB *sql.DB

func InitAppDB(appDbURL string) {
	db, err := sql.Open("postgres", appDbURL)
	if err != nil {
		log.Fatal("Failed to connect app DB:", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping app DB:", err)
	}
	AppDB = db
	log.Println("App DB connected successfully")
}
