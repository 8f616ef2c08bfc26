// internal/helper/schema.go
package helper

import (
	"log"

	"wa-gateway/database"
)

// InitGatewaySchema creates/ensures the gateway's own tables. The
// whatsmeow store manages its schema itself.
func InitGatewaySchema() {
	db := database.AppDB

	schema := `
        CREATE TABLE IF NOT EXISTS wa_instances (
            id                  SERIAL PRIMARY KEY,
            instance_id         VARCHAR(255) UNIQUE NOT NULL,
            jid                 VARCHAR(255),
            phone_number        VARCHAR(50),
            login_mode          VARCHAR(20) NOT NULL DEFAULT 'qr',
            status              VARCHAR(50) NOT NULL DEFAULT 'disconnected',
            is_connected        BOOLEAN NOT NULL DEFAULT false,
            webhook_url         TEXT,
            webhook_secret      TEXT,
            created_at          TIMESTAMP NOT NULL DEFAULT NOW(),
            connected_at        TIMESTAMP,
            disconnected_at     TIMESTAMP
        );

        CREATE INDEX IF NOT EXISTS idx_wa_instances_instance_id ON wa_instances(instance_id);
        CREATE INDEX IF NOT EXISTS idx_wa_instances_jid ON wa_instances(jid);
        CREATE INDEX IF NOT EXISTS idx_wa_instances_status ON wa_instances(status);
    `
	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("failed to init gateway schema: %v", err)
	}

	log.Println("Gateway schema ensured")
}
