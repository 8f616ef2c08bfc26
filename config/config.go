package config

import (
	"os"
	"time"

	"wa-gateway/internal/helper"
	"wa-gateway/internal/session"
)

// Feature flags, set once at startup.
var (
	EnableWebhook                  bool
	EnableWebsocketIncomingMessage bool
)

type Config struct {
	Port            string
	BaseURL         string
	DatabaseURL     string // whatsmeow device store
	AppDatabaseURL  string // gateway's own tables
	JWTSecret       string
	DeviceName      string
	AllowOrigins    string
	RateLimit       int
	RateBurst       int
	RateWindowMin   int
	SessionTuning   session.Tuning
	StartupConnects time.Duration // delay before restored sessions reconnect
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "2121"),
		BaseURL:        getEnv("BASEURL", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AppDatabaseURL: getEnv("APP_DATABASE_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		DeviceName:     getEnv("DEVICE_NAME", "WA Gateway"),
		AllowOrigins:   getEnv("CORS_ALLOW_ORIGINS", ""),
		RateLimit:      helper.GetEnvAsInt("RATE_LIMIT_PER_SECOND", 10),
		RateBurst:      helper.GetEnvAsInt("RATE_LIMIT_BURST", 10),
		RateWindowMin:  helper.GetEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 3),
		SessionTuning:  loadTuning(),
		StartupConnects: helper.GetEnvAsDuration(
			"WA_STARTUP_CONNECT_DELAY", time.Second),
	}
}

// loadTuning reads the retry/cooldown knobs. The defaults are the values
// the gateway has been running with in production; they are tuning, not
// protocol, so everything is overridable.
func loadTuning() session.Tuning {
	t := session.DefaultTuning()
	t.MaxRetries = helper.GetEnvAsInt("WA_MAX_RETRIES", t.MaxRetries)
	t.MaxFailureCycles = helper.GetEnvAsInt("WA_MAX_FAILURE_CYCLES", t.MaxFailureCycles)
	t.ReconnectBaseDelay = helper.GetEnvAsDuration("WA_RECONNECT_BASE_DELAY", t.ReconnectBaseDelay)
	t.ReconnectMaxDelay = helper.GetEnvAsDuration("WA_RECONNECT_MAX_DELAY", t.ReconnectMaxDelay)
	t.CooldownPeriod = helper.GetEnvAsDuration("WA_COOLDOWN_PERIOD", t.CooldownPeriod)
	t.PairingCodeDelay = helper.GetEnvAsDuration("WA_PAIRING_CODE_DELAY", t.PairingCodeDelay)
	return t
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
