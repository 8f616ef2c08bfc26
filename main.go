package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wa-gateway/config"
	"wa-gateway/database"
	"wa-gateway/internal/bot"
	"wa-gateway/internal/handler"
	"wa-gateway/internal/helper"
	customMiddleware "wa-gateway/internal/middleware"
	"wa-gateway/internal/service"
	"wa-gateway/internal/session"
	"wa-gateway/internal/wa"
	"wa-gateway/internal/ws"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
)

func main() {

	// Load .env (ignore error when the file is absent, e.g. in production)
	_ = godotenv.Load()

	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	database.InitWhatsmeow(cfg.DatabaseURL)

	if cfg.AppDatabaseURL == "" {
		log.Fatal("APP_DATABASE_URL is not set")
	}
	database.InitAppDB(cfg.AppDatabaseURL)
	helper.InitGatewaySchema()

	// feature flags (WEBHOOK & WEBSOCKET)
	config.EnableWebhook = strings.ToLower(os.Getenv("GATEWAY_ENABLE_WEBHOOK")) == "true"
	config.EnableWebsocketIncomingMessage = strings.ToLower(os.Getenv("GATEWAY_ENABLE_WEBSOCKET_INCOMING_MSG")) == "true"
	log.Printf("feature flags -> webhook: %v, websocket_incoming_msg: %v",
		config.EnableWebhook, config.EnableWebsocketIncomingMessage)

	if cfg.JWTSecret == "" {
		log.Println("JWT_SECRET is not set")
	}
	service.InitAuthConfig(cfg.JWTSecret)

	// WebSocket hub for realtime status / QR / pairing code events
	hub := ws.NewHub()
	go hub.Run()

	// **************************
	// session registry
	// **************************

	dialer := wa.NewDialer(database.Container, cfg.DeviceName, waLog.Stdout("WA", "INFO", true))
	registry := session.NewRegistry(dialer, cfg.SessionTuning, waLog.Stdout("Session", "INFO", true))
	registry.SetStartupConnectDelay(cfg.StartupConnects)
	registry.SetStatusListener(func(st session.Status) {
		hub.Publish(ws.StatusChangedEvent(st))
	})

	// standard handler set, registered on every session
	registry.AddDefaultHandler("logHandler", bot.LogHandler)
	registry.AddDefaultHandler("groupGreeter", bot.GroupGreeter)
	if config.EnableWebhook {
		registry.AddDefaultHandler("webhook", service.WebhookHandler)
	}
	if config.EnableWebsocketIncomingMessage {
		registry.AddDefaultHandler("wsIncoming", func(s *session.Session, evt session.Event) error {
			if msg, ok := evt.(session.MessageEvent); ok {
				hub.Publish(ws.WsEvent{
					Event:     ws.EventIncomingMessage,
					Timestamp: time.Now().UTC(),
					Data: map[string]interface{}{
						"sessionId": s.ID(),
						"from":      msg.From,
						"chat":      msg.Chat,
						"text":      msg.Text,
					},
				})
			}
			return nil
		})
	}

	// Rehydrate previously persisted sessions; only the ones with valid
	// stored credentials reconnect automatically.
	log.Println("Loading existing sessions...")
	if err := registry.RestoreSessions(context.Background()); err != nil {
		log.Printf("Warning: failed to restore sessions: %v", err)
	}

	// Setup Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	allowOrigins := strings.Split(cfg.AllowOrigins, ",")
	for i, o := range allowOrigins {
		allowOrigins[i] = strings.TrimSpace(o)
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
	}))

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: time.Duration(cfg.RateWindowMin) * time.Minute,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusUnauthorized:
			response["message"] = "Authentication required. Please login first."
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		}
		c.JSON(code, response)
	}

	// =====================================================
	// PUBLIC ROUTES
	// =====================================================
	e.POST("/login", handler.LoginUser)
	e.GET("/ws", handler.WebSocketHandler(hub))
	e.GET("/", func(c echo.Context) error { // health check
		return c.JSON(200, map[string]interface{}{
			"success": true,
			"message": "WhatsApp Gateway is running",
			"version": "1.0.0",
		})
	})

	// =====================================================
	// SESSION ROUTES (JWT required)
	// =====================================================
	api := e.Group("/api", customMiddleware.JWTAuthMiddleware())

	api.GET("/sessions", handler.ListSessions(registry))
	api.POST("/sessions", handler.CreateSession(registry))
	api.GET("/sessions/:sessionId", handler.GetSessionStatus(registry))
	api.GET("/qr/:sessionId", handler.GetQR(registry))
	api.POST("/sessions/:sessionId/pairing-code", handler.RequestPairingCode(registry))
	api.POST("/sessions/:sessionId/login-mode", handler.SwitchLoginMode(registry))
	api.POST("/sessions/:sessionId/reconnect", handler.ReconnectSession(registry))
	api.POST("/sessions/:sessionId/webhook", handler.SetWebhookConfig)
	api.POST("/logout/:sessionId", handler.Logout(registry))
	api.DELETE("/sessions/:sessionId", handler.DeleteSession(registry))

	// Message routes
	api.POST("/send/:sessionId", handler.SendMessage(registry))

	log.Printf("Server starting on port %s, baseURL=%s", cfg.Port, cfg.BaseURL)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown: close every session's transport before the HTTP
	// server goes away.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down, closing all sessions...")
	registry.ShutdownAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("Warning: server shutdown error: %v", err)
	}
}
