package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"wa-gateway/internal/model"

	"github.com/labstack/echo/v4"
)

type WebhookConfigRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// POST /sessions/:sessionId/webhook
// Configures (or clears, with an empty url) the incoming-message webhook
// for a session.
func SetWebhookConfig(c echo.Context) error {
	sessionID := c.Param("sessionId")

	var req WebhookConfigRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}

	if err := model.UpdateInstanceWebhook(sessionID, req.URL, req.Secret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to update webhook config", "UPDATE_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Webhook config updated", map[string]interface{}{
		"sessionId": sessionID,
	})
}
