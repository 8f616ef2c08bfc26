package handler

import (
	"errors"
	"net/http"

	"wa-gateway/internal/session"

	"github.com/labstack/echo/v4"
)

type SendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// POST /send/:sessionId
func SendMessage(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := reg.Get(c.Param("sessionId"))
		if err != nil {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "Please login first")
		}

		var req SendMessageRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if req.To == "" || req.Message == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'to' and 'message' are required", "VALIDATION_ERROR", "")
		}

		if err := s.SendMessage(c.Request().Context(), req.To, req.Message); err != nil {
			if errors.Is(err, session.ErrNotConnected) {
				return ErrorResponse(c, http.StatusBadRequest, "Session is not connected", "NOT_CONNECTED", "Please check the status endpoint")
			}
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to send message", "SEND_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Message sent successfully", map[string]interface{}{
			"sessionId": s.ID(),
			"to":        req.To,
		})
	}
}
