package handler

import (
	"errors"
	"log"
	"net/http"

	"wa-gateway/internal/model"
	"wa-gateway/internal/session"

	"github.com/labstack/echo/v4"
)

//**********************************
//
// WHATSAPP SESSION LIFECYCLE
//
//**********************************

type CreateSessionRequest struct {
	SessionID   string `json:"sessionId"`
	LoginMode   string `json:"loginMode"`
	PhoneNumber string `json:"phoneNumber"`
}

// GET /sessions
func ListSessions(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		statuses := reg.List()
		return SuccessResponse(c, http.StatusOK, "Sessions retrieved", map[string]interface{}{
			"total":    len(statuses),
			"active":   reg.ActiveCount(),
			"sessions": statuses,
		})
	}
}

// POST /sessions
// Creates a session in QR mode by default; pass loginMode "pairing" plus a
// phoneNumber to start a phone-pairing login instead.
func CreateSession(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req CreateSessionRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
		}

		mode, err := session.ParseLoginMode(req.LoginMode)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid login mode", "VALIDATION_ERROR", err.Error())
		}

		var s *session.Session
		if mode == session.LoginModePairing {
			s, err = reg.CreateWithMode(req.SessionID, mode, req.PhoneNumber)
		} else {
			s, err = reg.Create(req.SessionID)
		}
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSessionExists):
				return ErrorResponse(c, http.StatusConflict, "Session already exists", "SESSION_EXISTS", "")
			case errors.Is(err, session.ErrPhoneRequired), errors.Is(err, session.ErrInvalidLoginMode):
				return ErrorResponse(c, http.StatusBadRequest, "Invalid login mode / phone number combination", "VALIDATION_ERROR", err.Error())
			default:
				return ErrorResponse(c, http.StatusInternalServerError, "Failed to create session", "CREATE_SESSION_FAILED", err.Error())
			}
		}

		return SuccessResponse(c, http.StatusOK, "Session created", s.Status())
	}
}

// GET /sessions/:sessionId
func GetSessionStatus(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := reg.Get(c.Param("sessionId"))
		if err != nil {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		return SuccessResponse(c, http.StatusOK, "Status retrieved", s.Status())
	}
}

// GET /qr/:sessionId
func GetQR(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := reg.Get(c.Param("sessionId"))
		if err != nil {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}

		st := s.Status()
		if st.ConnectionState == session.StateConnected {
			return SuccessResponse(c, http.StatusOK, "Already connected", map[string]interface{}{
				"status": "already_connected",
				"jid":    st.JID,
			})
		}
		if st.QRImage == "" {
			return ErrorResponse(c, http.StatusNotFound, "No QR code available yet", "QR_NOT_AVAILABLE",
				"Connect the session in QR mode and retry, or listen for QR_GENERATED on the websocket")
		}
		return SuccessResponse(c, http.StatusOK, "QR code retrieved", map[string]interface{}{
			"qrImage": st.QRImage,
		})
	}
}

type PairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// POST /sessions/:sessionId/pairing-code
func RequestPairingCode(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := reg.Get(c.Param("sessionId"))
		if err != nil {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}

		var req PairingCodeRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
		}

		code, err := s.RequestPairingCode(c.Request().Context(), req.PhoneNumber)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrPhoneRequired), errors.Is(err, session.ErrInvalidLoginMode):
				return ErrorResponse(c, http.StatusBadRequest, "Invalid pairing request", "VALIDATION_ERROR", err.Error())
			case errors.Is(err, session.ErrTransportNotReady):
				return ErrorResponse(c, http.StatusConflict, "Session transport not ready, connect first", "TRANSPORT_NOT_READY", err.Error())
			default:
				return ErrorResponse(c, http.StatusInternalServerError, "Failed to request pairing code", "PAIRING_FAILED", err.Error())
			}
		}

		return SuccessResponse(c, http.StatusOK, "Pairing code generated", map[string]interface{}{
			"pairingCode": code,
		})
	}
}

type SwitchLoginModeRequest struct {
	LoginMode   string `json:"loginMode"`
	PhoneNumber string `json:"phoneNumber"`
}

// POST /sessions/:sessionId/login-mode
// Forces a disconnect of any active connection and reconnects under the
// new mode.
func SwitchLoginMode(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := c.Param("sessionId")

		var req SwitchLoginModeRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
		}

		mode, err := session.ParseLoginMode(req.LoginMode)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid login mode", "VALIDATION_ERROR", err.Error())
		}

		s, err := reg.SwitchLoginMode(sessionID, mode, req.PhoneNumber)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSessionNotFound):
				return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
			case errors.Is(err, session.ErrPhoneRequired), errors.Is(err, session.ErrInvalidLoginMode):
				return ErrorResponse(c, http.StatusBadRequest, "Invalid login mode / phone number combination", "VALIDATION_ERROR", err.Error())
			default:
				return ErrorResponse(c, http.StatusInternalServerError, "Failed to switch login mode", "SWITCH_MODE_FAILED", err.Error())
			}
		}

		if err := model.UpdateInstanceLoginMode(sessionID, string(mode), req.PhoneNumber); err != nil {
			log.Printf("Warning: failed to persist login mode for %s: %v", sessionID, err)
		}

		return SuccessResponse(c, http.StatusOK, "Login mode switched", s.Status())
	}
}

// POST /sessions/:sessionId/reconnect
func ReconnectSession(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := reg.Reconnect(c.Param("sessionId")); err != nil {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		return SuccessResponse(c, http.StatusOK, "Reconnect triggered", map[string]interface{}{
			"sessionId": c.Param("sessionId"),
		})
	}
}

// POST /logout/:sessionId
// Unlinks the device and purges its credentials, but keeps the session in
// the registry for a fresh login.
func Logout(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := reg.Get(c.Param("sessionId"))
		if err != nil {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		if err := s.Logout(c.Request().Context()); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to logout", "LOGOUT_FAILED", err.Error())
		}
		return SuccessResponse(c, http.StatusOK, "Logged out successfully", map[string]interface{}{
			"sessionId": s.ID(),
		})
	}
}

// DELETE /sessions/:sessionId
// Logs out, removes the session from the registry and drops its persisted
// record.
func DeleteSession(reg *session.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := c.Param("sessionId")
		if !reg.Delete(c.Request().Context(), sessionID) {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		if err := model.DeleteInstanceByInstanceID(sessionID); err != nil {
			log.Printf("Warning: failed to delete instance row for %s: %v", sessionID, err)
		}
		return SuccessResponse(c, http.StatusOK, "Session deleted successfully", map[string]interface{}{
			"sessionId": sessionID,
		})
	}
}
