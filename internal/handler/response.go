package handler

import "github.com/labstack/echo/v4"

// SuccessResponse is the uniform success envelope for the whole API.
func SuccessResponse(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// ErrorResponse is the uniform error envelope. The error code is a stable
// machine-readable string so callers can distinguish "session does not
// exist" from "not connected" from "bad parameters".
func ErrorResponse(c echo.Context, code int, message, errCode, detail string) error {
	return c.JSON(code, map[string]interface{}{
		"success": false,
		"message": message,
		"error": map[string]string{
			"code":   errCode,
			"detail": detail,
		},
	})
}
