// internal/middleware/jwt_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"wa-gateway/internal/service"

	"github.com/labstack/echo/v4"
)

// JWTAuthMiddleware validates the bearer token and puts the operator
// claims on the request context.
func JWTAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if authHeader == "" || !ok {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"message": "Unauthorized",
					"error":   map[string]string{"code": "UNAUTHORIZED"},
				})
			}

			claims, err := service.ValidateAccessToken(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"message": "Invalid or expired token",
					"error":   map[string]string{"code": "INVALID_TOKEN"},
				})
			}

			c.Set("user_claims", claims)
			c.Set("username", claims.Username)
			return next(c)
		}
	}
}
