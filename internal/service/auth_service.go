// internal/service/auth_service.go
package service

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Single-operator auth: the gateway API is protected by one operator
// account configured from the environment (bcrypt hash), and issues short
// lived JWTs for it.

var (
	jwtSecret         []byte
	accessTokenExpiry time.Duration

	operatorUsername     string
	operatorPasswordHash string

	ErrInvalidCredentials = errors.New("invalid username or password")
)

// InitAuthConfig initializes authentication configuration from environment
// variables.
func InitAuthConfig(secret string) {
	jwtSecret = []byte(secret)

	accessExp := os.Getenv("JWT_ACCESS_TOKEN_EXPIRY")
	if accessExp == "" {
		accessExp = "1h"
	}
	accessTokenExpiry, _ = time.ParseDuration(accessExp)
	if accessTokenExpiry <= 0 {
		accessTokenExpiry = time.Hour
	}

	operatorUsername = os.Getenv("OPERATOR_USERNAME")
	if operatorUsername == "" {
		operatorUsername = "admin"
	}
	operatorPasswordHash = os.Getenv("OPERATOR_PASSWORD_HASH")
}

// Claims represents JWT claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// LoginOperator verifies the operator credentials and returns an access
// token.
func LoginOperator(username, password string) (string, error) {
	if username != operatorUsername || operatorPasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(operatorPasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return generateAccessToken(username)
}

// HashPassword generates a bcrypt hash, handy for provisioning the
// OPERATOR_PASSWORD_HASH value.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func generateAccessToken(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateAccessToken parses and validates a bearer token.
func ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
