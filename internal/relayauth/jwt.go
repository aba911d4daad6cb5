// Package relayauth implements the device-code pairing flow and bearer
// credential issuance spec.md §6 describes: a daemon requests a device
// code, the operator claims it out-of-band (CLI, web, whatever channel
// carries the user code), and the daemon exchanges the claimed code for a
// long-lived token. Grounded on the teacher's internal/relay/handler.go and
// internal/relay/jwt.go.
package relayauth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConnectionClaims binds a signed connection token to the account and
// machine it was issued for. The relay's WebSocket authentication does not
// read these claims; it checks the device token against the store.
type ConnectionClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"acc,omitempty"`
	MachineID string `json:"mach,omitempty"`
}

// GenerateSecret returns a fresh random HMAC signing secret — used once at
// relay bootstrap if no secret is configured yet.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	return secret, nil
}

// IssueConnectionJWT creates a signed, long-lived JWT for a paired daemon.
// The device token exchanged by handleAuthToken is the bearer credential
// clients hold and the one the relay verifies on each Auth envelope; no
// code in this module issues or validates a connection JWT.
func IssueConnectionJWT(secret []byte, accountID, machineID string) (string, time.Time, error) {
	exp := time.Now().Add(365 * 24 * time.Hour)
	claims := ConnectionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		AccountID: accountID,
		MachineID: machineID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

func ValidateConnectionJWT(secret []byte, tokenString string) (*ConnectionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConnectionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(*ConnectionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return claims, nil
}
