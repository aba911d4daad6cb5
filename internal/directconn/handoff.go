// Package directconn implements the optional same-LAN WebRTC data-channel
// transport the Sync Client's reconnect loop tries as a faster, relay-free
// alternative once a peer has been introduced through the relay at least
// once. Grounded on the teacher's internal/direct (JWT-gated handoff) and
// internal/webrtc (PeerConnection + DataChannel management) packages.
package directconn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HandoffClaims authenticates a direct-mode connection attempt. Unlike the
// teacher's ES256-keyed handoff (signed by the relay's own keypair), this
// is HS256 over the same shared secret relayauth.ConnectionClaims already
// uses — this project has no per-relay ECDSA keypair, only the one HMAC
// secret every daemon connection is already signed with.
type HandoffClaims struct {
	jwt.RegisteredClaims
	AccountID     string `json:"acc,omitempty"`
	MachineID     string `json:"mach,omitempty"`
	PeerMachineID string `json:"peer,omitempty"`
}

// IssueHandoff mints a short-lived token one daemon hands its peer (over
// the relay, in an RPC call) so the peer can authenticate a subsequent
// direct WebRTC connection attempt without round-tripping through the
// relay again.
func IssueHandoff(secret []byte, accountID, machineID, peerMachineID string, ttl time.Duration) (string, error) {
	claims := HandoffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		AccountID:     accountID,
		MachineID:     machineID,
		PeerMachineID: peerMachineID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign handoff: %w", err)
	}
	return signed, nil
}

// ValidateHandoff checks a handoff token and that it was minted for
// expectedPeerMachineID specifically — a handoff issued for one peer must
// not authenticate a connection from a different one.
func ValidateHandoff(secret []byte, tokenString, expectedPeerMachineID string) (*HandoffClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HandoffClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse handoff: %w", err)
	}
	claims, ok := token.Claims.(*HandoffClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid handoff claims")
	}
	if claims.PeerMachineID != expectedPeerMachineID {
		return nil, fmt.Errorf("handoff was issued for a different peer")
	}
	return claims, nil
}
