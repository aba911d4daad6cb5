package relayauth

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/happy-coder/happy/internal/store"
)

const (
	deviceCodeExpiry = 15 * time.Minute
	userCodeChars    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no I/O/0/1
)

// Handlers serves the pairing HTTP surface the relay mounts alongside its
// WebSocket endpoint.
type Handlers struct {
	Store *store.Store
}

func NewHandlers(s *store.Store) *Handlers { return &Handlers{Store: s} }

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/device", h.handleAuthDevice)
	mux.HandleFunc("POST /auth/token", h.handleAuthToken)
	mux.HandleFunc("POST /auth/claim", h.handleAuthClaim)
	mux.HandleFunc("POST /auth/refresh", h.handleAuthRefresh)
}

// handleAuthDevice starts the pairing flow: the daemon presents its
// machine id and receives a short device code (for polling) plus a
// short user code (for the operator to type into a claiming surface).
func (h *Handlers) handleAuthDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID string `json:"machine_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MachineID == "" {
		writeError(w, http.StatusBadRequest, "machine_id is required")
		return
	}

	deviceCode := uuid.New().String()
	userCode := generateUserCode(6)
	expiresAt := time.Now().Add(deviceCodeExpiry)

	if err := h.Store.CreateDeviceCode(deviceCode, userCode, req.MachineID, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      deviceCode,
		"user_code":        userCode,
		"verification_url": "/auth/claim",
		"expires_in":       int(deviceCodeExpiry.Seconds()),
		"interval":         5,
	})
}

// handleAuthToken is what the daemon polls at the advertised interval
// until the operator has claimed the code.
func (h *Handlers) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceCode string `json:"device_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "device_code is required")
		return
	}

	dc, err := h.Store.GetDeviceCode(req.DeviceCode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dc == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "invalid_code"})
		return
	}
	if time.Now().After(dc.ExpiresAt) {
		writeJSON(w, http.StatusOK, map[string]string{"error": "expired_code"})
		return
	}
	if !dc.Claimed || dc.AccountID == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "authorization_pending"})
		return
	}

	token := uuid.New().String()
	if err := h.Store.CreateDeviceToken(token, *dc.AccountID, dc.MachineID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"account_id": *dc.AccountID,
	})
}

// handleAuthClaim is the operator-facing step: typing the short user code
// binds the pending device code to an account, creating one if this is the
// first device ever paired under it.
func (h *Handlers) handleAuthClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserCode  string `json:"user_code"`
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserCode == "" {
		writeError(w, http.StatusBadRequest, "user_code is required")
		return
	}

	dc, err := h.Store.GetDeviceCodeByUserCode(strings.ToUpper(req.UserCode))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dc == nil {
		writeError(w, http.StatusNotFound, "invalid or expired user code")
		return
	}

	accountID := req.AccountID
	if accountID == "" {
		accountID = uuid.New().String()
	}
	if _, err := h.Store.CreateAccount(accountID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Store.ClaimDeviceCode(dc.Code, accountID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claimed":    true,
		"account_id": accountID,
	})
}

// handleAuthRefresh rotates a device token — the old one is revoked and a
// fresh one issued atomically from the caller's perspective.
func (h *Handlers) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	accountID, machineID, err := h.Store.ValidateToken(req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if err := h.Store.DeleteToken(req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	newToken := uuid.New().String()
	if err := h.Store.CreateDeviceToken(newToken, accountID, machineID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      newToken,
		"account_id": accountID,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func generateUserCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(userCodeChars))))
		b[i] = userCodeChars[idx.Int64()]
	}
	return string(b)
}
