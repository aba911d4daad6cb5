package directconn

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/happy-coder/happy/internal/logger"
)

// PeerHandler is invoked once a remote offer has been answered and the
// resulting Peer's data channel is expected to open shortly — the caller
// hands it off to whatever consumes sync frames (normally a thin adapter
// feeding syncclient's dispatch).
type PeerHandler func(peerMachineID string, p *Peer)

// Server accepts direct-mode offers from a paired peer daemon on the local
// network. Grounded on the teacher's internal/direct.Server, generalized
// from PTY-over-WebSocket to Sync-frames-over-WebRTC and from an ES256
// relay-signed JWT to the shared HS256 secret every daemon already holds.
type Server struct {
	Secret     []byte
	MachineID  string // this daemon's own machine id, the handoff's PeerMachineID
	ICEServers []webrtc.ICEServer
	OnPeer     PeerHandler

	mu       sync.Mutex
	listener net.Listener
}

// Start begins listening on addr (normally a loopback-adjacent LAN address
// the daemon advertises alongside its machine heartbeat).
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /directconn/offer", s.handleOffer)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("directconn listening", "addr", addr)
	return http.Serve(ln, mux)
}

// Close stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

type offerRequest struct {
	SenderMachineID string `json:"senderMachineId"`
	SDP             string `json:"sdp"`
}

type offerResponse struct {
	SDP string `json:"sdp"`
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")

	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	claims, err := ValidateHandoff(s.Secret, tokenStr, s.MachineID)
	if err != nil || claims.MachineID != req.SenderMachineID {
		http.Error(w, "invalid handoff", http.StatusUnauthorized)
		return
	}

	peer, answerSDP, err := Answer(s.ICEServers, req.SDP)
	if err != nil {
		http.Error(w, "webrtc answer failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.OnPeer != nil {
		s.OnPeer(req.SenderMachineID, peer)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offerResponse{SDP: answerSDP})
}
