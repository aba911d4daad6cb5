package directconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pion/webrtc/v4"
)

// Dial attempts a direct WebRTC connection to a peer daemon at addr,
// authenticating with a handoff token that peer previously issued to us
// (over the relay, out of band). It blocks until the data channel opens or
// ctx is cancelled.
func Dial(ctx context.Context, addr, handoffToken, ourMachineID string, iceServers []webrtc.ICEServer) (*Peer, error) {
	peer, offerSDP, err := Offer(iceServers)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	body, err := json.Marshal(offerRequest{SenderMachineID: ourMachineID, SDP: offerSDP})
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/directconn/offer", bytes.NewReader(body))
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+handoffToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("offer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		peer.Close()
		return nil, fmt.Errorf("offer rejected: status %d", resp.StatusCode)
	}

	var answer offerResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		peer.Close()
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if err := peer.SetAnswer(answer.SDP); err != nil {
		peer.Close()
		return nil, err
	}

	select {
	case <-peer.Ready():
		return peer, nil
	case <-ctx.Done():
		peer.Close()
		return nil, ctx.Err()
	}
}
