package directconn

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/happy-coder/happy/internal/logger"
)

// dataChannelLabel is the single channel every direct session opens — the
// Sync Client only ever needs one ordered, reliable byte stream, unlike the
// teacher's per-PTY-session "pty:<id>" labels.
const dataChannelLabel = "sync"

// Peer is one established (or establishing) direct connection to another
// daemon. It carries exactly one DataChannel, used the same way the Sync
// Client would use a *websocket.Conn: arbitrary-length JSON frames in,
// arbitrary-length JSON frames out.
type Peer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	onMsg   func([]byte)
	ready   chan struct{}
	readyCl sync.Once
	closed  bool
}

func newPeer(iceServers []webrtc.ICEServer) (*Peer, *webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &Peer{pc: pc, ready: make(chan struct{})}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("directconn peer state change", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.Close()
		}
	})
	return p, pc, nil
}

func (p *Peer) bind(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.readyCl.Do(func() { close(p.ready) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		handler := p.onMsg
		p.mu.Unlock()
		if handler != nil {
			handler(msg.Data)
		}
	})
}

// Offer creates a PeerConnection with a fresh DataChannel and returns the
// local SDP offer, including gathered ICE candidates (trickle-free —
// simplest to carry as a single RPC round trip over the relay).
func Offer(iceServers []webrtc.ICEServer) (*Peer, string, error) {
	p, pc, err := newPeer(iceServers)
	if err != nil {
		return nil, "", err
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create data channel: %w", err)
	}
	p.bind(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return nil, "", fmt.Errorf("no local description after ICE gathering")
	}
	return p, local.SDP, nil
}

// Answer accepts a remote SDP offer and returns the local SDP answer. The
// DataChannel arrives asynchronously via OnDataChannel once the remote
// side's channel negotiation completes.
func Answer(iceServers []webrtc.ICEServer, offerSDP string) (*Peer, string, error) {
	p, pc, err := newPeer(iceServers)
	if err != nil {
		return nil, "", err
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.bind(dc)
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return nil, "", fmt.Errorf("no local description after ICE gathering")
	}
	return p, local.SDP, nil
}

// SetAnswer completes an offerer-side Peer once the remote answer SDP has
// come back over the signaling round trip.
func (p *Peer) SetAnswer(answerSDP string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// Ready is closed once the data channel has opened and Send/OnMessage are
// usable.
func (p *Peer) Ready() <-chan struct{} { return p.ready }

// OnMessage registers the handler invoked for every frame the peer sends.
// Must be called before the channel opens to avoid missing early frames.
func (p *Peer) OnMessage(handler func([]byte)) {
	p.mu.Lock()
	p.onMsg = handler
	p.mu.Unlock()
}

// Send writes one frame to the data channel.
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("data channel not yet established")
	}
	return dc.Send(data)
}

// Close tears down the peer connection. Safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}
