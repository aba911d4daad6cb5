package syncclient

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// wireConn is the minimal framed-byte-stream surface connectAndServe and
// send need — satisfied by the relay's WebSocket connection and, when a
// DirectDialer is configured, by a same-LAN WebRTC data channel.
type wireConn interface {
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return w.conn.Write(writeCtx, websocket.MessageText, data)
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w wsConn) Close() error { return w.conn.CloseNow() }

// DirectPeer is the surface directconn.Peer satisfies — kept local to
// avoid a hard import of internal/directconn from every syncclient caller
// that never configures a DirectDialer.
type DirectPeer interface {
	Ready() <-chan struct{}
	Send(data []byte) error
	OnMessage(handler func([]byte))
	Close() error
}

// directConn adapts a DirectPeer's callback-based OnMessage into the
// blocking Read wireConn expects, via a buffered channel.
type directConn struct {
	peer   DirectPeer
	frames chan []byte
	closed chan struct{}
}

func newDirectConn(peer DirectPeer) *directConn {
	d := &directConn{peer: peer, frames: make(chan []byte, 64), closed: make(chan struct{})}
	peer.OnMessage(func(data []byte) {
		select {
		case d.frames <- data:
		case <-d.closed:
		}
	})
	return d
}

func (d *directConn) Write(ctx context.Context, data []byte) error {
	return d.peer.Send(data)
}

func (d *directConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-d.frames:
		return data, nil
	case <-d.closed:
		return nil, fmt.Errorf("direct connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *directConn) Close() error {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return d.peer.Close()
}
