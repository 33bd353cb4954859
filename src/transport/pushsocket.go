// Package transport adapts the abstract deliver operation to the two wire
// transports: full-duplex push-socket writes and the event-stream's bounded
// outbound queue.
package transport

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/signalmesh/realtime/src/codec"
	"github.com/signalmesh/realtime/src/types"
)

// WireConn abstracts the underlying websocket connection so tests can
// substitute a mock.
type WireConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// PushSocket is the full-duplex transport adapter. There is no
// application-level queue: a failed write means the connection is dead.
type PushSocket struct {
	conn         WireConn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewPushSocket wraps a websocket connection.
func NewPushSocket(conn WireConn, writeTimeout time.Duration) *PushSocket {
	return &PushSocket{conn: conn, writeTimeout: writeTimeout}
}

// Send encodes and writes one frame. Writes are serialized; concurrent
// senders (heartbeat, fan-out) share the socket.
func (p *PushSocket) Send(env types.Envelope) error {
	data, err := codec.EncodeFrame(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return types.ErrUnknownConnection
	}
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the socket. Safe to call more than once.
func (p *PushSocket) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

// ReadLoop pumps inbound frames to the handler until the socket errors or
// closes. Runs on the connection's goroutine.
func (p *PushSocket) ReadLoop(onFrame func(data []byte)) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		onFrame(data)
	}
}
