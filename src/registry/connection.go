package registry

import (
	"sync"
	"time"

	"github.com/signalmesh/realtime/src/types"
)

// Connection is the registry's record of one live transport connection.
// The registry owns it exclusively; other components reach it only through
// registry lookups.
type Connection struct {
	ID        string
	Kind      types.TransportKind
	Identity  string
	Caps      types.Capabilities
	CreatedAt time.Time

	mu           sync.RWMutex
	status       types.ConnStatus
	lastActivity time.Time
	sender       types.Sender

	// done is the cancellable task handle for this connection's heartbeat
	// loop; closed exactly once on unregister.
	done     chan struct{}
	doneOnce sync.Once
}

// Status returns the current lifecycle state.
func (c *Connection) Status() types.ConnStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) setStatus(s types.ConnStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// LastActivity returns the time of the last inbound frame or successful
// outbound delivery.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Touch records activity now.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// AttachSender binds the transport adapter once the handshake completes.
func (c *Connection) AttachSender(s types.Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// Send delivers an envelope through the transport adapter and touches the
// connection on success. Sending before a sender is attached or after close
// reports the connection as unknown.
func (c *Connection) Send(env types.Envelope) error {
	c.mu.RLock()
	s := c.sender
	status := c.status
	c.mu.RUnlock()

	if s == nil || status == types.StatusClosed {
		return types.ErrUnknownConnection
	}
	if err := s.Send(env); err != nil {
		return err
	}
	c.Touch()
	return nil
}

// Done is closed when the connection is unregistered. Heartbeat and writer
// tasks select on it for cancellation.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	c.status = types.StatusClosed
	s := c.sender
	c.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// Anonymous reports whether the connection has no authenticated identity.
func (c *Connection) Anonymous() bool { return c.Identity == "" }
