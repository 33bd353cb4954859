package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSender records sent envelopes and can be told to fail.
type mockSender struct {
	mu     sync.Mutex
	sent   []types.Envelope
	fail   bool
	closed bool
}

func (m *mockSender) Send(env types.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("transport dead")
	}
	m.sent = append(m.sent, env)
	return nil
}

func (m *mockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSender) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newTestRegistry(limit int) *Registry {
	return New(map[types.TransportKind]int{
		types.PushSocket:  limit,
		types.EventStream: limit,
	}, zerolog.Nop())
}

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	r := newTestRegistry(10)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		conn, err := r.Register(types.PushSocket, "", types.Capabilities{})
		require.NoError(t, err)
		require.False(t, seen[conn.ID], "connection id reused")
		seen[conn.ID] = true
	}
}

func TestRegisterCapacityExceeded(t *testing.T) {
	r := newTestRegistry(2)

	_, err := r.Register(types.PushSocket, "", types.Capabilities{})
	require.NoError(t, err)
	_, err = r.Register(types.PushSocket, "", types.Capabilities{})
	require.NoError(t, err)

	_, err = r.Register(types.PushSocket, "", types.Capabilities{})
	assert.ErrorIs(t, err, types.ErrCapacityExceeded)

	// Ceilings are per transport: the event stream still has room.
	_, err = r.Register(types.EventStream, "", types.Capabilities{})
	assert.NoError(t, err)
}

func TestUnregisterFreesCapacity(t *testing.T) {
	r := newTestRegistry(1)

	conn, err := r.Register(types.PushSocket, "", types.Capabilities{})
	require.NoError(t, err)
	r.Unregister(conn.ID)

	_, err = r.Register(types.PushSocket, "", types.Capabilities{})
	assert.NoError(t, err)
}

func TestUnregisterIdempotent(t *testing.T) {
	r := newTestRegistry(5)

	conn, err := r.Register(types.PushSocket, "", types.Capabilities{})
	require.NoError(t, err)

	calls := 0
	r.OnUnregister(func(*Connection) { calls++ })

	r.Unregister(conn.ID)
	r.Unregister(conn.ID)
	r.Unregister("no-such-id")

	assert.Equal(t, 1, calls, "cascade hooks must run once")
}

func TestUnregisterClosesSenderAndDone(t *testing.T) {
	r := newTestRegistry(5)

	conn, err := r.Register(types.PushSocket, "", types.Capabilities{})
	require.NoError(t, err)
	sender := &mockSender{}
	conn.AttachSender(sender)
	require.NoError(t, r.MarkConnected(conn.ID))

	r.Unregister(conn.ID)

	assert.True(t, sender.isClosed())
	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed on unregister")
	}
	assert.Equal(t, types.StatusClosed, conn.Status())
}

func TestConnectionsForIdentity(t *testing.T) {
	r := newTestRegistry(10)

	c1, _ := r.Register(types.PushSocket, "alice", types.Capabilities{})
	c2, _ := r.Register(types.EventStream, "alice", types.Capabilities{})
	_, _ = r.Register(types.PushSocket, "bob", types.Capabilities{})

	ids := r.ConnectionsFor("alice")
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, ids)

	r.Unregister(c1.ID)
	ids = r.ConnectionsFor("alice")
	assert.Equal(t, []string{c2.ID}, ids, "unregistered id must not appear")

	r.Unregister(c2.ID)
	assert.Empty(t, r.ConnectionsFor("alice"))
	assert.False(t, r.HasIdentity("alice"))
}

func TestStatusTransitions(t *testing.T) {
	r := newTestRegistry(5)

	conn, _ := r.Register(types.PushSocket, "", types.Capabilities{})
	assert.Equal(t, types.StatusConnecting, conn.Status())

	require.NoError(t, r.MarkConnected(conn.ID))
	assert.Equal(t, types.StatusConnected, conn.Status())

	require.NoError(t, r.MarkDraining(conn.ID))
	assert.Equal(t, types.StatusDraining, conn.Status())

	assert.ErrorIs(t, r.MarkConnected("ghost"), types.ErrUnknownConnection)
}

func TestSendBeforeAttachReportsUnknown(t *testing.T) {
	r := newTestRegistry(5)

	conn, _ := r.Register(types.PushSocket, "", types.Capabilities{})
	err := conn.Send(types.Envelope{ID: "e1", Kind: types.KindHeartbeat})
	assert.ErrorIs(t, err, types.ErrUnknownConnection)
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	r := newTestRegistry(5)

	conn, _ := r.Register(types.PushSocket, "", types.Capabilities{})
	before := conn.LastActivity()
	conn.Touch()
	assert.False(t, conn.LastActivity().Before(before))

	// Touching an absent id must not panic.
	r.Touch("ghost")
}

func TestCountByTransport(t *testing.T) {
	r := newTestRegistry(10)

	_, _ = r.Register(types.PushSocket, "", types.Capabilities{})
	_, _ = r.Register(types.PushSocket, "", types.Capabilities{})
	_, _ = r.Register(types.EventStream, "", types.Capabilities{})

	counts := r.CountByTransport()
	assert.Equal(t, 2, counts[types.PushSocket])
	assert.Equal(t, 1, counts[types.EventStream])
}
