package heartbeat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/src/registry"
	"github.com/signalmesh/realtime/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mu   sync.Mutex
	sent []types.Envelope
	fail bool
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

func (m *mockSender) Close() error { return nil }

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSender) setFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = v
}

func newTestSetup(t *testing.T, interval, idle time.Duration) (*Supervisor, *registry.Registry) {
	t.Helper()
	reg := registry.New(map[types.TransportKind]int{types.PushSocket: 10}, zerolog.Nop())
	sup := New(reg, nil, nil, Options{
		Interval:      map[types.TransportKind]time.Duration{types.PushSocket: interval},
		IdleTimeout:   map[types.TransportKind]time.Duration{types.PushSocket: idle},
		SweepInterval: 10 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(sup.Stop)
	return sup, reg
}

func addConn(t *testing.T, reg *registry.Registry) (*registry.Connection, *mockSender) {
	t.Helper()
	conn, err := reg.Register(types.PushSocket, "", types.Capabilities{})
	require.NoError(t, err)
	sender := &mockSender{}
	conn.AttachSender(sender)
	require.NoError(t, reg.MarkConnected(conn.ID))
	return conn, sender
}

func TestHeartbeatSendsPeriodically(t *testing.T) {
	sup, reg := newTestSetup(t, 10*time.Millisecond, time.Minute)

	conn, sender := addConn(t, reg)
	sup.Watch(conn)

	assert.Eventually(t, func() bool { return sender.count() >= 2 }, time.Second, 5*time.Millisecond)

	_, ok := reg.Get(conn.ID)
	assert.True(t, ok, "healthy connection must stay registered")
}

func TestHeartbeatFailureEvicts(t *testing.T) {
	sup, reg := newTestSetup(t, 10*time.Millisecond, time.Minute)

	conn, sender := addConn(t, reg)
	sender.setFail(true)
	sup.Watch(conn)

	assert.Eventually(t, func() bool {
		_, ok := reg.Get(conn.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestIdleSweepEvictsHalfOpenConnections(t *testing.T) {
	// Long heartbeat interval: the sweep alone must catch the idle
	// connection even though its transport accepts writes.
	sup, reg := newTestSetup(t, time.Minute, 20*time.Millisecond)
	sup.Start()

	conn, _ := addConn(t, reg)
	sup.Watch(conn)

	assert.Eventually(t, func() bool {
		_, ok := reg.Get(conn.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestIdleSweepSparesActiveConnections(t *testing.T) {
	sup, reg := newTestSetup(t, time.Minute, 50*time.Millisecond)
	sup.Start()

	conn, _ := addConn(t, reg)
	sup.Watch(conn)

	// Keep touching the connection past several sweep periods.
	for i := 0; i < 8; i++ {
		conn.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	_, ok := reg.Get(conn.ID)
	assert.True(t, ok)
}

func TestWatchStopsOnUnregister(t *testing.T) {
	sup, reg := newTestSetup(t, 10*time.Millisecond, time.Minute)

	conn, sender := addConn(t, reg)
	sup.Watch(conn)
	time.Sleep(25 * time.Millisecond)
	reg.Unregister(conn.ID)

	n := sender.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sender.count(), "heartbeats must stop after unregister")
}
