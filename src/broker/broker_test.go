package broker

import (
	"errors"
	"fmt"
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

func (m *mockSender) envelopes() []types.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

func newTestBroker(t *testing.T, ringSize int) (*Broker, *registry.Registry) {
	t.Helper()
	reg := registry.New(map[types.TransportKind]int{
		types.PushSocket:  100,
		types.EventStream: 100,
	}, zerolog.Nop())
	b := New(reg, ringSize, zerolog.Nop())
	reg.OnUnregister(func(conn *registry.Connection) {
		b.DropConnection(conn.ID)
	})
	return b, reg
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

func textEnvelope(id, text string) types.Envelope {
	return types.Envelope{
		ID:        id,
		Kind:      types.KindChannel,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestPublishFanOut(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, s1 := addConn(t, reg)
	c2, s2 := addConn(t, reg)

	require.NoError(t, b.Subscribe(c1.ID, "general"))
	require.NoError(t, b.Subscribe(c2.ID, "general"))

	report := b.Publish("general", textEnvelope("m1", "hi"), false)
	assert.Equal(t, 2, report.Sent)
	assert.Empty(t, report.Failed)
	assert.Len(t, s1.envelopes(), 1)
	assert.Len(t, s2.envelopes(), 1)
}

func TestPublishPreservesOrder(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, s1 := addConn(t, reg)
	require.NoError(t, b.Subscribe(c1.ID, "ordered"))

	for i := 0; i < 10; i++ {
		b.Publish("ordered", textEnvelope(fmt.Sprintf("m%d", i), "x"), false)
	}

	got := s1.envelopes()
	require.Len(t, got, 10)
	for i, env := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), env.ID)
	}
}

func TestPersistedReplayInOrder(t *testing.T) {
	b, reg := newTestBroker(t, 3)

	// Publish five persisted envelopes into an empty channel; the ring
	// keeps the three most recent.
	for i := 0; i < 5; i++ {
		b.Publish("history", textEnvelope(fmt.Sprintf("m%d", i), "x"), true)
	}

	late, sender := addConn(t, reg)
	require.NoError(t, b.Subscribe(late.ID, "history"))

	got := sender.envelopes()
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m3", got[1].ID)
	assert.Equal(t, "m4", got[2].ID)
}

func TestReplayBeforeNewPublishes(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, _ := addConn(t, reg)
	require.NoError(t, b.Subscribe(c1.ID, "general"))

	b.Publish("general", textEnvelope("m1", "hi"), true)

	c2, s2 := addConn(t, reg)
	require.NoError(t, b.Subscribe(c2.ID, "general"))
	b.Publish("general", textEnvelope("m2", "again"), false)

	got := s2.envelopes()
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID, "replay must precede new publishes")
	assert.Equal(t, "m2", got[1].ID)
}

func TestChannelDeletedWhenEmpty(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, _ := addConn(t, reg)

	require.NoError(t, b.Subscribe(c1.ID, "ephemeral"))
	require.NoError(t, b.Unsubscribe(c1.ID, "ephemeral"))

	_, err := b.Subscribers("ephemeral")
	assert.ErrorIs(t, err, types.ErrChannelNotFound)
	assert.Equal(t, 0, b.ChannelCount())
}

func TestRingKeepsChannelForReplay(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, _ := addConn(t, reg)

	require.NoError(t, b.Subscribe(c1.ID, "sticky"))
	b.Publish("sticky", textEnvelope("m1", "x"), true)
	require.NoError(t, b.Unsubscribe(c1.ID, "sticky"))

	// The ring alone keeps the channel resident for late-join replay.
	assert.Equal(t, 1, b.ChannelCount())

	c2, s2 := addConn(t, reg)
	require.NoError(t, b.Subscribe(c2.ID, "sticky"))
	require.Len(t, s2.envelopes(), 1)
}

func TestExpireIdleReclaimsRetainedChannels(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, _ := addConn(t, reg)

	require.NoError(t, b.Subscribe(c1.ID, "old"))
	b.Publish("old", textEnvelope("m1", "x"), true)
	require.NoError(t, b.Unsubscribe(c1.ID, "old"))
	require.Equal(t, 1, b.ChannelCount())

	b.ExpireIdle(0)
	assert.Equal(t, 0, b.ChannelCount())
}

func TestFailedRecipientDoesNotBlockOthers(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	dead, deadSender := addConn(t, reg)
	alive, aliveSender := addConn(t, reg)

	require.NoError(t, b.Subscribe(dead.ID, "general"))
	require.NoError(t, b.Subscribe(alive.ID, "general"))
	deadSender.fail = true

	report := b.Publish("general", textEnvelope("m1", "hi"), false)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []string{dead.ID}, report.Failed)
	assert.Len(t, aliveSender.envelopes(), 1)

	// The dead connection is scheduled for unregistration.
	assert.Eventually(t, func() bool {
		_, ok := reg.Get(dead.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestPublishWithoutPersistToAbsentChannel(t *testing.T) {
	b, _ := newTestBroker(t, 10)

	report := b.Publish("nobody", textEnvelope("m1", "x"), false)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 0, b.ChannelCount(), "non-persist publish must not create the channel")
}

func TestBroadcastExcludes(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, s1 := addConn(t, reg)
	_, s2 := addConn(t, reg)
	_, s3 := addConn(t, reg)

	env := textEnvelope("b1", "all hands")
	env.Kind = types.KindText
	report := b.Broadcast(env, map[string]struct{}{c1.ID: {}})

	assert.Equal(t, 2, report.Sent)
	assert.Empty(t, s1.envelopes())
	assert.Len(t, s2.envelopes(), 1)
	assert.Len(t, s3.envelopes(), 1)
}

func TestUnsubscribeUnknownChannel(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, _ := addConn(t, reg)

	err := b.Unsubscribe(c1.ID, "missing")
	assert.ErrorIs(t, err, types.ErrChannelNotFound)
}

func TestSubscribeUnknownConnection(t *testing.T) {
	b, _ := newTestBroker(t, 10)
	err := b.Subscribe("ghost", "general")
	assert.ErrorIs(t, err, types.ErrUnknownConnection)
}

func TestDropConnectionRemovesSubscriptions(t *testing.T) {
	b, reg := newTestBroker(t, 10)
	c1, _ := addConn(t, reg)
	c2, s2 := addConn(t, reg)

	require.NoError(t, b.Subscribe(c1.ID, "general"))
	require.NoError(t, b.Subscribe(c2.ID, "general"))

	reg.Unregister(c1.ID)

	report := b.Publish("general", textEnvelope("m1", "x"), false)
	assert.Equal(t, 1, report.Sent)
	assert.Len(t, s2.envelopes(), 1)
}
