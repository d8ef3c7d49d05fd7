package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"disparador/internal/entities"
	"disparador/internal/interfaces"
)

type scriptedSession struct {
	events chan entities.ConnectionEvent
	once   sync.Once
}

func newScriptedSession() *scriptedSession {
	return &scriptedSession{events: make(chan entities.ConnectionEvent, 8)}
}

func (s *scriptedSession) push(evt entities.ConnectionEvent) { s.events <- evt }

func (s *scriptedSession) Send(context.Context, types.JID, *waProto.Message) (string, error) {
	return "WAMID-1", nil
}

func (s *scriptedSession) Upload(context.Context, []byte, whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return whatsmeow.UploadResponse{}, nil
}

func (s *scriptedSession) Logout(context.Context) error { return nil }

func (s *scriptedSession) Close() {
	s.once.Do(func() { close(s.events) })
}

type scriptedTransport struct {
	mu       sync.Mutex
	sessions []*scriptedSession
	erased   []string
}

func (t *scriptedTransport) Dial(_ context.Context, _, _ string) (interfaces.TransportSession, <-chan entities.ConnectionEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess := newScriptedSession()
	t.sessions = append(t.sessions, sess)
	return sess, sess.events, nil
}

func (t *scriptedTransport) EraseCredentials(tenantID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.erased = append(t.erased, tenantID+"/"+name)
	return nil
}

func (t *scriptedTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *scriptedTransport) session(i int) *scriptedSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i]
}

func newTestManager(t *testing.T) (*InstanceManager, *scriptedTransport) {
	t.Helper()
	transport := &scriptedTransport{}
	m := NewInstanceManager(transport, zap.NewNop())
	m.RestartDelayFn = func(int) time.Duration { return time.Millisecond }
	return m, transport
}

func TestCreateReturnsQRWhilePairing(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	assert.Equal(t, entities.StateConnecting, res.State)

	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnConnecting, QR: "QR-PAYLOAD"})
	require.Eventually(t, func() bool {
		info, ok := m.Info("sales")
		return ok && info.State == entities.StateQRPending && info.QR == "QR-PAYLOAD"
	}, time.Second, 5*time.Millisecond)

	// A second create while pairing re-serves the same QR without redialing.
	res, err = m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	assert.Equal(t, entities.StateQRPending, res.State)
	assert.Equal(t, "QR-PAYLOAD", res.QR)
	assert.Equal(t, 1, transport.dials())
}

func TestCreateOnConnectedInstanceIsIdempotent(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnOpen})
	require.Eventually(t, func() bool {
		inst, ok := m.Get("sales")
		return ok && inst.State() == entities.StateConnected
	}, time.Second, 5*time.Millisecond)

	res, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	assert.Equal(t, entities.StateConnected, res.State)
	assert.Equal(t, 1, transport.dials(), "a healthy instance must not be redialed")
}

func TestRestartRequiredRecreatesExactlyOnce(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnOpen})
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseRestartRequired})

	require.Eventually(t, func() bool {
		return transport.dials() == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, transport.dials(), "one restart event must cause one replacement dial")

	inst, ok := m.Get("sales")
	require.True(t, ok)
	assert.Equal(t, "tenant-a", inst.TenantID())
}

func TestLoggedOutIsTerminal(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnOpen})
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseLoggedOut})

	require.Eventually(t, func() bool {
		_, ok := m.Get("sales")
		return !ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.dials(), "a logged-out instance must not be recreated")
}

func TestStreamReplacedIsTerminal(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseReplaced})

	require.Eventually(t, func() bool {
		_, ok := m.Get("sales")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, transport.dials())
}

func TestRestartCapStopsRecreation(t *testing.T) {
	m, transport := newTestManager(t)
	m.MaxAutoRestarts = 2
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)

	// Every session immediately reports a restart-required close.
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return transport.dials() > i
		}, time.Second, 5*time.Millisecond)
		transport.session(i).push(entities.ConnectionEvent{State: entities.ConnClose, CloseCode: entities.CloseRestartRequired})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, transport.dials(), "the cap allows the initial dial plus MaxAutoRestarts replacements")
}

func TestLogoutErasesCredentials(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	transport.session(0).push(entities.ConnectionEvent{State: entities.ConnOpen})

	require.NoError(t, m.Logout(ctx, "tenant-a", "sales"))
	_, ok := m.Get("sales")
	assert.False(t, ok)
	assert.Equal(t, []string{"tenant-a/sales"}, transport.erased)
}

func TestDisconnectKeepsCredentials(t *testing.T) {
	m, transport := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)

	assert.True(t, m.Disconnect("sales"))
	_, ok := m.Get("sales")
	assert.False(t, ok)
	assert.Empty(t, transport.erased)
}

func TestCountByTenant(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "tenant-a", "sales")
	require.NoError(t, err)
	_, err = m.Create(ctx, "tenant-a", "support")
	require.NoError(t, err)
	_, err = m.Create(ctx, "tenant-b", "billing")
	require.NoError(t, err)

	assert.Equal(t, 2, m.CountByTenant("tenant-a"))
	assert.Equal(t, 1, m.CountByTenant("tenant-b"))
	assert.Equal(t, 0, m.CountByTenant("tenant-c"))
}

func TestBackoffDelayBounds(t *testing.T) {
	base := 2 * time.Second
	ceiling := 60 * time.Second

	for attempt := 0; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := backoffDelay(base, ceiling, attempt)
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, ceiling+ceiling/5)
		}
	}

	// Low attempts stay near the base; high attempts saturate at the ceiling.
	assert.LessOrEqual(t, backoffDelay(base, ceiling, 0), time.Duration(float64(base)*1.2))
	assert.GreaterOrEqual(t, backoffDelay(base, ceiling, 10), time.Duration(float64(ceiling)*0.8))
}
