package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const target = "voice-1"

type fakeGateway struct {
	mu           sync.Mutex
	current      string
	resolveErr   error
	connectErr   error
	blockConnect bool
	connects     int
	disconnects  int
}

func (g *fakeGateway) ResolveChannel(_ context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolveErr
}

func (g *fakeGateway) CurrentChannel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *fakeGateway) Connect(ctx context.Context, channelID string) error {
	g.mu.Lock()
	g.connects++
	block, err := g.blockConnect, g.connectErr
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.current = channelID
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) Disconnect(_ context.Context, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnects++
	g.current = ""
	return nil
}

func (g *fakeGateway) counts() (connects, disconnects int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects, g.disconnects
}

func newTestManager(gw Gateway, clock clockwork.Clock) *Manager {
	return NewManager(ManagerConfig{
		ChannelID:      target,
		ConnectTimeout: 50 * time.Millisecond,
		SettleDelay:    2 * time.Second,
	}, gw, clock, zap.NewNop())
}

func TestManager_EnsureConnectedIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, m.EnsureConnected(ctx, false))
	state, ch := m.State()
	assert.Equal(t, StateConnected, state)
	assert.Equal(t, target, ch)

	require.NoError(t, m.EnsureConnected(ctx, true))
	state, ch = m.State()
	assert.Equal(t, StateConnected, state)
	assert.Equal(t, target, ch)

	connects, disconnects := gw.counts()
	assert.Equal(t, 1, connects, "second call must not connect again")
	assert.Zero(t, disconnects)
}

func TestManager_MovesFromOtherChannelAfterSettleDelay(t *testing.T) {
	gw := &fakeGateway{current: "voice-other"}
	clock := clockwork.NewFakeClock()
	m := newTestManager(gw, clock)

	errCh := make(chan error, 1)
	go func() { errCh <- m.EnsureConnected(context.Background(), false) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	connects, disconnects := gw.counts()
	assert.Equal(t, 1, disconnects)
	assert.Zero(t, connects, "must wait for settle delay before connecting")

	clock.Advance(2 * time.Second)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("EnsureConnected did not finish after settle delay")
	}
	connects, _ = gw.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, target, gw.CurrentChannel())
}

func TestManager_TargetNotFound(t *testing.T) {
	gw := &fakeGateway{resolveErr: errors.New("unknown channel")}
	m := newTestManager(gw, clockwork.NewFakeClock())

	err := m.EnsureConnected(context.Background(), true)
	require.ErrorIs(t, err, ErrTargetNotFound)

	connects, _ := gw.counts()
	assert.Zero(t, connects)
}

func TestManager_ConnectTimeout(t *testing.T) {
	gw := &fakeGateway{blockConnect: true}
	m := newTestManager(gw, clockwork.NewFakeClock())

	err := m.EnsureConnected(context.Background(), true)
	require.ErrorIs(t, err, ErrConnectTimeout)

	state, _ := m.State()
	assert.Equal(t, StateDisconnected, state)
}

func TestManager_ConnectFailed(t *testing.T) {
	cause := errors.New("udp handshake failed")
	gw := &fakeGateway{connectErr: cause}
	m := newTestManager(gw, clockwork.NewFakeClock())

	err := m.EnsureConnected(context.Background(), true)

	var failed *ConnectFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, target, failed.ChannelID)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConnectTimeout)
}

func TestManager_MarkDisconnected(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, clockwork.NewFakeClock())
	require.NoError(t, m.EnsureConnected(context.Background(), false))

	m.MarkDisconnected()
	state, ch := m.State()
	assert.Equal(t, StateDisconnected, state)
	assert.Empty(t, ch)
}
