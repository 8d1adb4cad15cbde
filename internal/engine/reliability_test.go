package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/domain"
)

type scriptedMutator struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	lastCtx context.Context
}

func (m *scriptedMutator) next(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastCtx = ctx
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	if len(m.errs) > 1 {
		m.errs = m.errs[1:]
	}
	return err
}

func (m *scriptedMutator) GrantRole(ctx context.Context, _, _ string) error  { return m.next(ctx) }
func (m *scriptedMutator) RevokeRole(ctx context.Context, _, _ string) error { return m.next(ctx) }

func (m *scriptedMutator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RatePerSecond: 1000,
		Burst:         100,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		CallTimeout:   time.Second,
	}
}

func TestReliableMutator_RetriesTransientErrors(t *testing.T) {
	next := &scriptedMutator{errs: []error{domain.ErrTransient, domain.ErrTransient, nil}}
	w := NewReliableMutator(next, testReliabilityConfig(), nil, zap.NewNop())

	err := w.GrantRole(context.Background(), "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, next.callCount())
}

func TestReliableMutator_PermissionDeniedIsNotRetried(t *testing.T) {
	next := &scriptedMutator{errs: []error{domain.ErrPermissionDenied}}
	w := NewReliableMutator(next, testReliabilityConfig(), nil, zap.NewNop())

	err := w.RevokeRole(context.Background(), "u1", "r1")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, 1, next.callCount())
}

func TestReliableMutator_ThrottleWaitsRetryAfter(t *testing.T) {
	throttle := &domain.ThrottleError{RetryAfter: 20 * time.Millisecond, Cause: domain.ErrTransient}
	next := &scriptedMutator{errs: []error{throttle, nil}}
	w := NewReliableMutator(next, testReliabilityConfig(), nil, zap.NewNop())

	start := time.Now()
	require.NoError(t, w.GrantRole(context.Background(), "u1", "r1"))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 2, next.callCount())
}

func TestReliableMutator_GivesUpAfterAttempts(t *testing.T) {
	next := &scriptedMutator{errs: []error{domain.ErrTransient}}
	w := NewReliableMutator(next, testReliabilityConfig(), nil, zap.NewNop())

	err := w.GrantRole(context.Background(), "u1", "r1")
	require.Error(t, err)
	assert.Equal(t, 3, next.callCount())
}

func TestReliableMutator_CallHasTimeout(t *testing.T) {
	next := &scriptedMutator{}
	w := NewReliableMutator(next, testReliabilityConfig(), nil, zap.NewNop())

	require.NoError(t, w.GrantRole(context.Background(), "u1", "r1"))
	_, hasDeadline := next.lastCtx.Deadline()
	assert.True(t, hasDeadline)
}

func TestReliableMutator_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testReliabilityConfig()
	cfg.RetryAttempts = 1
	next := &scriptedMutator{errs: []error{domain.ErrTransient}}
	w := NewReliableMutator(next, cfg, nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.Error(t, w.GrantRole(ctx, "u1", "r1"))
	}
	assert.Equal(t, 6, next.callCount())

	err := w.GrantRole(ctx, "u1", "r1")
	require.ErrorIs(t, err, domain.ErrRoleMutationOpen)
	assert.Equal(t, 6, next.callCount(), "open breaker must not reach the platform")
}
