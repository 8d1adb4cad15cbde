package reconcile

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

	"github.com/xela07ax/repbot/internal/audit"
	"github.com/xela07ax/repbot/internal/domain"
)

const testRole = "role-rep"

// fakeGuild — гильдия в памяти: статусы, роли и счетчики вызовов.
type fakeGuild struct {
	mu         sync.Mutex
	members    map[string]string // id -> label
	activities map[string][]string
	roles      map[string]bool

	membersErr  error
	unreachable map[string]bool // участник есть, но его не удалось получить
	grantErr    map[string]error
	revokeErr   map[string]error
	panicOn     string

	grants  []string
	revokes []string
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		members:     make(map[string]string),
		activities:  make(map[string][]string),
		roles:       make(map[string]bool),
		unreachable: make(map[string]bool),
		grantErr:    make(map[string]error),
		revokeErr:   make(map[string]error),
	}
}

func (g *fakeGuild) Members(_ context.Context, ids []string) ([]domain.Subject, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.membersErr != nil {
		return nil, g.membersErr
	}
	var out []domain.Subject
	for _, id := range ids {
		if g.unreachable[id] {
			continue
		}
		if label, ok := g.members[id]; ok {
			out = append(out, domain.Subject{ID: id, Label: label})
		}
	}
	return out, nil
}

func (g *fakeGuild) Activities(_ context.Context, id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == g.panicOn {
		panic("presence cache corrupted")
	}
	return g.activities[id], nil
}

func (g *fakeGuild) HasRole(_ context.Context, id, roleID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roles[id], nil
}

func (g *fakeGuild) GrantRole(_ context.Context, id, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants = append(g.grants, id)
	if err := g.grantErr[id]; err != nil {
		return err
	}
	g.roles[id] = true
	return nil
}

func (g *fakeGuild) RevokeRole(_ context.Context, id, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revokes = append(g.revokes, id)
	if err := g.revokeErr[id]; err != nil {
		return err
	}
	g.roles[id] = false
	return nil
}

func (g *fakeGuild) setActivities(id string, acts ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activities[id] = acts
}

func (g *fakeGuild) calls() (grants, revokes []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.grants...), append([]string(nil), g.revokes...)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.RoleEvent
}

func (a *recordingAuditor) Log(e audit.RoleEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func newTestLoop(g *fakeGuild, clock clockwork.Clock, auditor audit.Auditor) *Loop {
	return NewLoop(
		Config{RoleID: testRole, Marker: "/clp", Period: 15 * time.Second},
		g, g, auditor, nil, clock, zap.NewNop(),
	)
}

func TestLoop_RegisterIsIdempotent(t *testing.T) {
	l := newTestLoop(newFakeGuild(), clockwork.NewFakeClock(), nil)

	assert.True(t, l.Register("b"))
	assert.True(t, l.Register("a"))
	assert.False(t, l.Register("a"))
	assert.False(t, l.Register("  "))

	assert.Equal(t, []string{"a", "b"}, l.Tracked())
}

func TestLoop_TickWithEmptyTrackedSet(t *testing.T) {
	g := newFakeGuild()
	g.membersErr = errors.New("must not be called")
	l := newTestLoop(g, clockwork.NewFakeClock(), nil)

	report := l.Tick(context.Background())
	assert.NoError(t, report.FetchErr)
	assert.Zero(t, report.Evaluated)
}

func TestLoop_EndToEndScenario(t *testing.T) {
	g := newFakeGuild()
	g.members["A"] = "alice"
	auditor := &recordingAuditor{}
	l := newTestLoop(g, clockwork.NewFakeClock(), auditor)
	l.Register("A")
	ctx := context.Background()

	// 1. Маркера нет, роли нет — ничего не делаем
	report := l.Tick(ctx)
	assert.Equal(t, 1, report.Unchanged)
	grants, revokes := g.calls()
	assert.Empty(t, grants)
	assert.Empty(t, revokes)

	// 2. Маркер появился — одна выдача роли
	g.setActivities("A", "Custom Status", "vem pro /CLP")
	report = l.Tick(ctx)
	assert.Equal(t, 1, report.Granted)
	grants, _ = g.calls()
	assert.Equal(t, []string{"A"}, grants)

	// Повторный тик с тем же статусом не должен дергать платформу
	report = l.Tick(ctx)
	assert.Equal(t, 1, report.Unchanged)
	grants, _ = g.calls()
	assert.Len(t, grants, 1)

	// 3. Маркер убран — одно снятие роли
	g.setActivities("A", "idle")
	report = l.Tick(ctx)
	assert.Equal(t, 1, report.Revoked)
	grants, revokes = g.calls()
	assert.Len(t, grants, 1)
	assert.Equal(t, []string{"A"}, revokes)

	require.Len(t, auditor.events, 2)
	assert.Equal(t, "grant", auditor.events[0].Action)
	assert.Equal(t, "revoke", auditor.events[1].Action)
	assert.Equal(t, audit.StatusSuccess, auditor.events[1].Status)
	assert.Equal(t, testRole, auditor.events[0].RoleID)
}

func TestLoop_TickIsolation(t *testing.T) {
	g := newFakeGuild()
	for _, id := range []string{"1", "2", "3"} {
		g.members[id] = "user-" + id
		g.activities[id] = []string{"/clp"}
	}
	g.grantErr["2"] = domain.ErrPermissionDenied

	auditor := &recordingAuditor{}
	l := newTestLoop(g, clockwork.NewFakeClock(), auditor)
	for _, id := range []string{"1", "2", "3"} {
		l.Register(id)
	}

	report := l.Tick(context.Background())

	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 2, report.Granted)
	assert.Equal(t, 1, report.Failed)

	grants, _ := g.calls()
	assert.Equal(t, []string{"1", "2", "3"}, grants)
	assert.True(t, g.roles["1"])
	assert.False(t, g.roles["2"])
	assert.True(t, g.roles["3"])

	require.Len(t, auditor.events, 3)
	assert.Equal(t, audit.StatusFailed, auditor.events[1].Status)
	assert.Contains(t, auditor.events[1].Error, "permission denied")
}

func TestLoop_PanicInOneSubjectIsContained(t *testing.T) {
	g := newFakeGuild()
	g.members["1"] = "one"
	g.members["2"] = "two"
	g.activities["2"] = []string{"/clp"}
	g.panicOn = "1"

	l := newTestLoop(g, clockwork.NewFakeClock(), nil)
	l.Register("1")
	l.Register("2")

	var report TickReport
	require.NotPanics(t, func() { report = l.Tick(context.Background()) })
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Granted)
}

func TestLoop_GuildFetchErrorSkipsTick(t *testing.T) {
	g := newFakeGuild()
	g.members["1"] = "one"
	g.membersErr = domain.ErrTransient

	l := newTestLoop(g, clockwork.NewFakeClock(), nil)
	l.Register("1")

	report := l.Tick(context.Background())
	assert.ErrorIs(t, report.FetchErr, domain.ErrTransient)
	assert.Zero(t, report.Evaluated)

	// Следующий тик проходит нормально
	g.mu.Lock()
	g.membersErr = nil
	g.mu.Unlock()
	report = l.Tick(context.Background())
	assert.NoError(t, report.FetchErr)
	assert.Equal(t, 1, report.Evaluated)
}

func TestLoop_SubjectFetchFailureDoesNotStopTick(t *testing.T) {
	g := newFakeGuild()
	for _, id := range []string{"1", "2", "3"} {
		g.members[id] = "user" + id
		g.setActivities(id, "/clp")
	}
	g.unreachable["2"] = true

	l := newTestLoop(g, clockwork.NewFakeClock(), nil)
	for _, id := range []string{"1", "2", "3"} {
		l.Register(id)
	}

	report := l.Tick(context.Background())
	assert.NoError(t, report.FetchErr)
	assert.Equal(t, 3, report.Tracked)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 2, report.Granted)
	grants, _ := g.calls()
	assert.ElementsMatch(t, []string{"1", "3"}, grants)

	// Участник остается в наборе и обрабатывается, когда снова доступен
	g.mu.Lock()
	delete(g.unreachable, "2")
	g.mu.Unlock()
	report = l.Tick(context.Background())
	assert.Equal(t, 3, report.Evaluated)
	grants, _ = g.calls()
	assert.ElementsMatch(t, []string{"1", "3", "2"}, grants)
}

func TestLoop_SkipsSubjectsThatLeftGuild(t *testing.T) {
	g := newFakeGuild()
	g.members["stay"] = "stay"
	l := newTestLoop(g, clockwork.NewFakeClock(), nil)
	l.Register("stay")
	l.Register("gone")

	report := l.Tick(context.Background())
	assert.Equal(t, 2, report.Tracked)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, []string{"gone", "stay"}, l.Tracked(), "tracked set never shrinks")
}

func TestLoop_Evaluate(t *testing.T) {
	g := newFakeGuild()
	g.members["A"] = "alice"
	g.activities["A"] = []string{"/clp"}
	l := newTestLoop(g, clockwork.NewFakeClock(), nil)

	out, err := l.Evaluate(context.Background(), domain.Subject{ID: "A", Label: "alice"})
	require.NoError(t, err)
	assert.True(t, out.HasMarker)
	assert.False(t, out.HasRole)
	assert.Equal(t, domain.ActionGrant, out.Action)
	assert.True(t, g.roles["A"])
}

func TestLoop_RunWaitsForReadyAndTicksOnPeriod(t *testing.T) {
	g := newFakeGuild()
	g.members["A"] = "alice"
	g.activities["A"] = []string{"/clp"}
	clock := clockwork.NewFakeClock()
	l := newTestLoop(g, clock, nil)
	l.Register("A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		l.Run(ctx, ready)
		close(done)
	}()

	// До готовности сессии тиков нет
	time.Sleep(20 * time.Millisecond)
	grants, _ := g.calls()
	assert.Empty(t, grants)

	close(ready)
	require.Eventually(t, func() bool {
		grants, _ := g.calls()
		return len(grants) == 1
	}, time.Second, 5*time.Millisecond)

	// Внешнее снятие роли — следующий тик вернет ее
	g.mu.Lock()
	g.roles["A"] = false
	g.mu.Unlock()

	blockCtx, blockCancel := context.WithTimeout(ctx, time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	clock.Advance(15 * time.Second)

	require.Eventually(t, func() bool {
		grants, _ := g.calls()
		return len(grants) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
}

func TestLoop_RunReturnsWhenCancelledBeforeReady(t *testing.T) {
	l := newTestLoop(newFakeGuild(), clockwork.NewFakeClock(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx, make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return when ctx is cancelled before ready")
	}
}
