package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/audit"
	"github.com/xela07ax/repbot/internal/domain"
	"github.com/xela07ax/repbot/internal/engine"
	"github.com/xela07ax/repbot/internal/presence"
)

const DefaultPeriod = 15 * time.Second

// MemberSource — чтение состояния гильдии.
type MemberSource interface {
	// Members возвращает тех из ids, кто всё ещё состоит в гильдии.
	Members(ctx context.Context, ids []string) ([]domain.Subject, error)
	Activities(ctx context.Context, subjectID string) ([]string, error)
	HasRole(ctx context.Context, subjectID, roleID string) (bool, error)
}

type RoleMutator interface {
	GrantRole(ctx context.Context, subjectID, roleID string) error
	RevokeRole(ctx context.Context, subjectID, roleID string) error
}

type Config struct {
	RoleID string
	Marker string
	Period time.Duration
}

// Outcome — результат оценки одного участника.
type Outcome struct {
	Subject   domain.Subject
	HasMarker bool
	HasRole   bool
	Action    domain.Action
}

// TickReport — сводка одного прохода.
type TickReport struct {
	TraceID   string
	Tracked   int
	Evaluated int
	Granted   int
	Revoked   int
	Unchanged int
	Failed    int
	FetchErr  error
}

// Loop периодически приводит роль в соответствие со статусами зарегистрированных участников.
// Tracked Set принадлежит только Loop и только растет.
type Loop struct {
	source     MemberSource
	mutator    RoleMutator
	classifier presence.Classifier
	roleID     string
	period     time.Duration

	auditor audit.Auditor
	metrics *engine.Metrics
	clock   clockwork.Clock
	logger  *zap.Logger

	mu      sync.RWMutex
	tracked map[string]struct{}
}

func NewLoop(
	cfg Config,
	source MemberSource,
	mutator RoleMutator,
	auditor audit.Auditor,
	metrics *engine.Metrics,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Loop {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		source:     source,
		mutator:    mutator,
		classifier: presence.NewClassifier(cfg.Marker),
		roleID:     cfg.RoleID,
		period:     cfg.Period,
		auditor:    auditor,
		metrics:    metrics,
		clock:      clock,
		logger:     logger.Named("reconcile"),
		tracked:    make(map[string]struct{}),
	}
}

// Register добавляет участника в Tracked Set. Повторная регистрация ничего не меняет.
func (l *Loop) Register(subjectID string) bool {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return false
	}

	l.mu.Lock()
	_, exists := l.tracked[subjectID]
	if !exists {
		l.tracked[subjectID] = struct{}{}
	}
	size := len(l.tracked)
	l.mu.Unlock()

	if exists {
		return false
	}
	l.metrics.TrackedSubjects.Set(float64(size))
	l.logger.Info("subject registered", zap.String("subject_id", subjectID), zap.Int("tracked", size))
	return true
}

// Tracked возвращает отсортированный снимок Tracked Set.
func (l *Loop) Tracked() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.tracked))
	for id := range l.tracked {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Run ждет готовности сессии, затем крутит тики до остановки процесса.
func (l *Loop) Run(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ready:
	case <-ctx.Done():
		return
	}

	l.logger.Info("reconciliation loop started",
		zap.Duration("period", l.period),
		zap.String("role_id", l.roleID),
		zap.String("marker", l.classifier.Marker()))

	l.Tick(ctx)

	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconciliation loop stopping by context...")
			return
		case <-ticker.Chan():
			l.Tick(ctx)
		}
	}
}

// Tick — один проход по Tracked Set. Ошибка одного участника не прерывает проход.
func (l *Loop) Tick(ctx context.Context) TickReport {
	// Начатый тик доводим до конца даже при остановке процесса
	ctx = context.WithoutCancel(ctx)

	start := l.clock.Now()
	report := TickReport{TraceID: uuid.New().String()}
	logger := l.logger.With(zap.String("trace_id", report.TraceID))

	defer func() {
		l.metrics.TickDuration.Observe(l.clock.Since(start).Seconds())
	}()

	ids := l.Tracked()
	report.Tracked = len(ids)
	logger.Debug("monitoring tick", zap.Int("tracked", len(ids)))
	if len(ids) == 0 {
		l.metrics.ReconcileTicks.WithLabelValues("ok").Inc()
		return report
	}

	subjects, err := l.source.Members(ctx, ids)
	if err != nil {
		report.FetchErr = err
		l.metrics.ReconcileTicks.WithLabelValues("fetch_error").Inc()
		logger.Error("guild member fetch failed, skipping tick", zap.Error(err))
		return report
	}

	for _, subj := range subjects {
		out, err := l.evaluateSafe(ctx, report.TraceID, subj, "reconcile")
		report.Evaluated++
		if err != nil {
			report.Failed++
			logger.Error("failed to reconcile subject",
				zap.String("subject_id", subj.ID),
				zap.String("subject", subj.Label),
				zap.Error(err))
			continue
		}

		switch out.Action {
		case domain.ActionGrant:
			report.Granted++
		case domain.ActionRevoke:
			report.Revoked++
		default:
			report.Unchanged++
		}
	}

	l.metrics.ReconcileTicks.WithLabelValues("ok").Inc()
	logger.Info("monitoring tick finished",
		zap.Int("tracked", report.Tracked),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("granted", report.Granted),
		zap.Int("revoked", report.Revoked),
		zap.Int("failed", report.Failed))
	return report
}

// Evaluate оценивает одного участника вне тика (например, по нажатию кнопки).
func (l *Loop) Evaluate(ctx context.Context, subj domain.Subject) (Outcome, error) {
	return l.evaluateSafe(ctx, uuid.New().String(), subj, "button")
}

func (l *Loop) evaluateSafe(ctx context.Context, traceID string, subj domain.Subject, source string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while reconciling %s: %v", subj.ID, r)
		}
	}()
	return l.evaluate(ctx, traceID, subj, source)
}

func (l *Loop) evaluate(ctx context.Context, traceID string, subj domain.Subject, source string) (Outcome, error) {
	out := Outcome{Subject: subj}

	activities, err := l.source.Activities(ctx, subj.ID)
	if err != nil {
		return out, fmt.Errorf("fetch activities: %w", err)
	}
	out.HasMarker = l.classifier.HasMarker(activities)

	out.HasRole, err = l.source.HasRole(ctx, subj.ID, l.roleID)
	if err != nil {
		return out, fmt.Errorf("fetch role membership: %w", err)
	}

	out.Action = Decide(out.HasMarker, out.HasRole)
	l.logger.Debug("subject evaluated",
		zap.String("trace_id", traceID),
		zap.String("subject_id", subj.ID),
		zap.String("subject", subj.Label),
		zap.Strings("activities", activities),
		zap.Bool("has_marker", out.HasMarker),
		zap.Bool("has_role", out.HasRole),
		zap.Stringer("action", out.Action))

	if out.Action == domain.ActionNoOp {
		return out, nil
	}
	return out, l.apply(ctx, traceID, subj, out.Action, source)
}

func (l *Loop) apply(ctx context.Context, traceID string, subj domain.Subject, action domain.Action, source string) error {
	start := l.clock.Now()

	var err error
	switch action {
	case domain.ActionGrant:
		err = l.mutator.GrantRole(ctx, subj.ID, l.roleID)
	case domain.ActionRevoke:
		err = l.mutator.RevokeRole(ctx, subj.ID, l.roleID)
	}

	event := audit.RoleEvent{
		ID:           uuid.New().String(),
		TraceID:      traceID,
		SubjectID:    subj.ID,
		SubjectLabel: subj.Label,
		RoleID:       l.roleID,
		Action:       action.String(),
		Source:       source,
		Status:       audit.StatusSuccess,
		Timestamp:    start,
		DurationMs:   l.clock.Since(start).Milliseconds(),
	}
	if err != nil {
		event.Status = audit.StatusFailed
		event.Error = err.Error()
	}
	if l.auditor != nil {
		l.auditor.Log(event)
	}
	l.metrics.RoleActions.WithLabelValues("monitored", action.String(), event.Status).Inc()

	if err != nil {
		return fmt.Errorf("%s role: %w", action, err)
	}

	l.logger.Info("role updated",
		zap.String("trace_id", traceID),
		zap.String("subject_id", subj.ID),
		zap.String("subject", subj.Label),
		zap.Stringer("action", action))
	return nil
}
