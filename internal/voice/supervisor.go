package voice

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/engine"
)

const (
	DefaultCooldown    = 30 * time.Second
	DefaultMaxAttempts = 5
)

// DefaultDelaySchedule — прогрессивная задержка перед каждой попыткой. Последнее значение повторяется.
var DefaultDelaySchedule = []time.Duration{
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

// Connector — то, что супервизор умеет восстанавливать.
type Connector interface {
	EnsureConnected(ctx context.Context, isReconnectAttempt bool) error
	MarkDisconnected()
}

type SupervisorState int

const (
	StateIdle SupervisorState = iota
	StateRetrying
	StateGaveUp
)

func (s SupervisorState) String() string {
	switch s {
	case StateRetrying:
		return "retrying"
	case StateGaveUp:
		return "gave_up"
	default:
		return "idle"
	}
}

type SupervisorConfig struct {
	Cooldown      time.Duration
	MaxAttempts   int
	DelaySchedule []time.Duration
}

// DisconnectEvent — сообщение "собственная голосовая сессия потеряна".
type DisconnectEvent struct {
	GuildID       string
	ChannelBefore string
	Source        string // "gateway" или "console"
}

// Status — снимок состояния супервизора.
type Status struct {
	State          SupervisorState `json:"-"`
	StateName      string          `json:"state"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LastDisconnect time.Time       `json:"last_disconnect,omitempty"`
}

type decision int

const (
	decisionStarted decision = iota
	decisionCooldown
	decisionBusy
	decisionGaveUp
)

// Supervisor — конечный автомат переподключения с ограниченным числом попыток.
//
// Уведомления приходят сообщениями в единственную горутину-потребитель (Run),
// цикл ретраев крутится в отдельной горутине и не блокирует доставку событий.
// Во время ретраев новые уведомления игнорируются: второй цикл не запускается.
type Supervisor struct {
	conn    Connector
	cfg     SupervisorConfig
	clock   clockwork.Clock
	metrics *engine.Metrics
	logger  *zap.Logger

	events chan DisconnectEvent

	mu             sync.Mutex
	state          SupervisorState
	attempts       int
	lastDisconnect time.Time

	wg sync.WaitGroup
}

func NewSupervisor(cfg SupervisorConfig, conn Connector, metrics *engine.Metrics, clock clockwork.Clock, logger *zap.Logger) *Supervisor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if len(cfg.DelaySchedule) == 0 {
		cfg.DelaySchedule = DefaultDelaySchedule
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{
		conn:    conn,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger.Named("voice-supervisor"),
		events:  make(chan DisconnectEvent, 16),
	}
}

// NotifyDisconnect вызывается диспетчером событий. Не блокирует.
func (s *Supervisor) NotifyDisconnect(ev DisconnectEvent) {
	s.conn.MarkDisconnected()

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("disconnect notification dropped: queue is full")
	}
}

// Run — единственный потребитель уведомлений. Возвращается после остановки ctx
// и завершения активного цикла ретраев.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("voice supervisor started",
		zap.Duration("cooldown", s.cfg.Cooldown),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Durations("delay_schedule", s.cfg.DelaySchedule))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("voice supervisor stopped")
			return
		case ev := <-s.events:
			s.logger.Info("bot disconnected from voice channel",
				zap.String("channel_before", ev.ChannelBefore),
				zap.String("source", ev.Source))
			s.recordDisconnect(ctx)
		}
	}
}

// recordDisconnect — атомарная проверка "можно ли стартовать цикл" и его запуск.
func (s *Supervisor) recordDisconnect(ctx context.Context) decision {
	s.mu.Lock()

	switch s.state {
	case StateGaveUp:
		s.mu.Unlock()
		s.metrics.DisconnectsIgnored.WithLabelValues("gave_up").Inc()
		s.logger.Error("reconnect attempts exhausted earlier, staying disconnected",
			zap.Int("max_attempts", s.cfg.MaxAttempts))
		return decisionGaveUp
	case StateRetrying:
		s.mu.Unlock()
		s.metrics.DisconnectsIgnored.WithLabelValues("busy").Inc()
		s.logger.Debug("reconnect loop already running, notification ignored")
		return decisionBusy
	}

	now := s.clock.Now()
	if !s.lastDisconnect.IsZero() && now.Sub(s.lastDisconnect) < s.cfg.Cooldown {
		since := now.Sub(s.lastDisconnect)
		s.mu.Unlock()
		s.metrics.DisconnectsIgnored.WithLabelValues("cooldown").Inc()
		s.logger.Info("cooldown active, notification ignored",
			zap.Duration("since_last", since),
			zap.Duration("cooldown", s.cfg.Cooldown))
		return decisionCooldown
	}

	s.lastDisconnect = now
	s.setStateLocked(StateRetrying)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.retryLoop(ctx)
	return decisionStarted
}

func (s *Supervisor) retryLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		attempt := s.attempts
		s.mu.Unlock()

		delay := s.DelayFor(attempt)
		s.logger.Info("reconnect attempt scheduled",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Duration("delay", delay))

		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			s.logger.Info("reconnect loop stopping by context...")
			return
		}

		err := s.conn.EnsureConnected(ctx, true)
		if done := s.recordAttemptResult(err); done {
			return
		}
	}
}

// recordAttemptResult учитывает исход попытки. true — цикл должен завершиться.
func (s *Supervisor) recordAttemptResult(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		failed := s.attempts
		s.attempts = 0
		s.setStateLocked(StateIdle)
		s.metrics.ReconnectAttempts.WithLabelValues("success").Inc()
		s.logger.Info("voice reconnected", zap.Int("failed_attempts", failed))
		return true
	}

	s.attempts++
	s.metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
	s.logger.Warn("reconnect attempt failed",
		zap.Int("attempt", s.attempts),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Error(err))

	if s.attempts >= s.cfg.MaxAttempts {
		s.setStateLocked(StateGaveUp)
		s.logger.Error("all reconnect attempts failed, bot stays out of voice channel",
			zap.NamedError("reason", ErrExhaustedRetries),
			zap.Error(err))
		return true
	}
	return false
}

// DelayFor — задержка перед попыткой attempt (с нуля). За пределами расписания повторяется последнее значение.
func (s *Supervisor) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(s.cfg.DelaySchedule) {
		attempt = len(s.cfg.DelaySchedule) - 1
	}
	return s.cfg.DelaySchedule[attempt]
}

// Reset — внешний сброс из GaveUp (или Idle). Активный цикл ретраев не прерывается.
func (s *Supervisor) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRetrying {
		return false
	}
	s.attempts = 0
	s.lastDisconnect = time.Time{}
	s.setStateLocked(StateIdle)
	s.logger.Info("voice supervisor reset")
	return true
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state,
		StateName:      s.state.String(),
		Attempts:       s.attempts,
		MaxAttempts:    s.cfg.MaxAttempts,
		LastDisconnect: s.lastDisconnect,
	}
}

func (s *Supervisor) setStateLocked(state SupervisorState) {
	s.state = state
	s.metrics.SupervisorState.Set(float64(state))
}
