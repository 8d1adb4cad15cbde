package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultSettleDelay    = 2 * time.Second
)

// Gateway — примитивы голосового подключения платформы.
type Gateway interface {
	ResolveChannel(ctx context.Context, channelID string) error
	// CurrentChannel возвращает канал, к которому подключен бот, или "".
	CurrentChannel() string
	// Connect подключается к каналу. Таймаут задается через ctx.
	Connect(ctx context.Context, channelID string) error
	Disconnect(ctx context.Context, force bool) error
}

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type ManagerConfig struct {
	ChannelID      string
	ConnectTimeout time.Duration
	SettleDelay    time.Duration
}

// Manager владеет единственной целью подключения и держит бота в ней.
// Повторов не делает: политика ретраев целиком у Supervisor.
type Manager struct {
	gw             Gateway
	target         string
	connectTimeout time.Duration
	settleDelay    time.Duration
	clock          clockwork.Clock
	logger         *zap.Logger

	// attemptMu сериализует попытки: к одной цели не подключаемся параллельно
	attemptMu sync.Mutex

	mu      sync.RWMutex
	state   ConnState
	channel string
}

func NewManager(cfg ManagerConfig, gw Gateway, clock clockwork.Clock, logger *zap.Logger) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		gw:             gw,
		target:         cfg.ChannelID,
		connectTimeout: cfg.ConnectTimeout,
		settleDelay:    cfg.SettleDelay,
		clock:          clock,
		logger:         logger.Named("voice").With(zap.String("channel_id", cfg.ChannelID)),
	}
}

func (m *Manager) Target() string { return m.target }

// State возвращает состояние подключения и канал (для Connected).
func (m *Manager) State() (ConnState, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.channel
}

// MarkDisconnected вызывается при внешнем уведомлении о потере голосовой сессии.
func (m *Manager) MarkDisconnected() {
	m.setState(StateDisconnected, "")
}

// EnsureConnected — идемпотентно: если бот уже в целевом канале, ничего не делает.
func (m *Manager) EnsureConnected(ctx context.Context, isReconnectAttempt bool) error {
	m.attemptMu.Lock()
	defer m.attemptMu.Unlock()

	logger := m.logger.With(zap.Bool("reconnect", isReconnectAttempt))

	// 1. Цель должна существовать
	if err := m.gw.ResolveChannel(ctx, m.target); err != nil {
		logger.Error("voice channel not found", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrTargetNotFound, m.target, err)
	}

	// 2. Уже на месте
	current := m.gw.CurrentChannel()
	if current == m.target {
		m.setState(StateConnected, current)
		logger.Info("already connected to target voice channel")
		return nil
	}

	// 3. Сидим в чужом канале — выходим и даем платформе успокоиться
	if current != "" {
		logger.Info("connected to another voice channel, moving", zap.String("current", current))
		if err := m.gw.Disconnect(ctx, true); err != nil {
			logger.Warn("forced disconnect failed", zap.Error(err))
		}
		m.setState(StateDisconnected, "")

		select {
		case <-m.clock.After(m.settleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// 4. Подключаемся с ограничением по времени
	m.setState(StateConnecting, "")
	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	if err := m.gw.Connect(connectCtx, m.target); err != nil {
		m.setState(StateDisconnected, "")
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn("voice connect timed out", zap.Duration("timeout", m.connectTimeout))
			return fmt.Errorf("%w after %v", ErrConnectTimeout, m.connectTimeout)
		}
		logger.Warn("voice connect failed", zap.Error(err))
		return &ConnectFailedError{ChannelID: m.target, Cause: err}
	}

	// 5. Готово
	m.setState(StateConnected, m.target)
	logger.Info("connected to voice channel")
	return nil
}

func (m *Manager) setState(state ConnState, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.channel = channel
}
