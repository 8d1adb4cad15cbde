package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/repbot/internal/domain"
)

// RoleMutator — мутации ролей на стороне платформы.
type RoleMutator interface {
	GrantRole(ctx context.Context, subjectID, roleID string) error
	RevokeRole(ctx context.Context, subjectID, roleID string) error
}

type ReliabilityConfig struct {
	RatePerSecond float64
	Burst         int

	RetryAttempts uint
	RetryDelay    time.Duration
	CallTimeout   time.Duration

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
}

func (c *ReliabilityConfig) applyDefaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 3
	}
	if c.CBInterval <= 0 {
		c.CBInterval = 5 * time.Second
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
}

// ReliableMutator оборачивает мутации ролей: Rate Limiter -> Circuit Breaker -> Retry.
type ReliableMutator struct {
	next    RoleMutator
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
	metrics *Metrics
	logger  *zap.Logger
}

func NewReliableMutator(next RoleMutator, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliableMutator {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger = logger.Named("role-mutator")

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "role-mutations",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &ReliableMutator{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

func (w *ReliableMutator) GrantRole(ctx context.Context, subjectID, roleID string) error {
	return w.call(ctx, func(ctx context.Context) error {
		return w.next.GrantRole(ctx, subjectID, roleID)
	})
}

func (w *ReliableMutator) RevokeRole(ctx context.Context, subjectID, roleID string) error {
	return w.call(ctx, func(ctx context.Context) error {
		return w.next.RevokeRole(ctx, subjectID, roleID)
	})
}

func (w *ReliableMutator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		w.metrics.MutationErrors.WithLabelValues("rate_limit").Inc()
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.RetryAttempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Платформа сама сказала, сколько ждать
				var tErr *domain.ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				return w.cfg.RetryDelay
			}),
		)

		// Отказ в правах не лечится повтором: выносим его из retry и возвращаем как есть
		var permanent error
		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			callErr := fn(tCtx)
			if errors.Is(callErr, domain.ErrPermissionDenied) {
				permanent = callErr
				return nil
			}
			return callErr
		})
		if permanent != nil {
			return nil, permanent
		}
		return nil, retryErr
	})

	if err != nil {
		w.metrics.MutationErrors.WithLabelValues(classify(err)).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", domain.ErrRoleMutationOpen, err)
		}
		return err
	}
	return nil
}

func classify(err error) string {
	var tErr *domain.ThrottleError
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker"
	case errors.As(err, &tErr):
		return "throttle"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transient"
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
