package audit

/*
Файл rolelog.go реализует журнал мутаций ролей (Audit Trail).

- Non-blocking Logging: Log никогда не блокирует тик реконсиляции, события
  уходят в буферизированный канал.
- Batching: события копятся в памяти и пишутся пачкой по таймеру
  или при достижении лимита.
- Drain Pattern: Stop закрывает канал и ждет, пока воркер вычитает остатки
  и сделает финальный flush.
- Закрытие канала и отправка в него идут под одним RWMutex: Log из
  обработчиков гейтвея, доживающих до остановки, не пишет в закрытый канал.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10000
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []RoleEvent) error
}

type Auditor interface {
	Log(event RoleEvent)
}

type RoleLog struct {
	ch     chan RoleEvent
	repo   StorageInterface
	logger *zap.Logger
	fill   prometheus.Gauge
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRoleLog создает журнал. fill может быть nil.
func NewRoleLog(repo StorageInterface, logger *zap.Logger, fill prometheus.Gauge) *RoleLog {
	return &RoleLog{
		ch:     make(chan RoleEvent, bufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "rolelog")),
		fill:   fill,
	}
}

func (l *RoleLog) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Повторный вызов ничего не делает.
func (l *RoleLog) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.logger.Info("stopping role log: closing channel and flushing buffer...")
	close(l.ch)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("role log stopped gracefully")
}

func (l *RoleLog) Log(event RoleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.logger.Warn("role event dropped: log is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем тик, а пишем в zap
	select {
	case l.ch <- event:
		if l.fill != nil {
			l.fill.Set(float64(len(l.ch)))
		}
	default:
		l.logger.Error("role_log_buffer_overflow",
			zap.String("subject_id", event.SubjectID),
			zap.String("action", event.Action),
			zap.String("status", event.Status),
		)
	}
}

func (l *RoleLog) worker() {
	defer l.wg.Done()

	batch := make([]RoleEvent, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background, так как основной контекст может быть уже закрыт
		if err := l.repo.WriteBatch(context.Background(), batch); err != nil {
			l.logger.Error("role log flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if l.fill != nil {
			l.fill.Set(float64(len(l.ch)))
		}
	}

	for {
		select {
		case event, ok := <-l.ch:
			if !ok {
				flush() // Финальный сброс
				l.logger.Info("role log worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
