package engine

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/infra"
)

// Registrar — тот, кто ведет Tracked Set.
type Registrar interface {
	Register(subjectID string) bool
}

// RegistrationRelay принимает регистрации участников от соседних процессов через Redis Pub/Sub.
// Формат сообщения: "subject_id" или "subject_id:on".
type RegistrationRelay struct {
	rdb       *redis.Client
	registrar Registrar
	logger    *zap.Logger
}

func NewRegistrationRelay(rdb *redis.Client, registrar Registrar, logger *zap.Logger) *RegistrationRelay {
	return &RegistrationRelay{
		rdb:       rdb,
		registrar: registrar,
		logger:    logger.With(zap.String("mod", "registration-relay")),
	}
}

// StartListener блокируется до остановки ctx.
func (r *RegistrationRelay) StartListener(ctx context.Context) {
	ListenResilient(ctx, r.rdb, r.logger, infra.RedisChanRegister, nil, r.handle)
}

func (r *RegistrationRelay) handle(payload string) {
	id, ok := parseRegistration(payload)
	if !ok {
		r.logger.Warn("invalid registration signal", zap.String("payload", payload))
		return
	}
	if r.registrar.Register(id) {
		r.logger.Info("subject registered via relay", zap.String("subject_id", id))
	}
}

func parseRegistration(payload string) (string, bool) {
	payload = strings.TrimSpace(payload)
	id, status, hasStatus := strings.Cut(payload, ":")
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	if hasStatus {
		// Снять с учета нельзя: Tracked Set только растет
		switch strings.TrimSpace(status) {
		case "on", "true", "register":
		default:
			return "", false
		}
	}
	return id, true
}
