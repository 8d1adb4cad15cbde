// Package booster выдает и снимает роль бустера по смене статуса буста на сервере.
package booster

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/audit"
	"github.com/xela07ax/repbot/internal/domain"
	"github.com/xela07ax/repbot/internal/engine"
)

// Decide — чистая функция перехода: начал бустить без роли -> Grant, перестал с ролью -> Revoke.
func Decide(wasBooster, isBooster, hasRole bool) domain.Action {
	switch {
	case !wasBooster && isBooster && !hasRole:
		return domain.ActionGrant
	case wasBooster && !isBooster && hasRole:
		return domain.ActionRevoke
	default:
		return domain.ActionNoOp
	}
}

type RoleMutator interface {
	GrantRole(ctx context.Context, subjectID, roleID string) error
	RevokeRole(ctx context.Context, subjectID, roleID string) error
}

type Handler struct {
	roleID  string
	mutator RoleMutator
	auditor audit.Auditor
	metrics *engine.Metrics
	clock   clockwork.Clock
	logger  *zap.Logger
}

// NewHandler — пустой roleID выключает обработчик.
func NewHandler(roleID string, mutator RoleMutator, auditor audit.Auditor, metrics *engine.Metrics, clock clockwork.Clock, logger *zap.Logger) *Handler {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		roleID:  roleID,
		mutator: mutator,
		auditor: auditor,
		metrics: metrics,
		clock:   clock,
		logger:  logger.Named("booster"),
	}
}

func (h *Handler) Enabled() bool {
	return h != nil && h.roleID != ""
}

// HandleTransition применяет переход. Ошибки только логируются: событие гейтвея не ретраится.
func (h *Handler) HandleTransition(ctx context.Context, subj domain.Subject, wasBooster, isBooster, hasRole bool) domain.Action {
	if !h.Enabled() {
		return domain.ActionNoOp
	}

	action := Decide(wasBooster, isBooster, hasRole)
	if action == domain.ActionNoOp {
		return action
	}

	start := h.clock.Now()
	var err error
	if action == domain.ActionGrant {
		err = h.mutator.GrantRole(ctx, subj.ID, h.roleID)
	} else {
		err = h.mutator.RevokeRole(ctx, subj.ID, h.roleID)
	}

	event := audit.RoleEvent{
		ID:           uuid.New().String(),
		TraceID:      uuid.New().String(),
		SubjectID:    subj.ID,
		SubjectLabel: subj.Label,
		RoleID:       h.roleID,
		Action:       action.String(),
		Source:       "booster",
		Status:       audit.StatusSuccess,
		Timestamp:    start,
		DurationMs:   h.clock.Since(start).Milliseconds(),
	}
	if err != nil {
		event.Status = audit.StatusFailed
		event.Error = err.Error()
	}
	if h.auditor != nil {
		h.auditor.Log(event)
	}
	h.metrics.RoleActions.WithLabelValues("booster", action.String(), event.Status).Inc()

	if err != nil {
		h.logger.Error("failed to update booster role",
			zap.String("subject_id", subj.ID),
			zap.String("subject", subj.Label),
			zap.Stringer("action", action),
			zap.Error(fmt.Errorf("%s role: %w", action, err)))
		return action
	}

	h.logger.Info("booster role updated",
		zap.String("subject_id", subj.ID),
		zap.String("subject", subj.Label),
		zap.Stringer("action", action))
	return action
}
