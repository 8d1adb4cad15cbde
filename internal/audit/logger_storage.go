package audit

import (
	"context"

	"go.uber.org/zap"
)

// LoggerStorage пишет аудит в zap, когда база не настроена.
type LoggerStorage struct {
	logger *zap.Logger
}

func NewLoggerStorage(logger *zap.Logger) *LoggerStorage {
	return &LoggerStorage{logger: logger.Named("audit")}
}

func (s *LoggerStorage) WriteBatch(_ context.Context, events []RoleEvent) error {
	for _, e := range events {
		s.logger.Info("role event",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("subject_id", e.SubjectID),
			zap.String("subject", e.SubjectLabel),
			zap.String("role_id", e.RoleID),
			zap.String("action", e.Action),
			zap.String("source", e.Source),
			zap.String("status", e.Status),
			zap.String("error", e.Error),
			zap.Int64("duration_ms", e.DurationMs),
		)
	}
	return nil
}
