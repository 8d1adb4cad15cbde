package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/repbot/internal/audit"
)

// Количество колонок в таблице role_audit
const roleAuditFields = 11

const roleAuditSchema = `
CREATE TABLE IF NOT EXISTS role_audit (
	id            UUID PRIMARY KEY,
	trace_id      TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	subject_label TEXT NOT NULL DEFAULT '',
	role_id       TEXT NOT NULL,
	action        TEXT NOT NULL,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS role_audit_subject_idx ON role_audit (subject_id, timestamp DESC);
`

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema создает таблицу аудита, если ее еще нет.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, roleAuditSchema); err != nil {
		return fmt.Errorf("ensure role_audit schema: %w", err)
	}
	return nil
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.RoleEvent) error {
	if len(events) == 0 {
		return nil
	}
	query, vals := buildRoleAuditInsert(events)
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("insert role_audit batch of %d: %w", len(events), err)
	}
	return nil
}

// buildRoleAuditInsert динамически строит запрос для пакетной вставки
func buildRoleAuditInsert(events []audit.RoleEvent) (string, []interface{}) {
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*roleAuditFields)

	for i, e := range events {
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for f := 1; f <= roleAuditFields; f++ {
			if f > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*roleAuditFields+f)
		}
		placeholders.WriteString(")")

		vals = append(vals,
			e.ID, e.TraceID, e.SubjectID, e.SubjectLabel, e.RoleID,
			e.Action, e.Source, e.Status, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := "INSERT INTO role_audit (id, trace_id, subject_id, subject_label, role_id, action, source, status, error, duration_ms, timestamp) VALUES " +
		placeholders.String()
	return query, vals
}
