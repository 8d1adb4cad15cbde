package audit

import "time"

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// RoleEvent — запись аудита об одной мутации роли.
type RoleEvent struct {
	ID           string    `json:"id"`            // UUID события
	TraceID      string    `json:"trace_id"`      // ID тика или интеракции
	SubjectID    string    `json:"subject_id"`    // Кому меняли роль
	SubjectLabel string    `json:"subject_label"` // Display name на момент события
	RoleID       string    `json:"role_id"`
	Action       string    `json:"action"` // "grant" или "revoke"
	Source       string    `json:"source"` // "reconcile", "button", "booster"
	Status       string    `json:"status"` // "SUCCESS", "FAILED"
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`
}
