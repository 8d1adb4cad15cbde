package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SubjectRegistry — Tracked Set цикла реконсиляции.
type SubjectRegistry interface {
	Register(subjectID string) bool
	Tracked() []string
}

type SubjectHandler struct {
	registry SubjectRegistry
	logger   *zap.Logger
}

func NewSubjectHandler(r SubjectRegistry, logger *zap.Logger) *SubjectHandler {
	return &SubjectHandler{registry: r, logger: logger}
}

type subjectListResponse struct {
	Count    int      `json:"count"`
	Subjects []string `json:"subjects"`
}

type registerResponse struct {
	SubjectID string `json:"subject_id"`
	Created   bool   `json:"created"`
}

// List GET /v1/subjects
func (h *SubjectHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.Tracked()
	writeJSON(w, http.StatusOK, subjectListResponse{Count: len(ids), Subjects: ids})
}

// Register POST /v1/subjects/{id} — то же, что нажатие кнопки, но без немедленной оценки.
func (h *SubjectHandler) Register(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		http.Error(w, "subject id is required", http.StatusBadRequest)
		return
	}

	created := h.registry.Register(id)
	h.logger.Info("subject registered via console", zap.String("subject_id", id), zap.Bool("created", created))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, registerResponse{SubjectID: id, Created: created})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
