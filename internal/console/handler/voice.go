package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/voice"
)

type VoiceSupervisor interface {
	Status() voice.Status
	Reset() bool
	NotifyDisconnect(ev voice.DisconnectEvent)
}

type VoiceConnection interface {
	Target() string
	State() (voice.ConnState, string)
}

type VoiceHandler struct {
	supervisor VoiceSupervisor
	conn       VoiceConnection
	logger     *zap.Logger
}

func NewVoiceHandler(s VoiceSupervisor, c VoiceConnection, logger *zap.Logger) *VoiceHandler {
	return &VoiceHandler{supervisor: s, conn: c, logger: logger}
}

type connectionView struct {
	State     string `json:"state"`
	ChannelID string `json:"channel_id,omitempty"`
	Target    string `json:"target"`
}

type voiceResponse struct {
	Supervisor voice.Status   `json:"supervisor"`
	Connection connectionView `json:"connection"`
}

func (h *VoiceHandler) snapshot() voiceResponse {
	state, channel := h.conn.State()
	return voiceResponse{
		Supervisor: h.supervisor.Status(),
		Connection: connectionView{State: state.String(), ChannelID: channel, Target: h.conn.Target()},
	}
}

// Get GET /v1/voice
func (h *VoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Reset POST /v1/voice/reset — выводит супервизор из GaveUp и, если бот не в канале,
// запускает новый цикл переподключения. Во время ретраев — 409.
func (h *VoiceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !h.supervisor.Reset() {
		http.Error(w, "reconnect loop is running", http.StatusConflict)
		return
	}

	state, channel := h.conn.State()
	h.logger.Info("voice supervisor reset via console", zap.Stringer("connection", state))
	if state != voice.StateConnected {
		h.supervisor.NotifyDisconnect(voice.DisconnectEvent{ChannelBefore: channel, Source: "console"})
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}
