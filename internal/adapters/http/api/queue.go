package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/okian/spiritrace/internal/domain/model"
)

// QueueDependencies joins, leaves and inspects matchmaking queues.
type QueueDependencies interface {
	Join(ctx context.Context, mode model.Mode, profile model.ParticipantProfile) error
	Leave(ctx context.Context, mode model.Mode, participantID int64) error
	Status(ctx context.Context, mode model.Mode, participantID int64) (QueueStatus, error)
}

// QueueHandler handles matchmaking requests.
type QueueHandler struct {
	deps QueueDependencies
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(deps QueueDependencies) *QueueHandler {
	return &QueueHandler{deps: deps}
}

type joinRequest struct {
	ParticipantID int64           `json:"participant_id"`
	EntrantID     int64           `json:"entrant_id"`
	Mode          string          `json:"mode"`
	Abilities     model.Abilities `json:"abilities"`
	Rarity        string          `json:"rarity"`
}

// profile resolves the request into a queue profile. An empty rarity is
// common. The level is not taken from the client: Join scores with the
// entrant's stored level.
func (j joinRequest) profile() (model.Mode, model.ParticipantProfile, error) {
	mode, err := parseMode(j.Mode)
	if err != nil {
		return "", model.ParticipantProfile{}, err
	}
	rarity := j.Rarity
	if strings.TrimSpace(rarity) == "" {
		rarity = "common"
	}
	factor, ok := model.RarityFactor(rarity)
	if !ok {
		return "", model.ParticipantProfile{}, WrapKind("profile", ErrBadRequest, model.ErrInvalidProfile)
	}
	p := model.ParticipantProfile{
		ParticipantID: j.ParticipantID,
		EntrantID:     j.EntrantID,
		Abilities:     j.Abilities,
		Level:         1,
		Rarity:        factor,
	}
	return mode, p, p.Validate()
}

type leaveRequest struct {
	ParticipantID int64  `json:"participant_id"`
	Mode          string `json:"mode"`
}

type queueAck struct {
	Status        string     `json:"status"`
	Mode          model.Mode `json:"mode"`
	ParticipantID int64      `json:"participant_id"`
}

func parseMode(s string) (model.Mode, error) {
	mode, ok := model.ParseMode(strings.TrimSpace(s))
	if !ok {
		return "", WrapKind("mode", ErrBadRequest, model.ErrInvalidProfile)
	}
	return mode, nil
}

// HandleJoin handles POST /queue/join.
func (h *QueueHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	const op = "api.queue_join"
	if r.Method != http.MethodPost {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	mode, profile, err := req.profile()
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if err := h.deps.Join(r.Context(), mode, profile); err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueAck{Status: "queued", Mode: mode, ParticipantID: req.ParticipantID})
}

// HandleLeave handles POST /queue/leave.
func (h *QueueHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	const op = "api.queue_leave"
	if r.Method != http.MethodPost {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if req.ParticipantID <= 0 {
		writeFailure(w, op, NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.Leave(r.Context(), mode, req.ParticipantID); err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, queueAck{Status: "left", Mode: mode, ParticipantID: req.ParticipantID})
}

// HandleStatus handles GET /queue/status/{participant_id}?mode=.
func (h *QueueHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.queue_status"
	if r.Method != http.MethodGet {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	id, err := pathID(r, "/queue/status/")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	st, err := h.deps.Status(r.Context(), mode, id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
