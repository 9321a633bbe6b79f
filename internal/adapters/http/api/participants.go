package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
)

// ParticipantDependencies enrolls and reads participants.
type ParticipantDependencies interface {
	Enroll(ctx context.Context, p progression.Participant, entrants ...progression.Entrant) error
	Participant(ctx context.Context, id int64) (progression.Participant, error)
	Entrant(ctx context.Context, id int64) (progression.Entrant, error)
	History(ctx context.Context, participantID int64, mode model.Mode, limit, offset int) ([]progression.HistoryEntry, error)
}

// ParticipantHandler handles participant enrollment.
type ParticipantHandler struct {
	deps ParticipantDependencies
}

// NewParticipantHandler creates a new participant handler.
func NewParticipantHandler(deps ParticipantDependencies) *ParticipantHandler {
	return &ParticipantHandler{deps: deps}
}

type entrantRequest struct {
	EntrantID int64 `json:"entrant_id"`
	Level     int   `json:"level"`
	XP        int64 `json:"xp"`
	Energy    int64 `json:"energy"`
}

type enrollRequest struct {
	ParticipantID int64            `json:"participant_id"`
	Currency      int64            `json:"currency"`
	Entrants      []entrantRequest `json:"entrants"`
}

func (e enrollRequest) validate() error {
	if e.ParticipantID <= 0 {
		return NewKind("validate", ErrBadRequest)
	}
	if e.Currency < 0 {
		return WrapKind("validate", ErrBadRequest, progression.ErrInvalidAmount)
	}
	for _, en := range e.Entrants {
		if en.EntrantID <= 0 || en.Level < 0 || en.XP < 0 || en.Energy < 0 {
			return NewKind("validate", ErrBadRequest)
		}
	}
	if len(lo.UniqBy(e.Entrants, func(en entrantRequest) int64 { return en.EntrantID })) != len(e.Entrants) {
		return NewKind("validate", ErrBadRequest)
	}
	return nil
}

type enrollResponse struct {
	Participant progression.Participant `json:"participant"`
	Entrants    []progression.Entrant   `json:"entrants"`
}

// HandleEnroll handles POST /participants. Enrolling an existing id replaces
// its record.
func (h *ParticipantHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	const op = "api.enroll"
	if r.Method != http.MethodPost {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeFailure(w, op, err)
		return
	}

	ctx := r.Context()
	entrants := lo.Map(req.Entrants, func(en entrantRequest, _ int) progression.Entrant {
		return progression.Entrant{
			ID:      en.EntrantID,
			OwnerID: req.ParticipantID,
			Level:   en.Level,
			XP:      en.XP,
			Energy:  en.Energy,
		}
	})
	if err := h.deps.Enroll(ctx, progression.Participant{ID: req.ParticipantID, Currency: req.Currency}, entrants...); err != nil {
		writeFailure(w, op, err)
		return
	}

	resp := enrollResponse{Entrants: make([]progression.Entrant, 0, len(entrants))}
	p, err := h.deps.Participant(ctx, req.ParticipantID)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	resp.Participant = p
	for _, en := range entrants {
		stored, err := h.deps.Entrant(ctx, en.ID)
		if err != nil {
			writeFailure(w, op, err)
			return
		}
		resp.Entrants = append(resp.Entrants, stored)
	}
	writeJSON(w, http.StatusCreated, resp)
}

type historyResponse struct {
	ParticipantID int64                      `json:"participant_id"`
	Matches       []progression.HistoryEntry `json:"matches"`
}

// HandleHistory handles GET /participants/{id}/matches?mode=&limit=&offset=.
func (h *ParticipantHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.participant_history"
	if r.Method != http.MethodGet {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	rest, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/participants/"), "/matches")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		writeFailure(w, op, ErrBadRequest)
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	matches, err := h.deps.History(r.Context(), id, model.Mode(q.Get("mode")), limit, offset)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{ParticipantID: id, Matches: matches})
}

// queryInt parses an optional non-negative query value; empty means zero.
func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ErrBadRequest
	}
	return n, nil
}
