package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/okian/spiritrace/internal/domain/simulation"
)

// MatchDependencies reads archived matches.
type MatchDependencies interface {
	Match(ctx context.Context, matchID string) (simulation.MatchRecord, error)
}

// MatchHandler serves finished matches and their replays.
type MatchHandler struct {
	deps MatchDependencies
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(deps MatchDependencies) *MatchHandler {
	return &MatchHandler{deps: deps}
}

type matchResponse struct {
	MatchID   string             `json:"match_id"`
	CreatedAt time.Time          `json:"created_at"`
	Outcome   simulation.Outcome `json:"outcome"`
	// Replay is the msgpack-encoded outcome, base64 in JSON.
	Replay []byte `json:"replay"`
}

// HandleGetMatch handles GET /matches/{match_id}.
func (h *MatchHandler) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_match"
	if r.Method != http.MethodGet {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/matches/")
	if id == "" || strings.Contains(id, "/") {
		writeFailure(w, op, ErrBadRequest)
		return
	}
	rec, err := h.deps.Match(r.Context(), id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	replay, err := simulation.EncodeOutcome(rec.Outcome)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{
		MatchID:   rec.MatchID,
		CreatedAt: rec.CreatedAt,
		Outcome:   rec.Outcome,
		Replay:    replay,
	})
}
