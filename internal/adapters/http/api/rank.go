package api

import (
	"context"
	"net/http"

	repository "github.com/okian/spiritrace/internal/adapters/repository"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rank(ctx context.Context, scope repository.Scope, participantID int64) (repository.Entry, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /rank/{participant_id}?scope= requests. An
// unranked participant is a 404.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	if r.Method != http.MethodGet {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	id, err := pathID(r, "/rank/")
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	scope, err := repository.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	entry, err := h.deps.Rank(r.Context(), scope, id)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
