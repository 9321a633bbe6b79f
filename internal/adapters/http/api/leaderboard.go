package api

import (
	"context"
	"net/http"
	"strconv"

	repository "github.com/okian/spiritrace/internal/adapters/repository"
)

const defaultPageSize = 10

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	TopN(ctx context.Context, scope repository.Scope, n int) ([]repository.Entry, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

type leaderboardResponse struct {
	Scope   repository.Scope   `json:"scope"`
	Entries []repository.Entry `json:"entries"`
}

// HandleGetLeaderboard handles GET /leaderboard?scope=alltime|weekly&limit=N.
// A missing limit means the default page size.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if r.Method != http.MethodGet {
		writeFailure(w, op, ErrMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	scope, err := repository.ParseScope(q.Get("scope"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	n := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeFailure(w, op, WrapKind(op, ErrBadRequest, repository.ErrInvalidLimit))
			return
		}
	}
	if n > h.maxLimit {
		writeFailure(w, op, NewKind(op, ErrLimitExceeded))
		return
	}
	entries, err := h.deps.TopN(r.Context(), scope, n)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if entries == nil {
		entries = []repository.Entry{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Scope: scope, Entries: entries})
}
