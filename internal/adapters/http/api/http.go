// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	repository "github.com/okian/spiritrace/internal/adapters/repository"
	service "github.com/okian/spiritrace/internal/app"
	"github.com/okian/spiritrace/internal/domain/matchmaking"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
	"github.com/okian/spiritrace/internal/domain/simulation"
	"github.com/okian/spiritrace/pkg/logger"
)

const defaultMaxLimit = 100

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ParticipantDependencies
	QueueDependencies
	LeaderboardDependencies
	RankDependencies
	MatchDependencies
	StatsProvider
}

// Server wires HTTP routes for the game API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	participantHandler *ParticipantHandler
	queueHandler       *QueueHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	matchHandler       *MatchHandler
	logger             logger.Logger
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxLimit int
	logger   logger.Logger
}

// WithMaxLimit caps the leaderboard page size.
func WithMaxLimit(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{maxLimit: defaultMaxLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		participantHandler: NewParticipantHandler(deps),
		queueHandler:       NewQueueHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.maxLimit),
		rankHandler:        NewRankHandler(deps),
		matchHandler:       NewMatchHandler(deps),
		logger:             cfg.logger,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	wrap := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return RecoverMiddleware(MetricsMiddleware(h, endpoint), s.logger)
	}
	mux.HandleFunc("/healthz", wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", wrap(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/participants", wrap(s.participantHandler.HandleEnroll, "participants"))
	mux.HandleFunc("/participants/", wrap(s.participantHandler.HandleHistory, "participant_history"))
	mux.HandleFunc("/queue/join", wrap(s.queueHandler.HandleJoin, "queue_join"))
	mux.HandleFunc("/queue/leave", wrap(s.queueHandler.HandleLeave, "queue_leave"))
	mux.HandleFunc("/queue/status/", wrap(s.queueHandler.HandleStatus, "queue_status"))
	mux.HandleFunc("/leaderboard", wrap(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", wrap(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/matches/", wrap(s.matchHandler.HandleGetMatch, "matches"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a domain error to its HTTP status and error code.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method_not_allowed"
	case errors.Is(err, ErrLimitExceeded):
		return http.StatusBadRequest, "limit_exceeded"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidProfile),
		errors.Is(err, matchmaking.ErrUnknownMode),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, repository.ErrInvalidScope),
		errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, progression.ErrInvalidAmount):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		return http.StatusConflict, "already_queued"
	case errors.Is(err, matchmaking.ErrNotQueued):
		return http.StatusNotFound, "not_queued"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "unranked"
	case errors.Is(err, simulation.ErrMatchNotFound),
		errors.Is(err, progression.ErrParticipantNotFound),
		errors.Is(err, progression.ErrEntrantNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, progression.ErrNotOwner):
		return http.StatusForbidden, "not_owner"
	case errors.Is(err, progression.ErrInsufficientEnergy):
		return http.StatusConflict, "insufficient_energy"
	case errors.Is(err, progression.ErrConflict):
		return http.StatusServiceUnavailable, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// pathID parses the single numeric segment after prefix.
func pathID(r *http.Request, prefix string) (int64, error) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, ErrBadRequest
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadRequest
	}
	return id, nil
}

// QueueStatus is the body of GET /queue/status/{participant_id}.
type QueueStatus = service.QueueStatus
