package handle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/service"
	"exam-grader/api/internal/store"
)

type Grader interface {
	Grade(ctx context.Context, sub service.Submission, cfg grading.DispatchConfig) (service.Outcome, error)
}

type History interface {
	Get(ctx context.Context, id uuid.UUID) (*store.GradingRow, error)
}

type Handle struct {
	grader  Grader
	history History
	log     zerolog.Logger

	// Timeout is the default and the upper bound for X-Request-Timeout.
	Timeout time.Duration
	// MaxInputBytes bounds a single uploaded file.
	MaxInputBytes int64
}

// New wires the handlers. history may be nil when no database is configured.
func New(grader Grader, history History, log zerolog.Logger) *Handle {
	return &Handle{
		grader:        grader,
		history:       history,
		log:           log.With().Str("component", "http").Logger(),
		Timeout:       180 * time.Second,
		MaxInputBytes: 20 << 20,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorBody{Error: apperr.Human(err), Kind: string(apperr.KindOf(err))})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.InvalidRequest:
		return http.StatusBadRequest
	case apperr.UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperr.OversizedInput:
		return http.StatusRequestEntityTooLarge
	case apperr.MissingCredential:
		return http.StatusUnauthorized
	case apperr.ConversionFailure, apperr.UnsupportedPayload:
		return http.StatusUnprocessableEntity
	case apperr.BackendError, apperr.EmptyReply, apperr.MalformedReply:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestTimeout reads X-Request-Timeout (seconds) or ?timeoutSec=. A caller
// may shorten h.Timeout but never extend it.
func (h *Handle) requestTimeout(r *http.Request) time.Duration {
	for _, ts := range []string{r.Header.Get("X-Request-Timeout"), r.URL.Query().Get("timeoutSec")} {
		if v, _ := strconv.Atoi(strings.TrimSpace(ts)); v > 0 {
			d := time.Duration(v) * time.Second
			if h.Timeout > 0 && d > h.Timeout {
				return h.Timeout
			}
			return d
		}
	}
	return h.Timeout
}

// credential takes the caller's key from Authorization: Bearer or X-Api-Key.
func credential(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}
