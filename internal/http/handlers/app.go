package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
	"promptcraft/internal/session"
	"promptcraft/internal/storage"
	"promptcraft/internal/tokenizer"
)

const maxBodyBytes = 1 << 20

// App carries the dependencies shared by the HTTP handlers.
type App struct {
	Sessions    *session.Manager
	Tokens      tokenizer.Counter
	TokenBudget int
	Store       *storage.FileStore
	Logger      *infra.Logger
}

// NewApp builds the handler container. A nil counter falls back to the
// local approximation.
func NewApp(sessions *session.Manager, tokens tokenizer.Counter, budget int, store *storage.FileStore, logger *infra.Logger) *App {
	if tokens == nil {
		tokens = tokenizer.Approx{}
	}
	if budget <= 0 {
		budget = tokenizer.DefaultBudget
	}
	return &App{
		Sessions:    sessions,
		Tokens:      tokens,
		TokenBudget: budget,
		Store:       store,
		Logger:      infra.Component(logger, "http"),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps err onto the response status.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.Logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("http: request failed")
	}
	a.error(w, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict, "busy"
	case domain.IsValidation(err):
		return http.StatusBadRequest, "invalid"
	case domain.IsTimeout(err):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case domain.IsUpstream(err):
		return http.StatusBadGateway, "upstream"
	case domain.IsLocalService(err):
		return http.StatusServiceUnavailable, "local_service"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

// session resolves the {id} route parameter.
func (a *App) session(w http.ResponseWriter, r *http.Request) (*session.Orchestrator, bool) {
	o, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return o, true
}
