package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"daybrief/internal/cache"
	"daybrief/internal/calendar"
	"daybrief/internal/completion"
	"daybrief/internal/config"
	"daybrief/internal/intent"
	appLog "daybrief/internal/log"
	"daybrief/internal/model"
	"daybrief/internal/scheduler"
	"daybrief/internal/schema"
	"daybrief/internal/weather"
)

// maxInputBytes bounds POST /api/input bodies.
const maxInputBytes = 16 << 10

// summaryCacheTTL keeps repeated briefing requests from costing one model
// call each.
const summaryCacheTTL = 30 * time.Second

// Service is what the HTTP surface needs from the scheduler.
type Service interface {
	GetSummary(ctx context.Context) (string, error)
	Events(ctx context.Context) ([]model.CalendarEvent, error)
	Weather(ctx context.Context) (model.WeatherSnapshot, error)
	RefreshCache(ctx context.Context) error
	HandleUserInput(ctx context.Context, text string) (intent.Result, error)
	CommitEvent(ctx context.Context, text string, res intent.AddEventResult) (model.InsertedEvent, error)
	Status() []scheduler.SourceStatus
}

var _ Service = (*scheduler.Scheduler)(nil)

// Server provides the HTTP API over a Service.
type Server struct {
	cfg     *config.Config
	svc     Service
	metrics http.Handler
	mux     *http.ServeMux
	now     func() time.Time

	summaryMu    sync.RWMutex
	summaryCache *summaryCache
}

type summaryCache struct {
	resp      summaryResponse
	updatedAt time.Time
}

type summaryResponse struct {
	Summary     string `json:"summary"`
	GeneratedAt string `json:"generatedAt"`
}

type eventsResponse struct {
	Events []model.CalendarEvent `json:"events"`
}

type weatherResponse struct {
	model.WeatherSnapshot
	Condition weather.Condition `json:"condition"`
}

type statusResponse struct {
	Sources []scheduler.SourceStatus `json:"sources"`
}

type inputRequest struct {
	Text   string `json:"text"`
	Commit bool   `json:"commit"`
}

type inputResponse struct {
	Result   intent.Result        `json:"result"`
	Inserted *model.InsertedEvent `json:"inserted,omitempty"`
}

// NewServer constructs a new Server. metrics may be nil, in which case
// /metrics is not registered.
func NewServer(cfg *config.Config, svc Service, metrics http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daybrief", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/weather", s.handleWeather)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/input", s.handleInput)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSummary returns the model briefing. ?fresh=1 bypasses the short
// response cache but not the data caches behind the service.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	fresh := r.URL.Query().Get("fresh") == "1"

	if !fresh {
		s.summaryMu.RLock()
		sc := s.summaryCache
		s.summaryMu.RUnlock()
		if sc != nil && s.now().Sub(sc.updatedAt) < summaryCacheTTL {
			writeJSON(w, http.StatusOK, sc.resp)
			return
		}
	}

	text, err := s.svc.GetSummary(r.Context())
	if err != nil {
		writeServiceError(w, "summary", err)
		return
	}

	now := s.now()
	resp := summaryResponse{Summary: text, GeneratedAt: model.FormatTime(now)}
	s.summaryMu.Lock()
	s.summaryCache = &summaryCache{resp: resp, updatedAt: now}
	s.summaryMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context())
	if err != nil {
		writeServiceError(w, "events", err)
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Weather(r.Context())
	if err != nil {
		writeServiceError(w, "weather", err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		WeatherSnapshot: snap,
		Condition:       weather.Classify(snap.ConditionCode),
	})
}

// handleStatus reports cache state without touching the upstream sources.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Sources: s.svc.Status()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.dropSummary()
	if err := s.svc.RefreshCache(r.Context()); err != nil {
		writeServiceError(w, "refresh", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInput runs one user-input cycle. With "commit": true the proposed
// event is also written to the calendar.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInputBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res, err := s.svc.HandleUserInput(r.Context(), req.Text)
	if err != nil {
		writeServiceError(w, "input", err)
		return
	}
	resp := inputResponse{Result: res}

	if req.Commit {
		proposal, ok := res.AddEvent()
		if !ok {
			writeError(w, http.StatusConflict, "only add_event results can be committed")
			return
		}
		inserted, err := s.svc.CommitEvent(r.Context(), req.Text, proposal)
		if err != nil {
			writeServiceError(w, "commit", err)
			return
		}
		s.dropSummary()
		resp.Inserted = &inserted
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dropSummary() {
	s.summaryMu.Lock()
	s.summaryCache = nil
	s.summaryMu.Unlock()
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var serr *schema.Error
	switch {
	case errors.As(err, &serr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, intent.ErrUnimplemented):
		return http.StatusNotImplemented
	case errors.Is(err, intent.ErrUnknownIntent):
		return http.StatusBadRequest
	case errors.Is(err, calendar.ErrReadOnly):
		return http.StatusConflict
	case errors.Is(err, cache.ErrDataUnavailable),
		errors.Is(err, calendar.ErrNotAuthenticated):
		return http.StatusServiceUnavailable
	case errors.Is(err, intent.ErrMalformedModelOutput),
		errors.Is(err, completion.ErrEmptyCompletion):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "op", op, "status", status)
	} else {
		appLog.Warn("api request rejected", "op", op, "status", status, "error", err.Error())
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
