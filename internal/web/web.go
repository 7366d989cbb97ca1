package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentcal/internal/config"
	appLog "agentcal/internal/log"
	"agentcal/internal/model"
	"agentcal/internal/timeline"
)

const (
	// Defaults of the GET convenience endpoints.
	defaultCheckMinutes = 60
	defaultSlotMinutes  = 60
	defaultSlotCount    = 10
	defaultBlockMinutes = 90

	shutdownTimeout = 5 * time.Second
)

// AgentDirectory resolves agents and their clients.
type AgentDirectory interface {
	List() []model.Agent
	Lookup(agentID string) (model.Agent, error)
	Clients(agentID string) ([]model.Client, error)
}

// Calendars exposes an agent's full cached interval list.
type Calendars interface {
	Intervals(ctx context.Context, agentID string) ([]model.BusyInterval, error)
	Invalidate(agentID string)
}

// Availability runs the three availability queries.
type Availability interface {
	CheckAvailability(ctx context.Context, agentID string, at time.Time, durationMinutes int) (bool, error)
	FindAvailableSlots(ctx context.Context, agentID string, windows []model.TimeWindow, durationMinutes, maxSlots int) ([]model.FreeSlot, error)
	FindBestWorkBlock(ctx context.Context, agentID string, minDurationMinutes int) (*model.FreeSlot, error)
}

// Deps are the collaborators the HTTP layer calls into.
type Deps struct {
	Agents    AgentDirectory
	Calendars Calendars
	Engine    Availability
	// Gatherer, if non-nil, is served on /metrics.
	Gatherer prometheus.Gatherer
}

// Server provides the JSON API over the availability engine.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
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

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http shutdown")
		}
		return nil
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password means auth is off.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="agentcal", charset="UTF-8"`)
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
	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
	s.mux.HandleFunc("GET /api/agents/{agentID}/clients", s.handleClients)
	s.mux.HandleFunc("GET /api/clients/{agentID}", s.handleClients)

	s.mux.HandleFunc("GET /api/calendar/{agentID}", s.handleCalendar)
	s.mux.HandleFunc("POST /api/calendar/{agentID}/refresh", s.handleRefresh)

	s.mux.HandleFunc("POST /api/availability/check", s.handleCheckPost)
	s.mux.HandleFunc("GET /api/availability/check/{agentID}", s.handleCheckGet)
	s.mux.HandleFunc("POST /api/availability/slots", s.handleSlotsPost)
	s.mux.HandleFunc("GET /api/availability/slots/{agentID}", s.handleSlotsGet)
	s.mux.HandleFunc("GET /api/availability/best-block/{agentID}", s.handleBestBlock)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agents.List())
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.deps.Agents.Clients(r.PathValue("agentID"))
	if err != nil {
		writeQueryError(w, "clients", err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Calendars.Intervals(r.Context(), r.PathValue("agentID"))
	if err != nil {
		writeQueryError(w, "calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleRefresh drops the cached intervals so the next query re-reads the
// calendar file.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	if _, err := s.deps.Agents.Lookup(agentID); err != nil {
		writeQueryError(w, "refresh", err)
		return
	}
	s.deps.Calendars.Invalidate(agentID)
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	AgentID         string `json:"agent_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type checkResponse struct {
	Available bool `json:"available"`
}

// handleCheckPost checks one interval.
//
// POST /api/availability/check {"agent_id", "start_time", "duration_minutes"}
func (s *Server) handleCheckPost(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeQueryError(w, "check", err)
		return
	}
	at, err := parseInstant("start_time", req.StartTime)
	if err != nil {
		writeQueryError(w, "check", err)
		return
	}
	ok, err := s.deps.Engine.CheckAvailability(r.Context(), req.AgentID, at, req.DurationMinutes)
	if err != nil {
		writeQueryError(w, "check", err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Available: ok})
}

// handleCheckGet is the query-string form of the availability check.
//
// GET /api/availability/check/{agentID}?datetime=...&duration=60
func (s *Server) handleCheckGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := parseInstant("datetime", q.Get("datetime"))
	if err != nil {
		writeQueryError(w, "check", err)
		return
	}
	duration, err := parseIntDefault("duration", q.Get("duration"), defaultCheckMinutes)
	if err != nil {
		writeQueryError(w, "check", err)
		return
	}

	ok, err := s.deps.Engine.CheckAvailability(r.Context(), r.PathValue("agentID"), at, duration)
	if err != nil {
		writeQueryError(w, "check", err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Available: ok})
}

type rangeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type slotsRequest struct {
	AgentID         string         `json:"agent_id"`
	TimeRanges      []rangeRequest `json:"time_ranges"`
	DurationMinutes int            `json:"duration_minutes"`
	NumSlots        int            `json:"num_slots"`
}

// handleSlotsPost lists free slots over several windows.
//
// POST /api/availability/slots
func (s *Server) handleSlotsPost(w http.ResponseWriter, r *http.Request) {
	var req slotsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeQueryError(w, "slots", err)
		return
	}

	windows := make([]model.TimeWindow, 0, len(req.TimeRanges))
	for i, tr := range req.TimeRanges {
		start, err := parseInstant(fmt.Sprintf("time_ranges[%d].start", i), tr.Start)
		if err != nil {
			writeQueryError(w, "slots", err)
			return
		}
		end, err := parseInstant(fmt.Sprintf("time_ranges[%d].end", i), tr.End)
		if err != nil {
			writeQueryError(w, "slots", err)
			return
		}
		windows = append(windows, model.TimeWindow{Start: start, End: end})
	}

	slots, err := s.deps.Engine.FindAvailableSlots(r.Context(), req.AgentID, windows, req.DurationMinutes, req.NumSlots)
	if err != nil {
		writeQueryError(w, "slots", err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// slotDTO is the calendar-event shaped view of a free slot used by the
// GET endpoints.
type slotDTO struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleSlotsGet returns up to 10 one hour slots in a single window.
//
// GET /api/availability/slots/{agentID}?start_date=...&end_date=...
func (s *Server) handleSlotsGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseInstant("start_date", q.Get("start_date"))
	if err != nil {
		writeQueryError(w, "slots", err)
		return
	}
	end, err := parseInstant("end_date", q.Get("end_date"))
	if err != nil {
		writeQueryError(w, "slots", err)
		return
	}

	windows := []model.TimeWindow{{Start: start, End: end}}
	slots, err := s.deps.Engine.FindAvailableSlots(r.Context(), r.PathValue("agentID"), windows, defaultSlotMinutes, defaultSlotCount)
	if err != nil {
		writeQueryError(w, "slots", err)
		return
	}

	out := make([]slotDTO, 0, len(slots))
	for _, sl := range slots {
		out = append(out, slotDTO{
			Summary:     "Available Slot",
			Description: sl.Description,
			Start:       sl.Start,
			End:         sl.End,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type blockResponse struct {
	Summary         string    `json:"summary"`
	Description     string    `json:"description"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// handleBestBlock returns the longest uninterrupted block in the coming
// week, or 404 when none is long enough.
//
// GET /api/availability/best-block/{agentID}?min_duration=90
func (s *Server) handleBestBlock(w http.ResponseWriter, r *http.Request) {
	minDuration, err := parseIntDefault("min_duration", r.URL.Query().Get("min_duration"), defaultBlockMinutes)
	if err != nil {
		writeQueryError(w, "best-block", err)
		return
	}

	block, err := s.deps.Engine.FindBestWorkBlock(r.Context(), r.PathValue("agentID"), minDuration)
	if err != nil {
		writeQueryError(w, "best-block", err)
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "no suitable work block found")
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{
		Summary:         "Schedule Insight",
		Description:     block.Description,
		Start:           block.Start,
		End:             block.End,
		DurationMinutes: int(block.Duration() / time.Minute),
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(model.ErrInvalidInput, "malformed request body: %v", err)
	}
	return nil
}

func parseInstant(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.Wrapf(model.ErrInvalidInput, "%s is required", field)
	}
	t, err := timeline.ParseInstant(value)
	if err != nil {
		return time.Time{}, errors.Wrapf(model.ErrInvalidInput, "%s: %v", field, err)
	}
	return t, nil
}

// writeQueryError maps domain errors to status codes. Unexpected errors are
// logged and hidden from the client.
func writeQueryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("api request failed", err, "op", op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseIntDefault returns def for an absent parameter and ErrInvalidInput
// for one that is not an integer.
func parseIntDefault(field, s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(model.ErrInvalidInput, "%s must be an integer, got %q", field, s)
	}
	return n, nil
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
