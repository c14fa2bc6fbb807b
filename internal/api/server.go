// Package api exposes session turns and plan inspection over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/executor"
	"github.com/ZanzyTHEbar/toolplan/internal/modelcalls"
	"github.com/ZanzyTHEbar/toolplan/internal/session"
)

const maxRequestBytes = 1 << 20

// Sessions is the session surface the server drives.
type Sessions interface {
	Turn(ctx context.Context, sessionID, message string, calls []toolplan.RequestedCall) (*toolplan.Plan, error)
	Resume(ctx context.Context, sessionID string) (*toolplan.Plan, error)
	MarkWaiting(ctx context.Context, sessionID string) (*toolplan.Plan, error)
	Abort(ctx context.Context, sessionID string) error
	DebugView(ctx context.Context, sessionID string) (toolplan.DebugView, error)
}

// Catalog lists tool schemas.
type Catalog interface {
	Schemas() map[string]map[string]any
}

// turnRequest carries calls either in plan form or exactly as a chat model returned them.
type turnRequest struct {
	Message   string                   `json:"message"`
	Calls     []toolplan.RequestedCall `json:"calls,omitempty"`
	ToolCalls []llms.ToolCall          `json:"tool_calls,omitempty"`
}

type planResponse struct {
	Status       toolplan.PlanStatus   `json:"status"`
	Summary      string                `json:"summary"`
	Plan         toolplan.DebugView    `json:"plan"`
	ToolMessages []llms.MessageContent `json:"tool_messages,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type Server struct {
	sessions Sessions
	catalog  Catalog
	logger   zerolog.Logger
	router   chi.Router
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and error logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New builds the router. addr is only used by Start.
func New(addr string, sessions Sessions, catalog Catalog, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		catalog:  catalog,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.logMiddleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Get("/tools", s.listTools)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/turns", s.turn)
		r.Post("/resume", s.resume)
		r.Post("/waiting", s.waiting)
		r.Get("/plan", s.debugView)
		r.Delete("/plan", s.abort)
	})

	s.router = r
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, modelcalls.LangchainTools(s.catalog.Schemas()))
}

func (s *Server) turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := unmarshalRequestBody(r, &req); err != nil {
		s.fail(w, r, toolplan.NewValidationError("api.turn", "unable to parse body", err))
		return
	}

	calls := req.Calls
	if len(req.ToolCalls) > 0 {
		converted, err := modelcalls.FromLangchain(req.ToolCalls)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		calls = append(calls, converted...)
	}

	plan, err := s.sessions.Turn(r.Context(), chi.URLParam(r, "id"), req.Message, calls)
	s.respond(w, r, plan, err)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	plan, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, plan, err)
}

func (s *Server) waiting(w http.ResponseWriter, r *http.Request) {
	plan, err := s.sessions.MarkWaiting(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, plan, err)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Abort(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) debugView(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.DebugView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, plan *toolplan.Plan, err error) {
	if err != nil && plan == nil {
		s.fail(w, r, err)
		return
	}
	if err != nil {
		// The plan ran but its outcome could not be stored.
		hlog.FromRequest(r).Error().Err(err).Str("plan_id", plan.ID).Msg("failed to persist plan")
	}
	render.JSON(w, r, planResponse{
		Status:       plan.Status,
		Summary:      session.Summary(plan),
		Plan:         executor.DebugView(plan),
		ToolMessages: modelcalls.LangchainResponses(plan),
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	evt := hlog.FromRequest(r).Debug()
	if status >= http.StatusInternalServerError {
		evt = hlog.FromRequest(r).Error()
	}
	evt.Err(err).Int("status", status).Msg("request failed")

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: toolplan.HumanMessage(err), Code: toolplan.ErrorCode(err)})
}

func statusOf(err error) int {
	// The outermost code wins: a validation error may wrap a missing plan.
	switch toolplan.ErrorCode(err) {
	case toolplan.ErrCodeValidation, toolplan.ErrCodeToolNotFound:
		return http.StatusBadRequest
	case toolplan.ErrCodePlanNotFound:
		return http.StatusNotFound
	}
	switch {
	case errors.Is(err, toolplan.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(s.logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Dur("duration", duration).
			Msg("REQ")
	}))
	return c.Then
}

func unmarshalRequestBody(req *http.Request, output any) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	if err := req.Body.Close(); err != nil {
		return err
	}
	return json.Unmarshal(body, output)
}
