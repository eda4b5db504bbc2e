// Package httpapi exposes the engine over HTTP: hook intake, pipeline and
// session control, and a websocket stream of engine events.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/events"
	"github.com/gobby-stack/gobby/internal/hooks"
	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/pipeline"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/workflow"
)

// Backend is what the API serves.
type Backend interface {
	HandleHook(ctx context.Context, ev *types.HookEvent) (*types.HookResponse, error)

	RunPipeline(ctx context.Context, req pipeline.RunRequest) (*types.Execution, error)
	ApprovePipeline(ctx context.Context, token string) (*types.Execution, error)
	RejectPipeline(ctx context.Context, token, reason string) (*types.Execution, error)
	PipelineStatus(ctx context.Context, executionID string) (*types.Execution, error)
	CancelPipeline(ctx context.Context, executionID string) (*types.Execution, error)
	ListPipelines(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error)

	SessionState(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error)
	ActivateWorkflow(ctx context.Context, sessionID, name, step string, vars map[string]any) (*types.SessionWorkflowState, error)
	EndWorkflow(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error)
	Transition(ctx context.Context, sessionID, to string, force bool) (*types.SessionWorkflowState, error)
	ApproveStep(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error)
	SetVariable(ctx context.Context, sessionID, name string, value any) (*types.SessionWorkflowState, error)
	ForceClear(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error)

	Definitions(t types.DefinitionType) []ipc.DefinitionSummary
	Reload(ctx context.Context) (*workflow.ReloadReport, error)
}

// Server is the HTTP API.
type Server struct {
	addr    string
	backend Backend
	bus     *events.Bus
	logger  *slog.Logger
	echo    *echo.Echo
}

// New builds the server and its routes. bus may be nil, in which case /ws
// is not served.
func New(addr string, backend Backend, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		backend: backend,
		bus:     bus,
		logger:  logger.With("component", "http"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.logger.LogAttrs(c.Request().Context(), slog.LevelDebug, "request", attrs...)
			return nil
		},
	}))

	e.POST("/hooks", s.hook)
	e.POST("/hooks/:source", s.nativeHook)

	e.GET("/pipelines", s.listPipelines)
	e.POST("/pipelines", s.runPipeline)
	e.GET("/pipelines/:id", s.pipelineStatus)
	e.POST("/pipelines/:id/cancel", s.cancelPipeline)
	e.POST("/approvals/:token/approve", s.approve)
	e.POST("/approvals/:token/reject", s.reject)

	e.GET("/workflows", s.listDefinitions)
	e.POST("/reload", s.reload)

	sessions := e.Group("/sessions/:id")
	sessions.GET("", s.sessionState)
	sessions.POST("/workflow", s.activate)
	sessions.DELETE("/workflow", s.end)
	sessions.POST("/transition", s.transition)
	sessions.POST("/approve", s.approveStep)
	sessions.POST("/clear", s.clear)
	sessions.PUT("/variables/:name", s.setVariable)

	if bus != nil {
		e.GET("/ws", s.stream)
	}

	s.echo = e
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http api listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// httpError maps coded errors onto HTTP statuses.
func httpError(err error) error {
	status := http.StatusInternalServerError
	code := gerrors.Code(err)
	switch code {
	case gerrors.CodeDefinitionNotFound, gerrors.CodeStepNotFound,
		gerrors.CodePipelineNotFound, gerrors.CodeApprovalNotFound:
		status = http.StatusNotFound
	case gerrors.CodeStepSlotOccupied, gerrors.CodeStepExitBlocked, gerrors.CodeStepNoActive,
		gerrors.CodePipelineTerminal, gerrors.CodePipelineInvalidFlow, gerrors.CodeStateLocked:
		status = http.StatusConflict
	case gerrors.CodeApprovalExpired:
		status = http.StatusGone
	case gerrors.CodeDefinitionWrongType, gerrors.CodeDefinitionInvalid, gerrors.CodeActionArgs,
		gerrors.CodeEvalParse, gerrors.CodeConfigInvalidValue, gerrors.CodeConfigMissingField:
		status = http.StatusBadRequest
	}
	body := map[string]string{"error": err.Error()}
	if code != "" {
		body["code"] = code
	}
	return echo.NewHTTPError(status, body)
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": msg})
}

func respond[T any](c echo.Context, v T, err error) error {
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) hook(c echo.Context) error {
	var ev types.HookEvent
	if err := c.Bind(&ev); err != nil {
		return badRequest("invalid hook event: " + err.Error())
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	resp, err := s.backend.HandleHook(c.Request().Context(), &ev)
	return respond(c, resp, err)
}

// nativeHook accepts a CLI's own hook payload and answers in that CLI's
// output format. The event name comes from ?event= or the payload.
func (s *Server) nativeHook(c echo.Context) error {
	source := c.Param("source")
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, 16<<20))
	if err != nil {
		return badRequest("reading body: " + err.Error())
	}
	ev, err := hooks.Normalize(source, c.QueryParam("event"), payload)
	if err != nil {
		return badRequest(err.Error())
	}
	resp, err := s.backend.HandleHook(c.Request().Context(), ev)
	if err != nil {
		return httpError(err)
	}
	out, err := hooks.Render(source, ev, resp)
	if err != nil {
		return httpError(err)
	}
	if len(out) == 0 {
		return c.NoContent(http.StatusOK)
	}
	return c.JSONBlob(http.StatusOK, out)
}

func (s *Server) runPipeline(c echo.Context) error {
	var req pipeline.RunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid run request: " + err.Error())
	}
	if req.Pipeline == "" {
		return badRequest("pipeline is required")
	}
	exec, err := s.backend.RunPipeline(c.Request().Context(), req)
	return respond(c, exec, err)
}

func (s *Server) listPipelines(c echo.Context) error {
	execs, err := s.backend.ListPipelines(c.Request().Context(), types.ExecutionFilter{
		Status:    types.ExecutionStatus(c.QueryParam("status")),
		SessionID: c.QueryParam("session_id"),
		Pipeline:  c.QueryParam("pipeline"),
	})
	return respond(c, execs, err)
}

func (s *Server) pipelineStatus(c echo.Context) error {
	exec, err := s.backend.PipelineStatus(c.Request().Context(), c.Param("id"))
	return respond(c, exec, err)
}

func (s *Server) cancelPipeline(c echo.Context) error {
	exec, err := s.backend.CancelPipeline(c.Request().Context(), c.Param("id"))
	return respond(c, exec, err)
}

func (s *Server) approve(c echo.Context) error {
	exec, err := s.backend.ApprovePipeline(c.Request().Context(), c.Param("token"))
	return respond(c, exec, err)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) reject(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid reject request: " + err.Error())
	}
	exec, err := s.backend.RejectPipeline(c.Request().Context(), c.Param("token"), req.Reason)
	return respond(c, exec, err)
}

func (s *Server) listDefinitions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.backend.Definitions(types.DefinitionType(c.QueryParam("type"))))
}

func (s *Server) reload(c echo.Context) error {
	rep, err := s.backend.Reload(c.Request().Context())
	return respond(c, rep, err)
}

func (s *Server) sessionState(c echo.Context) error {
	st, err := s.backend.SessionState(c.Request().Context(), c.Param("id"))
	return respond(c, st, err)
}

type activateRequest struct {
	Workflow  string         `json:"workflow"`
	Step      string         `json:"step,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (s *Server) activate(c echo.Context) error {
	var req activateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid activate request: " + err.Error())
	}
	if req.Workflow == "" {
		return badRequest("workflow is required")
	}
	st, err := s.backend.ActivateWorkflow(c.Request().Context(), c.Param("id"), req.Workflow, req.Step, req.Variables)
	return respond(c, st, err)
}

func (s *Server) end(c echo.Context) error {
	st, err := s.backend.EndWorkflow(c.Request().Context(), c.Param("id"))
	return respond(c, st, err)
}

type transitionRequest struct {
	To    string `json:"to"`
	Force bool   `json:"force,omitempty"`
}

func (s *Server) transition(c echo.Context) error {
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid transition request: " + err.Error())
	}
	if req.To == "" {
		return badRequest("to is required")
	}
	st, err := s.backend.Transition(c.Request().Context(), c.Param("id"), req.To, req.Force)
	return respond(c, st, err)
}

func (s *Server) approveStep(c echo.Context) error {
	st, err := s.backend.ApproveStep(c.Request().Context(), c.Param("id"))
	return respond(c, st, err)
}

func (s *Server) clear(c echo.Context) error {
	st, err := s.backend.ForceClear(c.Request().Context(), c.Param("id"))
	return respond(c, st, err)
}

type variableRequest struct {
	Value any `json:"value"`
}

func (s *Server) setVariable(c echo.Context) error {
	var req variableRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid variable request: " + err.Error())
	}
	st, err := s.backend.SetVariable(c.Request().Context(), c.Param("id"), c.Param("name"), req.Value)
	return respond(c, st, err)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to loopback by default; there is no browser origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// stream pushes bus events to a websocket client until it disconnects.
// ?type= (repeatable, trailing "." for prefixes) and ?session_id= filter.
func (s *Server) stream(c echo.Context) error {
	var kinds []string
	for _, t := range c.QueryParams()["type"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				kinds = append(kinds, part)
			}
		}
	}
	filter := events.Filter{Types: kinds, SessionID: c.QueryParam("session_id")}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	ch, cancel := s.bus.Subscribe(filter, 128)
	defer cancel()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ctx := c.Request().Context()
	for {
		select {
		case <-gone:
			return nil
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return nil
			}
		}
	}
}
