// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package web serves the chat over HTTP: a JSON API, a websocket chat
// endpoint, a small browser page and Prometheus metrics.
package web

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nlpodyssey/finchat/present"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/finchat/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

//go:embed static/index.html
var static embed.FS

const (
	maxSessionIDLength = 128
	maxMessageSize     = 64 * 1024
)

// Service is the part of chat.Service the server uses.
type Service interface {
	Ask(ctx context.Context, sessionID, query string, opts present.Options) (present.Report, runner.ExecutionResult)
	History(ctx context.Context, sessionID string) ([]trace.Message, error)
	Clear(ctx context.Context, sessionID string) error
	Ready(ctx context.Context) error
}

type Params struct {
	Service Service
	Logger  *slog.Logger

	// Queries allowed per session and minute. Zero disables the limit.
	RatePerMinute int
	Burst         int

	// Registry receiving the metrics. A new one is created when nil.
	Registry *prometheus.Registry

	Now func() time.Time
}

type Server struct {
	echo     *echo.Echo
	service  Service
	logger   *slog.Logger
	limiter  *sessionLimiter
	metrics  *Metrics
	upgrader websocket.Upgrader
}

type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
	Verbose   bool   `json:"verbose"`
}

// Frame is a message sent to websocket clients.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Report    *present.Report `json:"report,omitempty"`
	Error     string          `json:"error,omitempty"`
}

const (
	FrameStatus = "status"
	FrameReport = "report"
	FrameError  = "error"
)

func New(params Params) (*Server, error) {
	if params.Service == nil {
		return nil, errors.New("web: missing service")
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.DiscardHandler)
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	reg := params.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
	}

	s := &Server{
		echo:    echo.New(),
		service: params.Service,
		logger:  params.Logger,
		limiter: newSessionLimiter(params.RatePerMinute, params.Burst, params.Now),
		metrics: NewMetrics(reg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.logger.LogAttrs(context.Background(), slog.LevelDebug, "request", attrs...)
			return nil
		},
	}))

	e.GET("/", s.index)
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	e.GET("/ws", s.chatSocket)

	api := e.Group("/api")
	api.POST("/sessions", s.createSession)
	api.POST("/sessions/:id/query", s.query)
	api.GET("/sessions/:id/history", s.history)
	api.DELETE("/sessions/:id/history", s.clearHistory)
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown is called, returning nil in that
// case.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) index(c echo.Context) error {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page)
}

func (s *Server) health(c echo.Context) error {
	if err := s.service.Ready(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, map[string]string{"session_id": uuid.NewString()})
}

func sessionParam(c echo.Context) (string, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" || len(id) > maxSessionIDLength {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

// POST /api/sessions/:id/query
func (s *Server) query(c echo.Context) error {
	id, err := sessionParam(c)
	if err != nil {
		return err
	}
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if !s.limiter.allow(id) {
		s.metrics.limited.Inc()
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	return c.JSON(http.StatusOK, s.ask(c.Request().Context(), id, req))
}

// GET /api/sessions/:id/history
func (s *Server) history(c echo.Context) error {
	id, err := sessionParam(c)
	if err != nil {
		return err
	}
	msgs, err := s.service.History(c.Request().Context(), id)
	if err != nil {
		s.logger.Error("failed to load history", slog.String("session_id", id), slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}
	return c.JSON(http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

// DELETE /api/sessions/:id/history
func (s *Server) clearHistory(c echo.Context) error {
	id, err := sessionParam(c)
	if err != nil {
		return err
	}
	if err := s.service.Clear(c.Request().Context(), id); err != nil {
		s.logger.Error("failed to clear history", slog.String("session_id", id), slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear history")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) ask(ctx context.Context, sessionID string, req queryRequest) present.Report {
	report, _ := s.service.Ask(ctx, sessionID, req.Query, present.Options{Verbose: req.Verbose})
	s.metrics.observe(report)
	return report
}

// GET /ws
//
// Every client message is a query. The server answers with a status frame
// followed by a report frame, one query at a time per connection.
func (s *Server) chatSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	ctx := c.Request().Context()
	sessionID := ""
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return nil
		}

		var req queryRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := writeFrame(conn, Frame{Type: FrameError, Error: "invalid message"}); err != nil {
				return nil
			}
			continue
		}
		if req.SessionID != "" {
			sessionID = req.SessionID
		} else if sessionID == "" {
			sessionID = uuid.NewString()
		}

		var frames []Frame
		switch {
		case strings.TrimSpace(req.Query) == "":
			frames = []Frame{{Type: FrameError, SessionID: sessionID, Error: "query is required"}}
		case len(sessionID) > maxSessionIDLength:
			frames = []Frame{{Type: FrameError, Error: "invalid session id"}}
		case !s.limiter.allow(sessionID):
			s.metrics.limited.Inc()
			frames = []Frame{{Type: FrameError, SessionID: sessionID, Error: "rate limit exceeded"}}
		default:
			if err := writeFrame(conn, Frame{Type: FrameStatus, SessionID: sessionID, Status: "processing"}); err != nil {
				return nil
			}
			report := s.ask(ctx, sessionID, req)
			frames = []Frame{{Type: FrameReport, SessionID: sessionID, Report: &report}}
		}
		for _, f := range frames {
			if err := writeFrame(conn, f); err != nil {
				return nil
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
