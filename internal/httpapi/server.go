// Package httpapi exposes health, metrics and event submission over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fraudwatch/internal/config"
	"fraudwatch/internal/constants"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/pipeline"
	pkgerrors "fraudwatch/pkg/errors"
	"fraudwatch/pkg/health"
	"fraudwatch/pkg/middleware"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/ratelimit"
	"fraudwatch/pkg/tracing"
)

const sourceName = "http"

// maxBodyOverhead leaves room for base64 expansion and the JSON envelope.
const maxBodyOverhead = 64 * 1024

type Options struct {
	Server        config.ServerConfig
	Tracing       bool
	ServiceName   string
	MaxImageBytes int64
	Submitter     pipeline.Submitter
	Health        *health.CheckerRegistry
	Logger        logger.Logger
}

type Server struct {
	opts    Options
	router  *gin.Engine
	server  *http.Server
	clients *ratelimit.Clients
	logger  logger.Logger
}

func New(opts Options) *Server {
	if opts.Health == nil {
		opts.Health = health.NewCheckerRegistry()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = constants.ServiceName
	}

	s := &Server{opts: opts, logger: opts.Logger}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Server.Port),
		Handler:      s.router,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if s.opts.Tracing {
		router.Use(tracing.GinMiddleware(s.opts.ServiceName))
	}
	router.Use(middleware.RecoveryMiddleware(s.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(s.logger))

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if s.opts.Server.RateLimit.Enabled {
		s.clients = ratelimit.NewClients(ratelimit.FromConfig(s.opts.Server.RateLimit))
		v1.Use(s.clients.Middleware())
	}
	v1.POST("/events", s.submitEvent)

	return router
}

func (s *Server) health(c *gin.Context) {
	h := s.opts.Health.Check(c.Request.Context())
	status := http.StatusOK
	if h.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) submitEvent(c *gin.Context) {
	ctx := c.Request.Context()

	limit := s.opts.MaxImageBytes*4/3 + maxBodyOverhead
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.handleError(c, pkgerrors.ErrOversized.WithMessage("request body too large"))
			return
		}
		s.handleError(c, pkgerrors.ErrValidation.WithMessage("unreadable request body").WithCause(err))
		return
	}

	ev, err := models.DecodeInboundEvent(body, sourceName)
	if err != nil {
		s.handleError(c, err)
		return
	}

	out, err := s.opts.Submitter.Submit(ctx, ev)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(StatusFor(out), out)
}

func (s *Server) handleError(c *gin.Context, err error) {
	status := pkgerrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		s.logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, pkgerrors.ToErrorResponse(err))
}

// StatusFor maps an outcome to the HTTP status of the submission response.
func StatusFor(out models.Outcome) int {
	switch out.Status {
	case models.StatusRejected:
		switch out.Reason {
		case models.ReasonUnauthorized:
			return http.StatusForbidden
		case models.ReasonRateLimited:
			return http.StatusTooManyRequests
		case models.ReasonOversized:
			return http.StatusRequestEntityTooLarge
		case models.ReasonEmptyContent:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadRequest
		}
	case models.StatusFailed:
		if out.Reason == models.ReasonCanceled {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.InfowCtx(ctx, "Server listening", "port", s.opts.Server.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	if s.clients != nil {
		go s.clients.Run(ctx)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		s.logger.Info("Server stopped")
		return nil
	case err := <-errChan:
		return err
	}
}
