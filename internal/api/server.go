// Package api exposes day content resolution and calendar administration over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ikonga-nutrition/internal/logger"
	"ikonga-nutrition/internal/metrics"
)

// Server is the HTTP API server.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	log    *logger.Logger
}

// NewServer builds the router and its routes.
func NewServer(port string, h *Handlers, auth *Authenticator, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &Server{
		router: router,
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.With("component", "APIServer"),
	}
	s.setupRoutes(h, auth)
	return s
}

func (s *Server) setupRoutes(h *Handlers, auth *Authenticator) {
	s.router.GET("/healthz", h.Healthz)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/v1")
	{
		me := v1.Group("/me", auth.RequireAuth())
		me.GET("/days/:date", h.GetMyDay)
		me.POST("/days/:date/override", h.CreateMyOverride)
		me.GET("/phases", h.ListMyPhases)
		me.GET("/weeks/:date/shopping-list", h.GetMyShoppingList)

		coach := v1.Group("/coach", auth.RequireAuth(RoleCoach, RoleAdmin))
		coach.POST("/users/:userID/days/:date/override", h.CreateUserOverride)
		coach.PUT("/users/:userID/weeks/:weekStart/days/:day", h.PatchWeekDay)

		admin := v1.Group("/admin", auth.RequireAuth(RoleAdmin))
		admin.POST("/users/:userID/calendar", h.GenerateCalendar)
		admin.POST("/users/:userID/phase-override", h.OverridePhase)
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info("shutting down api server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
