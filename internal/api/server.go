package api

import (
	"context"
	"errors"
	"net/http"

	"coinpulse/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the operational routes.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(recovery(logger), requestLogger(logger))

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/scheduler/status", h.SchedulerStatus)
		v1.POST("/scheduler/tasks/:task/trigger", h.TriggerTask)
		v1.POST("/scheduler/tasks/:task/enable", h.EnableTask)
		v1.POST("/scheduler/tasks/:task/disable", h.DisableTask)

		v1.GET("/notifications", h.ListNotifications)
		v1.GET("/aggregation/last", h.LastAggregation)
		v1.GET("/history/:crypto_id", h.History)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "route not found")
	})

	return r
}

// Server is the operational HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(cfg config.HTTPConfig, h *Handler, logger *zap.Logger) *Server {
	logger = logger.Named("http")
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(h, logger),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start serves in the background. A listen failure is logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
