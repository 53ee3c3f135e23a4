// Package server exposes a workflow controller over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/config"
	"github.com/chaos-io/bgremover/workflow"
)

type Server struct {
	httpServer *http.Server
	health     *HealthMonitor
	log        *zap.Logger
}

func New(cfg *config.Config, ctrl *workflow.Controller, health *HealthMonitor, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("server")
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           NewRouter(NewHandler(ctrl, health, log)),
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1 MB
		},
		health: health,
		log:    log,
	}

	log.Info("Server created", zap.String("address", cfg.Server.Addr))
	return server
}

func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// size limits are enforced by workflow.Validate
	router.MaxMultipartMemory = workflow.MaxFileSize

	router.GET("/health", h.HealthCheck)
	router.GET("/blob/:id", h.GetBlob)

	api := router.Group("/api")
	{
		api.GET("/state", h.GetState)
		api.POST("/select", h.SelectFile)
		api.POST("/process", h.Process)
		api.GET("/preview", h.GetPreview)
		api.GET("/result", h.GetResult)
		api.GET("/download", h.Download)
		api.POST("/reset", h.Reset)
	}
	return router
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run starts the health probe and serves until Shutdown. It returns nil
// after a clean shutdown.
func (s *Server) Run() error {
	if s.health != nil {
		s.health.Start()
		go s.health.Check(context.Background())
	}

	s.log.Info("Server is running", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	if s.health != nil {
		s.health.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}
