// Package api implements the health/status HTTP surface: GET /health,
// GET /api/v1/status, GET /api/v1/checkpoints, GET /api/v1/coverage, and
// GET /schema/block, following the teacher's pkg/api router/middleware/
// swagger wiring in server.go/handlers.go/docs.go.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/pkg/config"
	"github.com/chainindexor/blockindexer/pkg/store"
)

//go:embed swagger.json
var swaggerDoc []byte

const shutdownCtxTimeout = 10 * time.Second

// Server is the health/status HTTP server.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer builds a Server, wiring the handler, swagger UI, and middleware
// chain (recovery, logging, optional CORS) exactly as the teacher's
// pkg/api.NewServer does.
func NewServer(cfg *config.APIConfig, st store.BlockStore, chainID uint64, log *logger.Logger) *Server {
	handler := NewHandler(st, chainID, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /api/v1/status", handler.Status)
	mux.HandleFunc("GET /api/v1/checkpoints", handler.Checkpoints)
	mux.HandleFunc("GET /api/v1/coverage", handler.Coverage)
	mux.HandleFunc("GET /schema/block", handler.Schema)

	mux.HandleFunc("GET /swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(swaggerDoc)
	})
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)
	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins)(h)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	return &Server{config: cfg, handler: handler, server: httpServer, log: log.WithComponent("api")}
}

// Start launches the HTTP server in a background goroutine and blocks until
// ctx is canceled, at which point it shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("api server is disabled")
		return nil
	}

	s.log.Infow("starting api server", "address", s.config.ListenAddress)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("api server error", "error", err)
		}
	}()

	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// Shutdown gracefully stops the HTTP server; used directly by the shutdown
// sequencer's priority-1 handler as well as internally by Start.
func (s *Server) Shutdown(parent context.Context) error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(parent, shutdownCtxTimeout)
	defer cancel()

	s.log.Info("shutting down api server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
