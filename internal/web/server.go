package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/ledger"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/storage"
)

// TransferLog lists recent stable-asset transfers, newest first.
type TransferLog interface {
	RecentTransfers(ctx context.Context, limit int) ([]ledger.LedgerTransfer, error)
}

type Server struct {
	httpServer    *http.Server
	repo          *storage.Repository
	transfers     TransferLog
	dashboardPath string
	config        *config.Config
	logger        *logger.Logger
}

// NewServer accepts a nil transfer log; /api/transfers then answers 404.
func NewServer(repo *storage.Repository, transfers TransferLog, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		repo:          repo,
		transfers:     transfers,
		dashboardPath: cfg.Agent.DashboardPath,
		config:        cfg,
		logger:        log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/advisor", s.handleAdvisorLogs)
	if s.transfers != nil {
		mux.HandleFunc("/api/transfers", s.handleTransfers)
	}
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
