package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bluefly-sync/api/router"
	"bluefly-sync/config"
	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/queue"
	"bluefly-sync/pkg/logger"
)

type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	logger        *logger.Logger
	publisher     queue.Publisher
	closeStores   func(context.Context) error
}

func NewServer(cfg *config.Config, logger *logger.Logger) *Server {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	webhooks, _, closeStores, err := eventlog.OpenStores(ctx,
		cfg.EventLog.Backend,
		cfg.EventLog.LogDir,
		cfg.EventLog.PipelineLogDir,
		cfg.EventLog.MongoURI,
		cfg.EventLog.MongoDatabase,
		logger.Component("eventlog"))
	if err != nil {
		logger.Fatalf("failed to open event log: %v", err)
	}

	var publisher queue.Publisher
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RabbitMQ not configured, worker will rely on backlog sweeps")
		publisher = queue.NoopPublisher{}
	} else {
		publisher, err = queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, logger.Component("queue"))
		if err != nil {
			logger.Fatalf("failed to create rabbitmq publisher: %v", err)
		}
	}

	r := router.Setup(logger, webhooks, publisher, cfg)

	// Create metrics server
	metricsAddr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: r,
		},
		metricsServer: metricsServer,
		logger:        logger,
		publisher:     publisher,
		closeStores:   closeStores,
	}
}

func (s *Server) Start() error {
	// Start metrics server in a goroutine
	go func() {
		s.logger.Info("Metrics server starting on port " + s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("metrics server error: %v", err)
		}
	}()

	// Start main HTTP server
	s.logger.Info("Server starting on port " + s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() error {
	s.logger.Info("Server shutting down")
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("failed to close publisher", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.closeStores(ctx); err != nil {
		s.logger.Error("failed to close event log", zap.Error(err))
	}
	return s.httpServer.Shutdown(ctx)
}
