package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bluefly-sync/config"
	"bluefly-sync/internal/bluefly"
	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/lookup"
	"bluefly-sync/internal/queue"
	"bluefly-sync/internal/shopify"
	"bluefly-sync/internal/worker"
	"bluefly-sync/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run a single backlog sweep and exit")
	listFilter := flag.String("list", "", "list Shopify products matching a search query and exit")
	catalog := flag.Bool("catalog", false, "fetch the marketplace seller catalog and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	webhooks, jobs, closeStores, err := eventlog.OpenStores(ctx,
		cfg.EventLog.Backend,
		cfg.EventLog.LogDir,
		cfg.EventLog.PipelineLogDir,
		cfg.EventLog.MongoURI,
		cfg.EventLog.MongoDatabase,
		logger.Component("eventlog"))
	if err != nil {
		logger.Fatalf("Failed to open event log: %v", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := closeStores(closeCtx); err != nil {
			logger.Errorf("Failed to close event log: %v", err)
		}
	}()

	enricher := shopify.NewClient(
		cfg.Shopify.Store,
		cfg.Shopify.AccessToken,
		cfg.Shopify.APIVersion,
		logger.Component("shopify"))
	pusher := bluefly.NewClient(
		cfg.Bluefly.APIURL,
		cfg.Bluefly.SellerID,
		cfg.Bluefly.SellerToken,
		logger.Component("bluefly"))
	categoryLookup := lookup.New(lookup.Config{
		Server:   cfg.Lookup.Server,
		Database: cfg.Lookup.Database,
		User:     cfg.Lookup.User,
		Password: cfg.Lookup.Password,
	}, logger.Component("lookup"))

	processor := worker.NewProcessor(
		webhooks,
		jobs,
		enricher,
		pusher,
		categoryLookup,
		cfg.Settings.Path,
		cfg.Bluefly.SellerID,
		logger.Component("worker"))

	if *listFilter != "" {
		summaries, err := enricher.ListProducts(ctx, *listFilter)
		if err != nil {
			logger.Fatalf("Failed to list products: %v", err)
		}
		out, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			logger.Fatalf("Failed to encode product list: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	if *catalog {
		result := pusher.GetCatalog(ctx)
		if !result.Success {
			logger.Fatalf("Failed to fetch catalog: %s", result.Error)
		}
		fmt.Println(result.Body)
		return
	}

	if *once {
		summary := processor.ProcessBacklog(ctx)
		logger.Infof("Sweep complete: processed=%d errored=%d skipped=%d",
			summary.Processed, summary.Errored, summary.Skipped)
		return
	}

	// Hand-off notice consumer. Optional: without a broker the periodic
	// sweep picks everything up.
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, logger.Component("queue"))
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbit.Close()

		go func() {
			err := rabbit.Consume(ctx, func(ctx context.Context, notice queue.EventNotice) error {
				return processor.ProcessEvent(ctx, notice.Handle)
			})
			if err != nil && ctx.Err() == nil {
				logger.Errorf("Notice consumer stopped: %v", err)
			}
		}()
		logger.Info("Hand-off notice consumer started")
	}

	// Periodic backlog sweep catches events whose notices were lost and
	// anything logged while the worker was down.
	sweepInterval := time.Duration(cfg.Worker.SweepIntervalSeconds) * time.Second
	go func() {
		processor.ProcessBacklog(ctx)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processor.ProcessBacklog(ctx)
			}
		}
	}()

	logger.Info("Worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Worker shutting down")
	cancel()
}
