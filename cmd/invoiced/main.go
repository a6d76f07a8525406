package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/docstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ratelimit"
	"github.com/joseph-ayodele/invoice-pipeline/internal/retention"
	"github.com/joseph-ayodele/invoice-pipeline/internal/server"
	"github.com/joseph-ayodele/invoice-pipeline/internal/service"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := openDocStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open document store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := docs.Close(); err != nil {
			logger.Warn("document store close error", "error", err)
		}
	}()

	blobs, err := blob.NewFSStore(cfg.Blob.RootDir)
	if err != nil {
		logger.Error("failed to open blob store", "root", cfg.Blob.RootDir, "error", err)
		os.Exit(1)
	}

	jobs := jobstore.NewStore(docs, cfg.Lock.StaleAfter, logger)
	limiter := ratelimit.NewLimiter(docs, cfg.RateLimit, logger)

	engine := ocr.NewHTTPEngine(cfg.OCR, blobs, logger)
	selector := ocr.NewSelector(cfg.OCR, engine, logger)

	var providers []extract.Provider
	if cfg.Provider.GeminiAPIKey != "" {
		providers = append(providers, extract.WithRetry(extract.NewGeminiProvider(cfg.Provider, logger), cfg.Provider, logger))
	}
	if cfg.Provider.OpenRouterAPIKey != "" {
		providers = append(providers, extract.WithRetry(extract.NewOpenRouterProvider(cfg.Provider, logger), cfg.Provider, logger))
	}
	chain := extract.NewChain(logger, providers...)

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	orch := pipeline.NewOrchestrator(jobs, blobs, selector, chain, cfg.Sanitize, workerID, logger)

	var q queue.Queue
	if cfg.Queue.Inline {
		q = queue.NewSyncQueue(orch, logger)
	} else {
		q = queue.NewWorkerQueue(orch, logger,
			queue.WithWorkers(cfg.Queue.Workers),
			queue.WithQueueSize(cfg.Queue.Size),
			queue.WithProcessTimeout(cfg.Queue.ProcessTimeout),
		)
	}

	exports := export.NewService(jobs, logger)
	svc := service.NewJobService(cfg.Limits, jobs, blobs, limiter, q, pdfPageCounter{}, exports, logger)

	if cfg.Retention.LoopEnabled {
		sweeper := retention.NewSweeper(cfg.Retention, jobs, blobs, logger)
		go sweeper.Run(ctx)
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := server.NewServer(svc, addr, logger)

	logger.Info("invoiced started",
		"addr", addr,
		"store_driver", cfg.Store.Driver,
		"queue_inline", cfg.Queue.Inline,
		"workers", cfg.Queue.Workers,
		"worker_id", workerID,
	)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	q.Shutdown(drainCtx)
	logger.Info("stopped")
}

func openDocStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return docstore.NewPostgresStore(ctx, cfg.Store.DSN, cfg.Store.DialTimeout, logger)
	default:
		return docstore.NewSQLiteStore(cfg.Store.DSN)
	}
}

// pdfPageCounter scans the raw PDF for page objects. It deliberately
// avoids full PDF parsing; uploads that defeat it are rejected upstream
// by the OCR service.
type pdfPageCounter struct{}

func (pdfPageCounter) CountPages(data []byte) (int, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return 0, fmt.Errorf("not a PDF document")
	}
	n := bytes.Count(data, []byte("/Type /Page")) - bytes.Count(data, []byte("/Type /Pages"))
	if n < 1 {
		n = bytes.Count(data, []byte("/Type/Page")) - bytes.Count(data, []byte("/Type/Pages"))
	}
	if n < 1 {
		return 0, fmt.Errorf("no pages found")
	}
	return n, nil
}
