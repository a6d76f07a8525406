package ocr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// Result is the output of one text extraction.
type Result struct {
	Text   string
	Pages  int
	Method string
}

// Engine is the boundary to an actual OCR backend. The engine owns the
// recognition internals; tier selection happens here.
type Engine interface {
	// TextLayer pulls the embedded PDF text layer, when one exists.
	TextLayer(ctx context.Context, blobPath string, pages int) (string, error)
	// ExtractSync runs the low-latency synchronous tier.
	ExtractSync(ctx context.Context, blobPath string, pages int) (Result, error)
	// ExtractBatch runs the higher-throughput asynchronous/batch tier.
	ExtractBatch(ctx context.Context, blobPath string, pages int) (Result, error)
}

// Selector encodes the tier decision policy: embedded text layer first for
// a bounded page range (accepted only when it passes the quality gate),
// then the synchronous tier for small documents, then batch.
type Selector struct {
	cfg    common.OCRConfig
	engine Engine
	gate   *QualityGate
	logger *slog.Logger
}

func NewSelector(cfg common.OCRConfig, engine Engine, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{cfg: cfg, engine: engine, gate: NewQualityGate(cfg), logger: logger}
}

// Extract picks a tier for the document and runs it. The batch tier is
// bounded by the configured timeout ceiling.
func (s *Selector) Extract(ctx context.Context, blobPath string, pageCount int) (Result, error) {
	if s.cfg.TextLayerMaxPages > 0 && pageCount > 0 && pageCount <= s.cfg.TextLayerMaxPages {
		text, err := s.engine.TextLayer(ctx, blobPath, pageCount)
		switch {
		case err != nil:
			s.logger.Debug("ocr.text_layer.unavailable", "blob", blobPath, "error", err)
		case s.gate.Accept(text):
			s.logger.Debug("ocr.text_layer.accepted", "blob", blobPath, "pages", pageCount, "chars", len(text))
			return Result{Text: text, Pages: pageCount, Method: constants.OCRMethodTextLayer}, nil
		default:
			s.logger.Debug("ocr.text_layer.rejected", "blob", blobPath, "chars", len(text))
		}
	}

	if pageCount > 0 && pageCount <= s.cfg.SyncMaxPages {
		res, err := s.engine.ExtractSync(ctx, blobPath, pageCount)
		if err != nil {
			return Result{}, fmt.Errorf("ocr sync: %w", err)
		}
		return res, nil
	}

	batchCtx := ctx
	if s.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, s.cfg.BatchTimeout)
		defer cancel()
	}
	res, err := s.engine.ExtractBatch(batchCtx, blobPath, pageCount)
	if err != nil {
		return Result{}, fmt.Errorf("ocr batch: %w", err)
	}
	return res, nil
}
