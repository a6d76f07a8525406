package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/invoice"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
)

// Service produces CSV and XLSX exports of a session's completed jobs,
// one row per invoice line item.
type Service struct {
	jobs   *jobstore.Store
	logger *slog.Logger
}

func NewService(jobs *jobstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// sessionRows collects export rows from the session's done jobs,
// skipping any result that no longer decodes.
func (s *Service) sessionRows(ctx context.Context, sessionID string) ([][]string, error) {
	jobs, err := s.jobs.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session jobs: %w", err)
	}
	var rows [][]string
	for _, job := range jobs {
		if job.Status != constants.JobStatusDone || len(job.Result) == 0 {
			continue
		}
		var inv invoice.Invoice
		if err := json.Unmarshal(job.Result, &inv); err != nil {
			s.logger.Warn("export.skip_undecodable_result", "job_id", job.ID, "error", err)
			continue
		}
		rows = append(rows, inv.CSVRows(job.Filename, job.Confidence)...)
	}
	return rows, nil
}

// SessionCSV returns the session export as UTF-8 CSV bytes.
func (s *Service) SessionCSV(ctx context.Context, sessionID string) ([]byte, error) {
	rows, err := s.sessionRows(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(invoice.CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SessionXLSX returns the session export as an XLSX workbook.
func (s *Service) SessionXLSX(ctx context.Context, sessionID string) ([]byte, error) {
	start := time.Now()
	rows, err := s.sessionRows(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Invoices"
	// Rename the default sheet instead of adding a second, empty one.
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	for i, h := range invoice.CSVHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	s.logger.Info("export.xlsx_done", "session_id", sessionID, "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
