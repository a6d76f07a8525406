package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-pipeline/internal/docstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/invoice"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
)

func exportFixture(t *testing.T) (*Service, *jobstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := jobstore.NewStore(docstore.NewMemoryStore(), 15*time.Minute, logger)
	return NewService(jobs, logger), jobs
}

func seedDoneJob(t *testing.T, jobs *jobstore.Store, id, sessionID, filename string, inv invoice.Invoice, confidence float64) {
	t.Helper()
	ctx := context.Background()
	job := jobstore.New(id, sessionID, filename, "uploads/"+sessionID+"/"+id+".pdf", 100, 1, time.Now().UTC())
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.AcquireLock(ctx, id, "w"); err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		t.Fatal(err)
	}
	if err := jobs.SetResult(ctx, id, payload, confidence); err != nil {
		t.Fatal(err)
	}
}

func sampleInvoice(num string, items int) invoice.Invoice {
	inv := invoice.Invoice{
		InvoiceNumber: num,
		InvoiceDate:   "2026-01-15",
		VendorName:    "Acme BV",
		Currency:      "EUR",
		Subtotal:      80,
		Tax:           20,
		Total:         100,
	}
	for i := 0; i < items; i++ {
		inv.LineItems = append(inv.LineItems, invoice.LineItem{
			Description: "Item", Quantity: 1, UnitPrice: 80, LineTotal: 80,
		})
	}
	return inv
}

func TestSessionCSV(t *testing.T) {
	svc, jobs := exportFixture(t)
	ctx := context.Background()
	seedDoneJob(t, jobs, "job-1", "sess-1", "a.pdf", sampleInvoice("INV-1", 2), 0.9)
	seedDoneJob(t, jobs, "job-2", "sess-1", "b.pdf", sampleInvoice("INV-2", 1), 0.8)
	seedDoneJob(t, jobs, "job-3", "sess-2", "c.pdf", sampleInvoice("INV-3", 1), 0.7)

	out, err := svc.SessionCSV(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// Header plus one row per line item, session-scoped.
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}
	if len(records[0]) != len(invoice.CSVHeader) {
		t.Fatalf("header width = %d", len(records[0]))
	}
	if records[1][0] != "INV-1" || records[1][14] != "a.pdf" {
		t.Fatalf("row = %v", records[1])
	}
	if records[3][0] != "INV-2" || records[3][13] != "0.8" {
		t.Fatalf("row = %v", records[3])
	}
}

func TestSessionCSVSkipsUnfinishedJobs(t *testing.T) {
	svc, jobs := exportFixture(t)
	ctx := context.Background()
	job := jobstore.New("job-1", "sess-1", "pending.pdf", "uploads/sess-1/job-1.pdf", 100, 1, time.Now().UTC())
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	out, err := svc.SessionCSV(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want header only", len(records))
	}
}

func TestSessionXLSX(t *testing.T) {
	svc, jobs := exportFixture(t)
	ctx := context.Background()
	seedDoneJob(t, jobs, "job-1", "sess-1", "a.pdf", sampleInvoice("INV-1", 1), 0.9)

	out, err := svc.SessionXLSX(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	defer wb.Close()

	if sheets := wb.GetSheetList(); len(sheets) != 1 || sheets[0] != "Invoices" {
		t.Fatalf("sheets = %v, want only Invoices", sheets)
	}

	rows, err := wb.GetRows("Invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "invoiceNumber" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "INV-1" {
		t.Fatalf("row = %v", rows[1])
	}
}
