package invoice

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestParseAmountLocaleVariants(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"(123.45)", -123.45},
		{"1234.56", 1234.56},
		{"1.234.567,89", 1234567.89},
		{"€ 99,95", 99.95},
		{"-42.50", -42.5},
		{"(1.234,00)", -1234},
		{"100", 100},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if err != nil {
			t.Errorf("ParseAmount(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	for _, in := range []string{"2 pcs", "", "abc", "12x", "1..2.3four"} {
		if got, err := ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q) = %v, want error", in, got)
		}
	}
}

func TestParseDateFormats(t *testing.T) {
	cases := map[string]string{
		"31-12-2025": "2025-12-31",
		"2025-12-31": "2025-12-31",
		"31/12/2025": "2025-12-31",
		"31.12.2025": "2025-12-31",
		" 05-01-2026 ": "2026-01-05",
	}
	for in, want := range cases {
		got, err := ParseDate(in)
		if err != nil {
			t.Errorf("ParseDate(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDate(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseDate("December 31, 2025"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func validPayload() map[string]any {
	return map[string]any{
		"invoiceNumber": "INV-001",
		"invoiceDate":   "31-12-2025",
		"vendorName":    "Acme BV",
		"currency":      "eur",
		"subtotal":      "80,00",
		"tax":           20.0,
		"total":         "100.00",
		"dueDate":       "2026-01-31",
		"lineItems": []any{
			map[string]any{"description": "Widgets", "quantity": 4, "unitPrice": 20.0},
		},
	}
}

func mustCoerce(t *testing.T, payload map[string]any) *Invoice {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	inv, err := Coerce(raw)
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestCoerceValidPayload(t *testing.T) {
	inv := mustCoerce(t, validPayload())

	if inv.InvoiceDate != "2025-12-31" {
		t.Errorf("invoiceDate = %s", inv.InvoiceDate)
	}
	if inv.Currency != "EUR" {
		t.Errorf("currency = %s, want EUR", inv.Currency)
	}
	if inv.Subtotal != 80 || inv.Tax != 20 || inv.Total != 100 {
		t.Errorf("amounts = %v/%v/%v", inv.Subtotal, inv.Tax, inv.Total)
	}
	if inv.DueDate == nil || *inv.DueDate != "2026-01-31" {
		t.Errorf("dueDate = %v", inv.DueDate)
	}
	if len(inv.LineItems) != 1 {
		t.Fatalf("lineItems = %v", inv.LineItems)
	}
	// Inferred line total: quantity x unit price.
	if inv.LineItems[0].LineTotal != 80 {
		t.Errorf("lineTotal = %v, want 80", inv.LineItems[0].LineTotal)
	}
	if err := Validate(inv); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCoerceUnparsableTopLevelAmountFails(t *testing.T) {
	p := validPayload()
	p["subtotal"] = "2 pcs"
	raw, _ := json.Marshal(p)
	if _, err := Coerce(raw); err == nil {
		t.Fatal("expected error for unparsable subtotal")
	}
}

func TestCoerceUnparsableDueDateDropped(t *testing.T) {
	p := validPayload()
	p["dueDate"] = "whenever"
	inv := mustCoerce(t, p)
	if inv.DueDate != nil {
		t.Fatalf("dueDate = %v, want nil", inv.DueDate)
	}
}

func TestCoerceLineItemRules(t *testing.T) {
	p := validPayload()
	p["lineItems"] = []any{
		map[string]any{"description": "Keep", "quantity": 2, "unitPrice": 5, "lineTotal": 10},
		map[string]any{"description": "", "quantity": 1, "unitPrice": 1},               // no description
		map[string]any{"description": "Bad qty", "quantity": "2 pcs", "unitPrice": 1},  // unparsable
		map[string]any{"description": "Negative", "quantity": 1, "unitPrice": -4},      // negative amount
		map[string]any{"description": "Inferred", "quantity": 3, "unitPrice": "2,50"},  // missing total
	}
	inv := mustCoerce(t, p)

	if len(inv.LineItems) != 2 {
		t.Fatalf("kept %d line items, want 2: %+v", len(inv.LineItems), inv.LineItems)
	}
	if inv.LineItems[0].Description != "Keep" || inv.LineItems[0].LineTotal != 10 {
		t.Errorf("first item = %+v", inv.LineItems[0])
	}
	if inv.LineItems[1].Description != "Inferred" || inv.LineItems[1].LineTotal != 7.5 {
		t.Errorf("second item = %+v", inv.LineItems[1])
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	p := validPayload()
	p["invoiceNumber"] = ""
	inv := mustCoerce(t, p)
	if err := Validate(inv); err == nil {
		t.Fatal("expected schema violation for empty invoiceNumber")
	}
}

func TestConfidencePerfectInvoice(t *testing.T) {
	inv := &Invoice{
		InvoiceNumber: "INV-1",
		InvoiceDate:   "2025-12-31",
		VendorName:    "Acme",
		Currency:      "EUR",
		Subtotal:      80,
		Tax:           20,
		Total:         100,
		LineItems: []LineItem{
			{Description: "A", Quantity: 2, UnitPrice: 20, LineTotal: 40},
			{Description: "B", Quantity: 1, UnitPrice: 40, LineTotal: 40},
		},
	}
	text := strings.Repeat("a", 800)
	if got := Confidence(text, 1, inv); got != 1.0 {
		t.Fatalf("Confidence = %v, want 1.0", got)
	}
}

func TestConfidenceDegradesWithInconsistency(t *testing.T) {
	inv := &Invoice{
		InvoiceNumber: "INV-2",
		InvoiceDate:   "2025-12-31",
		VendorName:    "Acme",
		Currency:      "EUR",
		Subtotal:      80,
		Tax:           20,
		Total:         120, // off by 20 from subtotal+tax
		LineItems:     []LineItem{{Description: "A", Quantity: 1, UnitPrice: 80, LineTotal: 80}},
	}
	text := strings.Repeat("a", 800)
	got := Confidence(text, 1, inv)
	// closeness(100,120)=0.8, closeness(80,80)=1 -> consistency 0.9
	if math.Abs(got-0.98) > 1e-9 {
		t.Fatalf("Confidence = %v, want 0.98", got)
	}
	if got < 0 || got > 1 {
		t.Fatalf("Confidence out of range: %v", got)
	}
}

func TestConfidenceZeroPagesClamped(t *testing.T) {
	inv := &Invoice{InvoiceNumber: "x", InvoiceDate: "2025-01-01", VendorName: "v", Currency: "EUR"}
	got := Confidence("", 0, inv)
	if got < 0 || got > 1 {
		t.Fatalf("Confidence out of range: %v", got)
	}
}

func TestCSVRowsOnePerLineItem(t *testing.T) {
	conf := 0.95
	inv := &Invoice{
		InvoiceNumber: "INV-3",
		InvoiceDate:   "2025-12-31",
		VendorName:    "Acme",
		Currency:      "EUR",
		Subtotal:      10,
		Tax:           2,
		Total:         12,
		LineItems: []LineItem{
			{Description: "A", Quantity: 1, UnitPrice: 4, LineTotal: 4},
			{Description: "B", Quantity: 2, UnitPrice: 3, LineTotal: 6},
		},
	}
	rows := inv.CSVRows("file.pdf", &conf)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if len(rows[0]) != len(CSVHeader) {
		t.Fatalf("row width = %d, header width = %d", len(rows[0]), len(CSVHeader))
	}
	if rows[1][8] != "2" {
		t.Errorf("lineItemIndex = %s, want 2", rows[1][8])
	}
	if rows[0][14] != "file.pdf" {
		t.Errorf("filename column = %s", rows[0][14])
	}
}
