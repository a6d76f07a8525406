package invoice

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LineItem is a single invoice line. All amounts are non-negative after
// coercion.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

// Invoice is the structured extraction result. Dates are ISO yyyy-mm-dd
// strings.
type Invoice struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	InvoiceDate   string     `json:"invoiceDate"`
	VendorName    string     `json:"vendorName"`
	Currency      string     `json:"currency"`
	Subtotal      float64    `json:"subtotal"`
	Tax           float64    `json:"tax"`
	Total         float64    `json:"total"`
	DueDate       *string    `json:"dueDate,omitempty"`
	LineItems     []LineItem `json:"lineItems"`
	Notes         string     `json:"notes,omitempty"`
}

// dateFormats is tried in order: EU day-first variants before ISO.
var dateFormats = []string{"02-01-2006", "2006-01-02", "02/01/2006", "02.01.2006"}

// ParseDate normalizes a date string to ISO yyyy-mm-dd, trying the known
// formats in order.
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date format: %q", s)
}

// ParseAmount parses a monetary amount tolerant of locale variants. The
// rightmost of comma and dot is the decimal separator; every other
// separator occurrence is treated as a thousands separator and removed.
// Parenthesized values are negative. Trailing garbage is an error, not
// silently dropped.
func ParseAmount(s string) (float64, error) {
	orig := s
	s = strings.TrimSpace(s)

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimSpace(strings.TrimLeft(s, "€$£"))
	if s == "" {
		return 0, fmt.Errorf("empty amount: %q", orig)
	}

	// Rightmost separator wins as the decimal point.
	sepIdx := strings.LastIndexAny(s, ",.")
	var b strings.Builder
	for i, r := range s {
		switch {
		case i == sepIdx:
			b.WriteByte('.')
		case r == ',' || r == '.':
			// thousands separator
		default:
			b.WriteRune(r)
		}
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable amount: %q", orig)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// toAmount coerces a decoded JSON value (number or string) to a float.
func toAmount(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	case string:
		return ParseAmount(x)
	case nil:
		return 0, fmt.Errorf("missing numeric value")
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Coerce normalizes a provider's raw JSON payload into an Invoice:
// dates are parsed against the known formats, amounts against locale
// variants, and line items are repaired or dropped per field rules. It
// does not schema-validate; callers run Validate on the result.
func Coerce(raw json.RawMessage) (*Invoice, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	inv := &Invoice{
		InvoiceNumber: toString(data["invoiceNumber"]),
		VendorName:    toString(data["vendorName"]),
		Notes:         toString(data["notes"]),
	}

	inv.Currency = strings.ToUpper(toString(data["currency"]))
	if inv.Currency == "" {
		inv.Currency = "EUR"
	}

	if s := toString(data["invoiceDate"]); s != "" {
		d, err := ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("invoiceDate: %w", err)
		}
		inv.InvoiceDate = d
	}
	// An unparsable due date is dropped, not fatal.
	if s := toString(data["dueDate"]); s != "" {
		if d, err := ParseDate(s); err == nil {
			inv.DueDate = &d
		}
	}

	var err error
	if inv.Subtotal, err = toAmount(data["subtotal"]); err != nil {
		return nil, fmt.Errorf("subtotal: %w", err)
	}
	if inv.Tax, err = toAmount(data["tax"]); err != nil {
		return nil, fmt.Errorf("tax: %w", err)
	}
	if inv.Total, err = toAmount(data["total"]); err != nil {
		return nil, fmt.Errorf("total: %w", err)
	}

	items, _ := data["lineItems"].([]any)
	inv.LineItems = coerceLineItems(items)
	return inv, nil
}

// coerceLineItems keeps only usable lines: a non-empty description,
// parsable numbers, and no negative amounts. A missing line total is
// inferred from quantity and unit price.
func coerceLineItems(items []any) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		li := LineItem{Description: toString(m["description"])}
		if li.Description == "" {
			continue
		}
		var err error
		if li.Quantity, err = toAmount(m["quantity"]); err != nil {
			continue
		}
		if li.UnitPrice, err = toAmount(m["unitPrice"]); err != nil {
			continue
		}
		if v, ok := m["lineTotal"]; ok && v != nil {
			if li.LineTotal, err = toAmount(v); err != nil {
				continue
			}
		}
		if li.LineTotal == 0 {
			li.LineTotal = li.Quantity * li.UnitPrice
		}
		if li.Quantity < 0 || li.UnitPrice < 0 || li.LineTotal < 0 {
			continue
		}
		out = append(out, li)
	}
	return out
}
