package invoice

import "strconv"

// CSVHeader is the column order for session exports, one row per line item.
var CSVHeader = []string{
	"invoiceNumber", "invoiceDate", "vendorName", "currency",
	"subtotal", "tax", "total", "dueDate",
	"lineItemIndex", "description", "quantity", "unitPrice", "lineTotal",
	"confidenceScore", "filename",
}

// CSVRows flattens an invoice into one export row per line item.
func (inv *Invoice) CSVRows(filename string, confidence *float64) [][]string {
	due := ""
	if inv.DueDate != nil {
		due = *inv.DueDate
	}
	conf := ""
	if confidence != nil {
		conf = formatAmount(*confidence)
	}
	rows := make([][]string, 0, len(inv.LineItems))
	for i, li := range inv.LineItems {
		rows = append(rows, []string{
			inv.InvoiceNumber,
			inv.InvoiceDate,
			inv.VendorName,
			inv.Currency,
			formatAmount(inv.Subtotal),
			formatAmount(inv.Tax),
			formatAmount(inv.Total),
			due,
			strconv.Itoa(i + 1),
			li.Description,
			formatAmount(li.Quantity),
			formatAmount(li.UnitPrice),
			formatAmount(li.LineTotal),
			conf,
			filename,
		})
	}
	return rows
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
