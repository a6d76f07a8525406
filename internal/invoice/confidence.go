package invoice

import "math"

// charsPerPage is the density baseline for the OCR quality term.
const charsPerPage = 800

// Confidence scores an extraction in [0,1] from four weighted terms:
// OCR character density, schema validity, cross-field consistency, and
// field coverage. It is a pure function of its inputs.
func Confidence(ocrText string, pages int, inv *Invoice) float64 {
	if pages < 1 {
		pages = 1
	}
	ocrQuality := math.Min(1.0, float64(len(ocrText))/float64(pages*charsPerPage))

	// The invoice passed schema validation to get here.
	validity := 1.0

	var sumLines float64
	for _, li := range inv.LineItems {
		sumLines += li.LineTotal
	}
	consistency := (closeness(inv.Subtotal+inv.Tax, inv.Total) + closeness(inv.Subtotal, sumLines)) / 2.0

	present := 0
	if inv.InvoiceNumber != "" {
		present++
	}
	if inv.InvoiceDate != "" {
		present++
	}
	if inv.VendorName != "" {
		present++
	}
	if inv.Currency != "" {
		present++
	}
	present += 3 // subtotal, tax, total are always set after coercion
	if len(inv.LineItems) > 0 {
		present++
	}
	coverage := float64(present) / 8.0

	score := 0.4*ocrQuality + 0.3*validity + 0.2*consistency + 0.1*coverage
	return math.Round(score*1000) / 1000
}

// closeness measures how near actual is to expected, linearly down to 0
// at 100% relative error. An expected value of zero scores zero.
func closeness(expected, actual float64) float64 {
	if expected <= 0 {
		return 0
	}
	return math.Max(0, 1.0-math.Min(math.Abs(actual-expected)/expected, 1.0))
}
