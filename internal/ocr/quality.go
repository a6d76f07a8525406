package ocr

import (
	"strings"
	"unicode"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// QualityGate decides whether an embedded text layer is trustworthy
// enough to skip OCR. Extracted text layers from scanned or
// generator-mangled PDFs tend to be short, keyword-free, or dominated by
// symbol soup and broken table rows; each check targets one of those
// failure shapes. All thresholds come from configuration.
type QualityGate struct {
	minLength          int
	maxSymbolRatio     float64
	maxTableNoiseRatio float64
	keywords           []string
}

func NewQualityGate(cfg common.OCRConfig) *QualityGate {
	keywords := make([]string, len(cfg.Keywords))
	for i, k := range cfg.Keywords {
		keywords[i] = strings.ToLower(k)
	}
	return &QualityGate{
		minLength:          cfg.MinTextLength,
		maxSymbolRatio:     cfg.MaxSymbolRatio,
		maxTableNoiseRatio: cfg.MaxTableNoiseRatio,
		keywords:           keywords,
	}
}

// Accept reports whether text passes every quality check.
func (g *QualityGate) Accept(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < g.minLength {
		return false
	}
	if !g.hasDomainSignal(trimmed) {
		return false
	}
	if g.symbolRatio(trimmed) > g.maxSymbolRatio {
		return false
	}
	if g.tableNoiseRatio(trimmed) > g.maxTableNoiseRatio {
		return false
	}
	return true
}

// hasDomainSignal requires at least one invoice keyword or a currency symbol.
func (g *QualityGate) hasDomainSignal(text string) bool {
	if strings.ContainsAny(text, "€$£") {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range g.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// symbolRatio is non-alphanumeric (excluding whitespace) over alphabetic.
func (g *QualityGate) symbolRatio(text string) float64 {
	var symbols, letters int
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r) || unicode.IsSpace(r):
		default:
			symbols++
		}
	}
	if letters == 0 {
		return 1
	}
	return float64(symbols) / float64(letters)
}

// tableNoiseRatio is the fraction of lines that look like malformed
// tabular leakage: short fragment runs with almost no alphabetic content.
func (g *QualityGate) tableNoiseRatio(text string) float64 {
	lines := strings.Split(text, "\n")
	var total, noisy int
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		total++
		if isTableNoise(ln) {
			noisy++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(noisy) / float64(total)
}

func isTableNoise(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return false
	}
	var letters, other int
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
		} else if !unicode.IsSpace(r) {
			other++
		}
	}
	// many columns, nearly nothing readable
	return other > 3*letters
}
