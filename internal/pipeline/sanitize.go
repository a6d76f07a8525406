package pipeline

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

var (
	innerSpace = regexp.MustCompile(`[ \t\f\v]+`)

	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bPage \d+ of \d+\b`),
		regexp.MustCompile(`(?i)Invoice scanned by.*`),
		regexp.MustCompile(`(?i)\bConfidential\b`),
	}
)

// Sanitize prepares OCR output for the extraction providers while
// preserving line breaks. It drops configured boilerplate zones,
// normalizes each line, strips known noise patterns, and truncates to
// the character budget at a line boundary.
func Sanitize(text string, cfg common.SanitizeConfig) string {
	lines := strings.Split(text, "\n")

	stripTop := max(0, cfg.StripTop)
	stripBottom := max(0, cfg.StripBottom)
	// Skip zoning on very short documents.
	if len(lines) > stripTop+stripBottom+5 {
		end := len(lines)
		if stripBottom > 0 {
			end -= stripBottom
		}
		lines = lines[stripTop:end]
	}

	normLines := make([]string, 0, len(lines))
	for _, ln := range lines {
		ln = norm.NFKC.String(ln)
		ln = strings.TrimSpace(innerSpace.ReplaceAllString(ln, " "))
		if ln != "" {
			normLines = append(normLines, ln)
		}
	}
	out := strings.Join(normLines, "\n")

	for _, pat := range noisePatterns {
		out = pat.ReplaceAllString(out, "")
	}
	// Removals can leave empty or padded lines behind.
	kept := make([]string, 0, len(normLines))
	for _, ln := range strings.Split(out, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			kept = append(kept, ln)
		}
	}
	out = strings.Join(kept, "\n")

	maxChars := max(1000, cfg.MaxChars)
	if len(out) > maxChars {
		if cut := strings.LastIndex(out[:maxChars], "\n"); cut != -1 {
			out = out[:cut]
		} else {
			out = out[:maxChars]
		}
	}
	return out
}
