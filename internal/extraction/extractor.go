// Package extraction pulls invoice fields out of raw OCR text with ordered
// regular expression patterns. It never fails: a field that cannot be found is
// left absent.
package extraction

import (
	"regexp"
	"strings"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// OrgRecognizer finds organization names in text, in order of appearance
type OrgRecognizer interface {
	Organizations(text string) []string
}

// Extractor extracts invoice fields from OCR text
type Extractor struct {
	orgs OrgRecognizer
}

// Option configures an Extractor
type Option func(*Extractor)

// WithOrgRecognizer makes supplier detection prefer recognized organizations.
func WithOrgRecognizer(r OrgRecognizer) Option {
	return func(e *Extractor) {
		e.orgs = r
	}
}

// New creates an Extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	invoiceNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)(?:factura|invoice|fact\.?)\s*(?:n[oº°]?\.?|#|num\.?)?[\s:]*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?im)(?:n[oº°]\.?\s*factura|fact\.?\s*n[oº°]\.?)[\s:]*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?im)(?:^|\s)([A-Z]{2,4}\-?\d{6,})`),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:fecha|date|f\.|emisión)[\s:]*(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
		regexp.MustCompile(`(?i)(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
		regexp.MustCompile(`(?i)(\d{1,2}\s+(?:de\s+)?(?:enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\s+(?:de\s+)?\d{4})`),
	}

	nitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:nit|ruc|rfc|cuit|tax\s*id)[\s:]*([0-9.\-]{7,15})`),
		regexp.MustCompile(`(?i)(?:identificación|id\.?)[\s:]*([0-9.\-]{7,15})`),
	}

	subtotalLabels = []string{`subtotal`, `sub-total`, `base\s+imponible`}
	taxLabels      = []string{`iva`, `tax`, `impuesto`, `vat`}
	totalLabels    = []string{`total`, `total\s+a\s+pagar`, `importe\s+total`, `monto\s+total`}

	subtotalPatterns = amountPatterns(subtotalLabels)
	taxPatterns      = amountPatterns(taxLabels)
	totalPatterns    = amountPatterns(totalLabels)

	legalEntityMarkers = []string{"S.A.", "LTDA", "S.A.S", "S.R.L", "CIA", "COMPANY"}

	lineBreak = regexp.MustCompile(`\r\n|[\n\r\v\f\x1c\x1d\x1e\x{85}\x{2028}\x{2029}]`)
)

const (
	orgScanChars      = 500
	legalScanLines    = 15
	fallbackScanLines = 10
)

// amountPatterns builds one pattern per label. A label must start at a word
// boundary and be followed by digits with optional thousands separators and
// exactly two decimals.
func amountPatterns(labels []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(labels))
	for _, label := range labels {
		patterns = append(patterns, regexp.MustCompile(
			`(?i)\b(?:`+label+`)[\s:$]*(\d+(?:[.,]\d{3})*[.,]\d{2})(?:\D|$)`,
		))
	}
	return patterns
}

// Extract returns the baseline record for text. RawText is always text.
func (e *Extractor) Extract(text string) invoice.Record {
	return invoice.Record{
		InvoiceNumber: e.InvoiceNumber(text),
		Date:          e.Date(text),
		Supplier:      e.Supplier(text),
		NIT:           e.NIT(text),
		Subtotal:      amount(text, subtotalPatterns),
		Tax:           amount(text, taxPatterns),
		Total:         amount(text, totalPatterns),
		RawText:       text,
	}
}

// InvoiceNumber finds the invoice identifier
func (e *Extractor) InvoiceNumber(text string) *string {
	return firstMatch(text, invoiceNumberPatterns)
}

// Date finds the issue date, normalized when it is a numeric date.
func (e *Extractor) Date(text string) *string {
	d := firstMatch(text, datePatterns)
	if d == nil {
		return nil
	}
	return invoice.String(NormalizeDate(*d))
}

// NIT finds the fiscal identifier
func (e *Extractor) NIT(text string) *string {
	return firstMatch(text, nitPatterns)
}

// Supplier finds the issuing entity: a recognized organization near the top,
// then a line carrying a legal entity marker, then the first meaningful line.
func (e *Extractor) Supplier(text string) *string {
	if e.orgs != nil {
		prefix := text
		if r := []rune(text); len(r) > orgScanChars {
			prefix = string(r[:orgScanChars])
		}
		if orgs := e.orgs.Organizations(prefix); len(orgs) > 0 {
			return invoice.String(orgs[0])
		}
	}

	lines := splitLines(text)
	for _, line := range head(lines, legalScanLines) {
		upper := strings.ToUpper(line)
		for _, marker := range legalEntityMarkers {
			if strings.Contains(upper, marker) {
				return invoice.String(strings.TrimSpace(line))
			}
		}
	}

	for _, line := range head(lines, fallbackScanLines) {
		if trimmed := strings.TrimSpace(line); len([]rune(trimmed)) > 3 {
			return invoice.String(trimmed)
		}
	}
	return nil
}

func amount(text string, patterns []*regexp.Regexp) *invoice.Amount {
	for _, p := range patterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, ok := NormalizeAmount(m[1]); ok {
			return invoice.NewAmount(v)
		}
	}
	return nil
}

func firstMatch(text string, patterns []*regexp.Regexp) *string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return invoice.String(strings.TrimSpace(m[1]))
		}
	}
	return nil
}

// splitLines splits on \n, \r\n, \r and the other line boundaries OCR output
// can carry, such as the form feed tesseract writes after each page. A trailing
// line break does not produce an empty last line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := lineBreak.Split(text, -1)
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}
