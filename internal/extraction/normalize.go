package extraction

import (
	"regexp"
	"strings"
	"time"
)

// dateLayouts are tried in order; "2006" only accepts four-digit years and "06"
// pivots at 69 (69-99 -> 19xx, 00-68 -> 20xx).
var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2/1/06",
	"2-1-06",
}

// NormalizeDate reformats day-first numeric dates as YYYY-MM-DD. Anything that
// does not parse, including long-form Spanish dates, is returned unchanged.
func NormalizeDate(s string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

var amountToken = regexp.MustCompile(`^(\d+(?:[.,]\d{3})*)[.,](\d{2})$`)

// NormalizeAmount converts a matched monetary token to a plain decimal string
// using "." as the decimal separator and no thousands separators. The last
// separator is taken as the decimal point. ok is false unless the token ends
// in exactly two decimals.
func NormalizeAmount(token string) (string, bool) {
	m := amountToken.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return "", false
	}
	integer := strings.NewReplacer(",", "", ".", "").Replace(m[1])
	return integer + "." + m[2], true
}
