package export

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// FormatValue renders a metric value for human-facing documents. Magnitudes
// of a million or more collapse to "N.NM", a thousand or more to "N.NK",
// everything else keeps two decimal places.
func FormatValue(v decimal.Decimal) string {
	abs := v.Abs()
	switch {
	case abs.GreaterThanOrEqual(million):
		return v.Div(million).StringFixed(1) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return v.Div(thousand).StringFixed(1) + "K"
	default:
		return v.StringFixed(2)
	}
}

// TitleCase turns a snake_case identifier into a display label.
func TitleCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
