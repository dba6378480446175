package report

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var siToShort = map[string]string{
	"k": "k",
	"M": "M",
	"G": "B",
	"T": "T",
	"P": "P",
}

// Millify shortens large amounts for display: 1234.5 -> "1.23k",
// 4500000 -> "4.5M". Trailing zeros are dropped.
func Millify(d decimal.Decimal, precision int) string {
	v, _ := d.Float64()
	abs := v
	if abs < 0 {
		abs = -abs
	}
	if abs < 1000 {
		return humanize.FtoaWithDigits(v, precision)
	}
	scaled, prefix := humanize.ComputeSI(v)
	unit, ok := siToShort[prefix]
	if !ok {
		return humanize.FtoaWithDigits(v, precision)
	}
	return strings.TrimSpace(humanize.FtoaWithDigits(scaled, precision)) + unit
}
