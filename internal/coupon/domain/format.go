package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a money value in pt-BR notation (1.234,56), the
// format the storefront displays to customers.
func FormatAmount(value decimal.Decimal) string {
	fixed := value.StringFixed(2)

	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	parts := strings.SplitN(fixed, ".", 2)
	intPart, fracPart := parts[0], parts[1]

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(digit)
	}

	out := b.String() + "," + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
