// Package money converts between scraped currency strings and the
// currency-minor-unit integers used everywhere else in the application.
package money

import (
	"fmt"
	"regexp"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var moneyRe = regexp.MustCompile(`[-+]?\$?\s*[\d,]+(?:\.\d{1,2})?`)

// ParseCents parses servicer-formatted money like "$3,040.16", "3040.16",
// "-$12.34" or "(12.34)" into cents. Parentheses mean negative.
func ParseCents(value string) (int64, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, fmt.Errorf("parse money: empty string")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.TrimSpace(s[1:len(s)-1])
	}

	dec, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", value, err)
	}

	return dec.Round(2).Mul(decimal.NewFromInt(100)).IntPart(), nil
}

// FindFirst returns the first money-looking token in text, or "".
func FindFirst(text string) string {
	return moneyRe.FindString(text)
}

// FormatCents renders cents as a display string, e.g. 304016 -> "$3,040.16".
func FormatCents(cents int64) string {
	return gomoney.New(cents, gomoney.USD).Display()
}
