package assistant

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var errBadAmount = errors.New("unparsable amount")

// Ordered: first match wins, so parsing is deterministic
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*ton\b`),
	regexp.MustCompile(`(?i)top\s*-?\s*up\s+(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)add\s+(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)deposit\s+(\d+(?:\.\d+)?)`),
}

// ParseTONAmount extracts a TON amount from free text and returns it in
// nanoTON. A message with no amount at all returns (0, nil): that is an
// open-ended top-up, matched later by comment code instead of exact amount.
// Amounts are parsed as decimal strings, never through floating point.
func ParseTONAmount(text string) (int64, error) {
	for _, p := range amountPatterns {
		m := p.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		return decimalToNano(m[1])
	}
	return 0, nil
}

// decimalToNano converts "1.5" to 1500000000 using integer arithmetic only
func decimalToNano(s string) (int64, error) {
	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, errBadAmount
	}
	if whole > (1<<62)/1_000_000_000 {
		return 0, errBadAmount
	}

	var frac int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > 9 {
			return 0, errBadAmount
		}
		fracStr += strings.Repeat("0", 9-len(fracStr))
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, errBadAmount
		}
	}

	return whole*1_000_000_000 + frac, nil
}

// FormatTON renders nanoTON as a decimal TON string for display. This is the
// presentation boundary: everything upstream stays in integer nano.
func FormatTON(nano int64) string {
	sign := ""
	if nano < 0 {
		sign = "-"
		nano = -nano
	}

	whole := nano / 1_000_000_000
	frac := nano % 1_000_000_000
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}
