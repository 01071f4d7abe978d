package textutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCounts reads a "name=count,name=count" list, as typed on the command
// line, into a map.  Whitespace around names and counts is ignored, and an
// empty string is an empty map.
func ParseCounts(s string) (map[string]int, error) {
	out := map[string]int{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		name, num, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want name=count", strings.TrimSpace(part))
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%q: missing name", strings.TrimSpace(part))
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return nil, fmt.Errorf("can't parse count for %s: %w", name, err)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%s listed twice", name)
		}
		out[name] = n
	}
	return out, nil
}

// FormatMoney renders an amount as dollars and cents with thousands
// separators: "$1,234.50", "-$0.40".
func FormatMoney(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole, frac, _ := strings.Cut(d.StringFixed(2), ".")
	return sign + "$" + groupThousands(whole) + "." + frac
}

// FormatSigned is FormatMoney with an explicit "+" on gains.
func FormatSigned(d decimal.Decimal) string {
	if d.IsPositive() && !d.Round(2).IsZero() {
		return "+" + FormatMoney(d)
	}
	return FormatMoney(d)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	sb := strings.Builder{}
	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

// FormatPlace converts a numeric place (1, 2, 3, ...) to a string ("1st", "2nd", "3rd", ...).
func FormatPlace(place int) string {
	suffix := "th"
	if place%100 < 11 || place%100 > 13 {
		switch place % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", place, suffix)
}

// SplitNames splits a comma-separated list of names, dropping blanks.
func SplitNames(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
