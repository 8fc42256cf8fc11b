package codec

// convert.go holds the cell-level coercion rules shared by decode and by
// CoerceRecord:
//   - numbers must match numericRegex in full; "7 bags", "0x1F", "Inf" stay text
//   - currency cells additionally tolerate peso/dollar signs, thousands
//     separators and accounting parentheses
//   - booleans accept true/false, yes/no, t/f, y/n, 1/0

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/palaystore/internal/schema"
)

// numericRegex matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// parseNumber converts s to a finite float64 if it is a clean number.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// parseCurrency is parseNumber after stripping currency decoration.
func parseCurrency(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "₱", "") // Peso
	s = strings.ReplaceAll(s, "PHP", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	f, ok := parseNumber(s)
	if !ok {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// parseBool accepts the usual spreadsheet spellings of a boolean.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// formatNumber renders a float in the fixed textual form used on disk.
// Currency columns always carry two decimals; everything else uses the
// shortest representation that parses back to the same value.
func formatNumber(f float64, t schema.ColumnType) string {
	if t == schema.TypeCurrency {
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
