package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/JonMunkholm/palaystore/internal/core"
)

// decodeMoisture turns the text of a moistureRanges cell into ranges.
//
// Files written by older deployments wrapped the JSON in a varying number
// of quote layers, sometimes with backslash escapes and sometimes with CSV
// doubled quotes. Candidates are tried from least to most rewritten and the
// first that parses wins. The bool result is false when nothing parsed; the
// slice is empty (never nil) in that case.
func decodeMoisture(cell string) ([]core.MoistureRange, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return []core.MoistureRange{}, true
	}

	for _, candidate := range moistureCandidates(s) {
		if ranges, ok := parseRanges(candidate); ok {
			return ranges, true
		}
	}
	return []core.MoistureRange{}, false
}

// moistureCandidates lists rewritings of s in the order they are tried.
func moistureCandidates(s string) []string {
	out := []string{s}
	seen := map[string]bool{s: true}
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	// A JSON string literal holding the array.
	var inner string
	if json.Unmarshal([]byte(s), &inner) == nil {
		add(inner)
	}

	stripped := stripQuoteLayers(s)
	add(stripped)
	add(strings.ReplaceAll(stripped, `\"`, `"`))
	add(strings.ReplaceAll(stripped, `""`, `"`))
	add(strings.ReplaceAll(strings.ReplaceAll(stripped, `""`, `"`), `\"`, `"`))
	add(stripQuoteLayers(strings.ReplaceAll(s, `""`, `"`)))
	return out
}

// stripQuoteLayers removes matching outer double quotes repeatedly.
func stripQuoteLayers(s string) string {
	for len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func parseRanges(s string) ([]core.MoistureRange, bool) {
	if !strings.HasPrefix(s, "[") {
		return nil, false
	}
	var ranges []core.MoistureRange
	if err := json.Unmarshal([]byte(s), &ranges); err != nil {
		return nil, false
	}
	if ranges == nil {
		ranges = []core.MoistureRange{}
	}
	return ranges, true
}

// encodeMoisture renders ranges as compact JSON. The CSV writer adds the
// single quoting layer the cell needs.
func encodeMoisture(ranges []core.MoistureRange) (string, error) {
	if ranges == nil {
		ranges = []core.MoistureRange{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ranges); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// moistureFromValue converts whatever a record holds in its moisture field
// into ranges. JSON payloads arrive as []any; records decoded from disk
// already hold []core.MoistureRange.
func moistureFromValue(v any) ([]core.MoistureRange, bool) {
	switch x := v.(type) {
	case nil:
		return []core.MoistureRange{}, true
	case []core.MoistureRange:
		return x, true
	case string:
		return decodeMoisture(x)
	case []any:
		data, err := json.Marshal(x)
		if err != nil {
			return []core.MoistureRange{}, false
		}
		return parseRanges(string(data))
	}
	return []core.MoistureRange{}, false
}
