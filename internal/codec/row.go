package codec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

const mapHeader = "key,value"

// idNamespace seeds the name-based UUIDs given to rows that carry no id.
var idNamespace = uuid.MustParse("6f1c3a52-9a0e-4c1e-8d55-2b7f0c3e4a91")

// DecodeList turns a list section body into records. The result is never nil.
//
// The first non-blank row is a header when at least one of its cells names
// a schema column (canonical, legacy, or a casing variant); otherwise the
// section has no header and rows are read in schema column order. Cells
// under header names the schema does not know are dropped.
func (c *Codec) DecodeList(sec *schema.Section, body string) []core.Record {
	rows := logicalRows(body)
	if len(rows) == 0 {
		return []core.Record{}
	}

	keys, headerRow := c.headerKeys(sec, rows[0])
	if headerRow {
		rows = rows[1:]
	}

	jsonPos := -1
	if jc := sec.JSONColumn(); jc >= 0 {
		for i, key := range keys {
			if canonical, ok := sec.Resolve(key); ok && canonical == sec.Columns[jc].Name {
				jsonPos = i
			}
		}
	}

	records := make([]core.Record, 0, len(rows))
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		fields := splitRow(row, len(keys), jsonPos)
		if blankFields(fields) {
			continue
		}

		rec := make(core.Record, len(keys)+1)
		for j, key := range keys {
			if key == "" {
				continue
			}
			rec[key] = c.decodeCell(sec, key, fields[j], i+1)
		}

		id := strings.TrimSpace(rec.ID())
		if id == "" || seen[id] {
			if id != "" {
				c.log.Warn("duplicate id in data file, assigning a new one",
					"section", sec.Name, "row", i+1, "id", id)
			}
			id = deriveID(sec.Name, i, row, seen)
		}
		rec[core.IDField] = id
		seen[id] = true

		records = append(records, rec)
	}

	return records
}

// blankFields reports whether a row is only separators and whitespace,
// such as "," left behind by a spreadsheet.
func blankFields(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// DecodeMap turns a map section body into key/value pairs. Rows whose value
// is not numeric are skipped with a warning; a repeated key keeps the last
// value.
func (c *Codec) DecodeMap(sec *schema.Section, body string) map[string]float64 {
	values := make(map[string]float64)
	rows := logicalRows(body)

	for i, row := range rows {
		fields := splitRow(row, -1, -1)
		if len(fields) == 0 {
			continue
		}
		key := strings.TrimSpace(fields[0])
		if i == 0 && strings.EqualFold(key, "key") {
			continue
		}
		if key == "" {
			continue
		}

		raw := ""
		if len(fields) > 1 {
			// An unquoted "1,250.00" arrives split in two.
			raw = strings.Join(fields[1:], ",")
		}
		f, ok := parseCurrency(raw)
		if !ok {
			c.log.Warn("non-numeric map value skipped",
				"section", sec.Name, "key", key, "value", raw)
			continue
		}
		values[key] = f
	}

	return values
}

// EncodeList renders records as a CSV block: schema header first, then one
// row per record in schema column order. Fields the schema does not know
// are not written.
func (c *Codec) EncodeList(sec *schema.Section, records []core.Record) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(sec.Header()); err != nil {
		return "", err
	}

	row := make([]string, len(sec.Columns))
	for _, rec := range records {
		for i, col := range sec.Columns {
			cell, err := formatCell(col, rec[col.Name])
			if err != nil {
				return "", fmt.Errorf("%s %s field %s: %w", sec.Name, rec.ID(), col.Name, err)
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// EncodeMap renders key/value pairs sorted by key under a key,value header.
func (c *Codec) EncodeMap(values map[string]float64) (string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"key", "value"}); err != nil {
		return "", err
	}
	for _, k := range keys {
		if err := w.Write([]string{k, formatNumber(values[k], schema.TypeNumber)}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// headerKeys returns the record key for each position of a row and whether
// first was a header row. Header cells that are casing variants of a
// column become the canonical name; declared legacy names are kept so
// normalization can migrate them.
func (c *Codec) headerKeys(sec *schema.Section, first string) ([]string, bool) {
	cells := splitRow(first, -1, -1)

	keys := make([]string, len(cells))
	matched := false
	for i, cell := range cells {
		name := strings.TrimSpace(cell)
		canonical, ok := sec.Resolve(name)
		if !ok {
			continue
		}
		matched = true
		if _, legacy := sec.Legacy[name]; legacy {
			keys[i] = name
		} else {
			keys[i] = canonical
		}
	}

	if !matched {
		return sec.Header(), false
	}
	return keys, true
}

func (c *Codec) decodeCell(sec *schema.Section, key, raw string, row int) any {
	canonical, _ := sec.Resolve(key)
	col, _ := sec.Column(canonical)

	switch col.Type {
	case schema.TypeOpaque:
		return raw
	case schema.TypeJSON:
		ranges, ok := decodeMoisture(raw)
		if !ok {
			c.log.Warn("unreadable moisture ranges, using empty list",
				"section", sec.Name, "row", row, "value", truncate(raw, 120))
		}
		return ranges
	case schema.TypeBool:
		if b, ok := parseBool(raw); ok {
			return b
		}
		return raw
	case schema.TypeCurrency:
		if f, ok := parseCurrency(raw); ok {
			return f
		}
		if strings.TrimSpace(raw) != "" {
			c.log.Warn("currency value kept as text",
				"section", sec.Name, "row", row, "field", canonical, "value", raw)
		}
		return raw
	default:
		if f, ok := parseNumber(raw); ok {
			return f
		}
		return raw
	}
}

// formatCell renders one value for the CSV writer.
func formatCell(col schema.Column, v any) (string, error) {
	if col.Type == schema.TypeJSON {
		ranges, _ := moistureFromValue(v)
		return encodeMoisture(ranges)
	}

	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		return formatNumber(x, col.Type), nil
	case float32:
		return formatNumber(float64(x), col.Type), nil
	case int:
		return formatNumber(float64(x), col.Type), nil
	case int64:
		return formatNumber(float64(x), col.Type), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

// logicalRows splits a block into rows, joining physical lines while a
// quoted cell is open. Blank rows are dropped.
func logicalRows(body string) []string {
	var (
		rows []string
		cur  strings.Builder
		open bool
	)

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if open {
			cur.WriteString("\n")
		} else {
			cur.Reset()
		}
		cur.WriteString(line)

		if strings.Count(line, `"`)%2 == 1 {
			open = !open
		}
		if !open && strings.TrimSpace(cur.String()) != "" {
			rows = append(rows, cur.String())
		}
	}
	if open && strings.TrimSpace(cur.String()) != "" {
		rows = append(rows, cur.String())
	}

	return rows
}

// splitRow reads one logical row into exactly want fields. A row the CSV
// reader rejects, or that has the wrong width, is split again by a plain
// quote-aware scan. Extra fields are folded back into the JSON column when
// jsonPos names one (an unquoted array holds commas), otherwise dropped.
// Missing trailing fields are empty. want < 0 returns the fields as read.
func splitRow(row string, want, jsonPos int) []string {
	fields, err := readCSVRow(row)
	if err == nil && (want < 0 || len(fields) == want) {
		return fields
	}

	fields = manualSplit(row)
	if want < 0 {
		return fields
	}

	if extra := len(fields) - want; extra > 0 {
		if jsonPos >= 0 && jsonPos < want {
			merged := strings.Join(fields[jsonPos:jsonPos+extra+1], ",")
			folded := append([]string{}, fields[:jsonPos]...)
			folded = append(folded, merged)
			fields = append(folded, fields[jsonPos+extra+1:]...)
		} else {
			fields = fields[:want]
		}
	}
	for len(fields) < want {
		fields = append(fields, "")
	}
	return fields
}

func readCSVRow(row string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(row))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err == io.EOF {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Read(); err != io.EOF {
		return nil, fmt.Errorf("row spans more than one record")
	}
	return fields, nil
}

// manualSplit splits on commas outside double quotes and removes one layer
// of quoting from each field.
func manualSplit(row string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range row {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ',' && !quoted:
			fields = append(fields, unquote(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, unquote(cur.String()))
}

func unquote(field string) string {
	s := strings.TrimSpace(field)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return field
}

// deriveID returns a name-based UUID for a row without a usable id, so the
// same file yields the same ids on every load.
func deriveID(section string, ordinal int, row string, taken map[string]bool) string {
	name := fmt.Sprintf("%s\x00%d\x00%s", section, ordinal, row)
	id := uuid.NewSHA1(idNamespace, []byte(name)).String()
	for n := 1; taken[id]; n++ {
		id = uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s\x00%d", name, n))).String()
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
