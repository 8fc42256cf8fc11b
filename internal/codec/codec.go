// Package codec reads and writes the multi-section data file.
//
// A file is a sequence of blocks, each a "[name]" header line followed by a
// CSV table. List sections start with a header row naming their columns;
// map sections use a fixed "key,value" header. Decoding is tolerant of the
// shapes older deployments produced (missing headers, legacy column names,
// over-quoted JSON cells, ragged rows). Encoding always produces the one
// canonical shape.
package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

// Codec converts between file text and datasets for one schema registry.
type Codec struct {
	reg *schema.Registry
	log *slog.Logger
}

// New returns a codec. A nil logger uses slog.Default().
func New(reg *schema.Registry, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{reg: reg, log: logger.With("component", "codec")}
}

// Registry returns the schema registry the codec was built with.
func (c *Codec) Registry() *schema.Registry {
	return c.reg
}

// Decode parses file text into a dataset. Sections absent from the file are
// absent from the result; normalization fills them in. Empty text decodes
// to an empty dataset. Non-empty text without a single section header is
// ErrCorruptFile.
func (c *Codec) Decode(text string) (*core.Dataset, error) {
	ds := core.NewDataset()

	blocks := c.ParseSections(text)
	if blocks.Len() == 0 {
		if strings.TrimSpace(strings.TrimPrefix(text, "\uFEFF")) == "" {
			return ds, nil
		}
		return nil, fmt.Errorf("%w: no section header found", core.ErrCorruptFile)
	}

	for _, name := range blocks.Names() {
		body, _ := blocks.Get(name)
		sec, ok := c.reg.Lookup(name)
		if !ok {
			ds.Unknown = append(ds.Unknown, core.RawSection{Name: name, Body: body})
			continue
		}
		decoded := c.DecodeSection(sec, body)
		if sec.IsList() {
			ds.Lists[sec.Name] = decoded.Records
		} else {
			ds.Maps[sec.Name] = decoded.Values
		}
	}

	return ds, nil
}

// Encode renders a dataset as file text in canonical section order,
// followed by any unknown sections carried over from the last load.
func (c *Codec) Encode(ds *core.Dataset) (string, error) {
	blocks := NewBlocks()

	for _, sec := range c.reg.Sections() {
		body, err := c.EncodeSection(sec, core.Section{
			Name:    sec.Name,
			Kind:    sec.Kind,
			Records: ds.Lists[sec.Name],
			Values:  ds.Maps[sec.Name],
		})
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", sec.Name, err)
		}
		blocks.Set(sec.Name, body)
	}

	for _, raw := range ds.Unknown {
		if _, known := c.reg.Lookup(raw.Name); known {
			continue
		}
		blocks.Set(raw.Name, raw.Body)
	}

	return c.SerializeSections(blocks), nil
}

// DecodeSection decodes one block according to the section kind.
func (c *Codec) DecodeSection(sec *schema.Section, body string) core.Section {
	if sec.IsList() {
		return core.Section{Name: sec.Name, Kind: core.KindList, Records: c.DecodeList(sec, body)}
	}
	return core.Section{Name: sec.Name, Kind: core.KindMap, Values: c.DecodeMap(sec, body)}
}

// EncodeSection encodes one section according to its kind.
func (c *Codec) EncodeSection(sec *schema.Section, value core.Section) (string, error) {
	if sec.IsList() {
		return c.EncodeList(sec, value.Records)
	}
	return c.EncodeMap(value.Values)
}

// MoistureRanges converts a record's moisture value to ranges, returning an
// empty slice for anything unreadable.
func MoistureRanges(v any) []core.MoistureRange {
	ranges, _ := moistureFromValue(v)
	return ranges
}

// Number reads a map section value. Numbers pass through; strings are
// parsed with the currency rules.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		return parseNumber(x.String())
	case string:
		return parseCurrency(x)
	}
	return 0, false
}

// CoerceRecord applies the column type rules to a record that arrived as
// JSON, so that an item added through the API holds the same value types a
// load of the saved file would produce. Keys the schema cannot resolve are
// dropped. Values that cannot be stored in their column, such as an object
// in a text column or an unreadable moisture list, are ErrInvalidItem.
func (c *Codec) CoerceRecord(sec *schema.Section, rec core.Record) (core.Record, error) {
	out := make(core.Record, len(rec))
	var fields []core.FieldError

	for key, v := range rec {
		canonical, ok := sec.Resolve(key)
		if !ok {
			continue
		}
		col, _ := sec.Column(canonical)

		coerced, err := coerceValue(col, v)
		if err != nil {
			fields = append(fields, core.FieldError{Field: key, Message: err.Error()})
			continue
		}
		out[key] = coerced
	}

	if len(fields) > 0 {
		return nil, &core.ValidationError{List: sec.Name, Fields: fields}
	}
	return out, nil
}

func coerceValue(col schema.Column, v any) (any, error) {
	if col.Type == schema.TypeJSON {
		ranges, ok := moistureFromValue(v)
		if !ok {
			return nil, fmt.Errorf("must be a list of {range, price} objects")
		}
		return ranges, nil
	}

	switch x := v.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		return nil, fmt.Errorf("must be a scalar value")
	case json.Number:
		v = x.String()
	}

	switch col.Type {
	case schema.TypeOpaque:
		switch x := v.(type) {
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(x), nil
		case string:
			return x, nil
		}
	case schema.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case float64:
			return x != 0, nil
		case string:
			if b, ok := parseBool(x); ok {
				return b, nil
			}
			return x, nil
		}
	case schema.TypeCurrency:
		switch x := v.(type) {
		case float64:
			return x, nil
		case bool:
			return nil, fmt.Errorf("must be a number or text, not a boolean")
		case string:
			if f, ok := parseCurrency(x); ok {
				return f, nil
			}
			return x, nil
		}
	default:
		switch x := v.(type) {
		case float64:
			return x, nil
		case bool:
			return nil, fmt.Errorf("must be a number or text, not a boolean")
		case string:
			if f, ok := parseNumber(x); ok {
				return f, nil
			}
			return x, nil
		}
	}

	return nil, fmt.Errorf("unsupported value type %T", v)
}
