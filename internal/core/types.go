package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IDField is the identifier column every list section carries.
const IDField = "id"

// MoistureField is the one column that stores a nested JSON structure.
const MoistureField = "moistureRanges"

// Kind distinguishes list sections from key/value map sections.
type Kind string

const (
	KindList Kind = "list"
	KindMap  Kind = "map"
)

// Record is one row of a list section, keyed by canonical field name.
type Record map[string]any

// ID returns the record identifier, or "" if it has none.
func (r Record) ID() string {
	switch v := r[IDField].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// MoistureRange is one price bracket of a palayPricing record.
type MoistureRange struct {
	Range string  `json:"range"`
	Price float64 `json:"price"`
}

// UnmarshalJSON accepts the price as either a number or a numeric string,
// and the range as either a string or a number. Older files carry both.
func (m *MoistureRange) UnmarshalJSON(data []byte) error {
	var raw struct {
		Range json.RawMessage `json:"range"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rng, err := looseString(raw.Range)
	if err != nil {
		return fmt.Errorf("range: %w", err)
	}
	price, err := looseFloat(raw.Price)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	m.Range = rng
	m.Price = price
	return nil
}

func looseString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func looseFloat(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// RawSection is a section the schema does not know about. It is carried
// through a load/save cycle verbatim so that rewriting the file never drops
// data written by a newer deployment.
type RawSection struct {
	Name string
	Body string
}

// Dataset is the in-memory snapshot of the whole data file.
type Dataset struct {
	Lists   map[string][]Record
	Maps    map[string]map[string]float64
	Unknown []RawSection
}

// NewDataset returns an empty dataset with initialised maps.
func NewDataset() *Dataset {
	return &Dataset{
		Lists: make(map[string][]Record),
		Maps:  make(map[string]map[string]float64),
	}
}

// ShallowCopy returns a dataset sharing every section with d. Replacing one
// section on the copy leaves d untouched.
func (d *Dataset) ShallowCopy() *Dataset {
	out := NewDataset()
	for name, recs := range d.Lists {
		out.Lists[name] = recs
	}
	for name, values := range d.Maps {
		out.Maps[name] = values
	}
	out.Unknown = d.Unknown
	return out
}

// Section returns the named section. The boolean is false if the dataset
// holds no section by that name.
func (d *Dataset) Section(name string) (Section, bool) {
	if recs, ok := d.Lists[name]; ok {
		return Section{Name: name, Kind: KindList, Records: recs}, true
	}
	if values, ok := d.Maps[name]; ok {
		return Section{Name: name, Kind: KindMap, Values: values}, true
	}
	return Section{}, false
}

// MarshalJSON renders the dataset as one flat object keyed by section name.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Lists)+len(d.Maps))
	for name, recs := range d.Lists {
		if recs == nil {
			recs = []Record{}
		}
		out[name] = recs
	}
	for name, values := range d.Maps {
		if values == nil {
			values = map[string]float64{}
		}
		out[name] = values
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat object produced by MarshalJSON. Arrays become
// list sections and objects become map sections; section names are not
// checked here, that is the store's job.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fresh := NewDataset()
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		body := bytes.TrimSpace(raw[name])
		if len(body) == 0 || string(body) == "null" {
			continue
		}
		switch body[0] {
		case '[':
			var recs []Record
			if err := json.Unmarshal(body, &recs); err != nil {
				return fmt.Errorf("section %s: %w", name, err)
			}
			fresh.Lists[name] = recs
		case '{':
			var loose map[string]json.RawMessage
			if err := json.Unmarshal(body, &loose); err != nil {
				return fmt.Errorf("section %s: %w", name, err)
			}
			values := make(map[string]float64, len(loose))
			for key, v := range loose {
				f, err := looseFloat(v)
				if err != nil {
					return fmt.Errorf("section %s key %s: %w", name, key, err)
				}
				values[key] = f
			}
			fresh.Maps[name] = values
		default:
			return fmt.Errorf("section %s: expected array or object", name)
		}
	}

	*d = *fresh
	return nil
}

// Section is one named sub-collection, returned to callers after a mutation.
type Section struct {
	Name    string
	Kind    Kind
	Records []Record
	Values  map[string]float64
}

// MarshalJSON renders a list section as an array and a map section as an
// object, which is what clients of the list API expect back.
func (s Section) MarshalJSON() ([]byte, error) {
	if s.Kind == KindMap {
		values := s.Values
		if values == nil {
			values = map[string]float64{}
		}
		return json.Marshal(values)
	}
	recs := s.Records
	if recs == nil {
		recs = []Record{}
	}
	return json.Marshal(recs)
}

// Len returns the number of records or entries in the section.
func (s Section) Len() int {
	if s.Kind == KindMap {
		return len(s.Values)
	}
	return len(s.Records)
}
