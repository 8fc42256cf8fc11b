// Package schema holds the static section table of the data file: which
// sections exist, in what order they are written, their column lists and
// types, the fields an item must carry, and the legacy key names older
// files used.
//
// The table ships embedded as sections.yaml and can be replaced at startup
// with a file of the same shape.
package schema

import (
	"strings"

	"github.com/JonMunkholm/palaystore/internal/core"
)

// ColumnType controls how a cell is coerced on decode and formatted on encode.
type ColumnType string

const (
	TypeAuto     ColumnType = "auto"     // number if it parses cleanly, else text
	TypeOpaque   ColumnType = "opaque"   // never coerced
	TypeNumber   ColumnType = "number"   // number when present
	TypeCurrency ColumnType = "currency" // number when present, two decimals on write
	TypeBool     ColumnType = "bool"
	TypeJSON     ColumnType = "json" // nested moisture ranges
)

func (t ColumnType) valid() bool {
	switch t {
	case TypeAuto, TypeOpaque, TypeNumber, TypeCurrency, TypeBool, TypeJSON:
		return true
	}
	return false
}

// Column is one schema column.
type Column struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// Section describes one named section of the file.
type Section struct {
	Name     string            `yaml:"name" json:"name"`
	Kind     core.Kind         `yaml:"kind" json:"kind"`
	Columns  []Column          `yaml:"columns" json:"columns,omitempty"`
	Required []string          `yaml:"required" json:"required,omitempty"`
	Legacy   map[string]string `yaml:"legacy" json:"legacy,omitempty"`

	index     map[string]int // canonical column name -> position
	foldIndex map[string]int // lowercased column name -> position
}

// IsList reports whether the section holds records rather than key/value pairs.
func (s *Section) IsList() bool {
	return s.Kind == core.KindList
}

// Header returns the canonical column names in write order.
func (s *Section) Header() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the column with the exact canonical name.
func (s *Section) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// Resolve maps a key as found in a file or payload to its canonical column
// name. It accepts the canonical name, a declared legacy name, or a casing
// variant of either.
func (s *Section) Resolve(key string) (string, bool) {
	if _, ok := s.index[key]; ok {
		return key, true
	}
	if target, ok := s.Legacy[key]; ok {
		return target, true
	}
	lower := strings.ToLower(strings.TrimSpace(key))
	if i, ok := s.foldIndex[lower]; ok {
		return s.Columns[i].Name, true
	}
	for legacy, target := range s.Legacy {
		if strings.ToLower(legacy) == lower {
			return target, true
		}
	}
	return "", false
}

// JSONColumn returns the position of the nested-JSON column, or -1.
func (s *Section) JSONColumn() int {
	for i, c := range s.Columns {
		if c.Type == TypeJSON {
			return i
		}
	}
	return -1
}

func (s *Section) buildIndex() {
	s.index = make(map[string]int, len(s.Columns))
	s.foldIndex = make(map[string]int, len(s.Columns))
	for i := range s.Columns {
		if s.Columns[i].Type == "" {
			s.Columns[i].Type = TypeAuto
		}
		s.index[s.Columns[i].Name] = i
		s.foldIndex[strings.ToLower(s.Columns[i].Name)] = i
	}
}
