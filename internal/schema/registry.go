package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/palaystore/internal/core"
)

//go:embed sections.yaml
var defaultTable []byte

// file mirrors the YAML document.
type file struct {
	Aliases  map[string]string `yaml:"aliases"`
	Sections []*Section        `yaml:"sections"`
}

// Registry is an immutable, ordered set of section schemas.
type Registry struct {
	sections []*Section
	byName   map[string]*Section
	aliases  map[string]string // lowercased alias or name -> canonical name
}

// Load parses and validates a schema table.
func Load(r io.Reader) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("schema decode: %w", err)
	}

	reg := &Registry{
		byName:  make(map[string]*Section, len(f.Sections)),
		aliases: make(map[string]string, len(f.Sections)+len(f.Aliases)),
	}

	var errs []string
	for _, sec := range f.Sections {
		if err := validateSection(sec); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		folded := strings.ToLower(sec.Name)
		if _, dup := reg.aliases[folded]; dup {
			errs = append(errs, fmt.Sprintf("duplicate section %q", sec.Name))
			continue
		}
		sec.buildIndex()
		reg.sections = append(reg.sections, sec)
		reg.byName[sec.Name] = sec
		reg.aliases[folded] = sec.Name
	}

	for alias, target := range f.Aliases {
		if _, ok := reg.byName[target]; !ok {
			errs = append(errs, fmt.Sprintf("alias %q points at unknown section %q", alias, target))
			continue
		}
		folded := strings.ToLower(alias)
		if existing, ok := reg.aliases[folded]; ok && existing != target {
			errs = append(errs, fmt.Sprintf("alias %q conflicts with section %q", alias, existing))
			continue
		}
		reg.aliases[folded] = target
	}

	if len(reg.sections) == 0 {
		errs = append(errs, "no sections defined")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return reg, nil
}

// LoadFile reads a schema table from disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded schema table. It panics if the embedded
// table is invalid, which only a broken build can cause.
func Default() *Registry {
	reg, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("embedded schema: %v", err))
	}
	return reg
}

// FromConfig returns the registry at path, or the embedded one when path
// is empty.
func FromConfig(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Canonical maps a section name, alias, or casing variant to its canonical
// spelling.
func (r *Registry) Canonical(name string) (string, bool) {
	canonical, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// Lookup returns the schema for a section name after canonicalisation.
func (r *Registry) Lookup(name string) (*Section, bool) {
	canonical, ok := r.Canonical(name)
	if !ok {
		return nil, false
	}
	return r.byName[canonical], true
}

// Sections returns every section in canonical write order.
func (r *Registry) Sections() []*Section {
	return append([]*Section(nil), r.sections...)
}

// Names returns the canonical section names in write order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.sections))
	for i, s := range r.sections {
		out[i] = s.Name
	}
	return out
}

func validateSection(sec *Section) error {
	if sec == nil || strings.TrimSpace(sec.Name) == "" {
		return fmt.Errorf("section without a name")
	}

	switch sec.Kind {
	case core.KindMap:
		if len(sec.Columns) > 0 {
			return fmt.Errorf("map section %q must not declare columns", sec.Name)
		}
		return nil
	case core.KindList:
	default:
		return fmt.Errorf("section %q has unknown kind %q", sec.Name, sec.Kind)
	}

	seen := make(map[string]bool, len(sec.Columns))
	for _, c := range sec.Columns {
		if c.Name == "" {
			return fmt.Errorf("section %q has a column without a name", sec.Name)
		}
		if seen[strings.ToLower(c.Name)] {
			return fmt.Errorf("section %q repeats column %q", sec.Name, c.Name)
		}
		seen[strings.ToLower(c.Name)] = true
		if c.Type != "" && !c.Type.valid() {
			return fmt.Errorf("section %q column %q has unknown type %q", sec.Name, c.Name, c.Type)
		}
		if c.Type == TypeJSON {
			if c.Name != core.MoistureField {
				return fmt.Errorf("section %q column %q: only %q may be json", sec.Name, c.Name, core.MoistureField)
			}
		}
	}
	if !seen[core.IDField] {
		return fmt.Errorf("list section %q must have an %q column", sec.Name, core.IDField)
	}
	for _, req := range sec.Required {
		if !seen[strings.ToLower(req)] {
			return fmt.Errorf("section %q requires unknown column %q", sec.Name, req)
		}
	}
	for legacy, target := range sec.Legacy {
		if !seen[strings.ToLower(target)] {
			return fmt.Errorf("section %q maps %q to unknown column %q", sec.Name, legacy, target)
		}
		if seen[strings.ToLower(legacy)] {
			return fmt.Errorf("section %q legacy key %q shadows a column", sec.Name, legacy)
		}
	}
	return nil
}
