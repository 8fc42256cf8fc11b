// Package normalize brings a decoded dataset into canonical shape: every
// registry section present, every record carrying exactly the schema
// columns under their canonical names.
//
// Normalization is idempotent. Running it on its own output changes nothing.
package normalize

import (
	"sort"

	"github.com/JonMunkholm/palaystore/internal/codec"
	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

// Dataset normalizes ds in place and returns it. Missing sections become an
// empty list or map; list and map entries under names the registry does not
// know are dropped (unknown raw sections are untouched).
func Dataset(reg *schema.Registry, ds *core.Dataset) *core.Dataset {
	if ds == nil {
		ds = core.NewDataset()
	}
	if ds.Lists == nil {
		ds.Lists = make(map[string][]core.Record)
	}
	if ds.Maps == nil {
		ds.Maps = make(map[string]map[string]float64)
	}

	keep := make(map[string]bool)
	for _, sec := range reg.Sections() {
		keep[sec.Name] = true

		if !sec.IsList() {
			if ds.Maps[sec.Name] == nil {
				ds.Maps[sec.Name] = make(map[string]float64)
			}
			delete(ds.Lists, sec.Name)
			continue
		}

		recs := ds.Lists[sec.Name]
		out := make([]core.Record, len(recs))
		for i, rec := range recs {
			out[i] = Record(sec, rec)
		}
		ds.Lists[sec.Name] = out
		delete(ds.Maps, sec.Name)
	}

	for name := range ds.Lists {
		if !keep[name] {
			delete(ds.Lists, name)
		}
	}
	for name := range ds.Maps {
		if !keep[name] {
			delete(ds.Maps, name)
		}
	}

	return ds
}

// Record returns a canonical copy of rec for sec.
//
// A legacy or mis-cased key is copied into its canonical column when that
// column is absent or empty, and is dropped either way. Keys the schema
// cannot resolve are dropped. Absent columns are filled with "" and the
// moisture column always holds a slice.
func Record(sec *schema.Section, rec core.Record) core.Record {
	out := make(core.Record, len(sec.Columns))

	for _, col := range sec.Columns {
		if v, ok := rec[col.Name]; ok {
			out[col.Name] = v
		}
	}

	// Sorted so that two legacy spellings of one column resolve the same
	// way on every run.
	others := make([]string, 0, len(rec))
	for key := range rec {
		if _, canonical := sec.Column(key); !canonical {
			others = append(others, key)
		}
	}
	sort.Strings(others)

	for _, key := range others {
		target, ok := sec.Resolve(key)
		if !ok {
			continue
		}
		if isEmpty(out[target]) && !isEmpty(rec[key]) {
			out[target] = rec[key]
		}
	}

	for _, col := range sec.Columns {
		if col.Type == schema.TypeJSON {
			out[col.Name] = codec.MoistureRanges(out[col.Name])
			continue
		}
		if v, ok := out[col.Name]; !ok || v == nil {
			out[col.Name] = ""
		}
	}

	return out
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []core.MoistureRange:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}
