package store

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/palaystore/internal/codec"
	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/normalize"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

// Apply performs one action against one section of ds and returns the new
// dataset together with the updated section. ds is never modified: the
// result shares every untouched section with it.
//
// List sections:
//   - add assigns a fresh id (any id in item is ignored) and appends
//   - update replaces the record whose id matches item's id, keeping the id;
//     a missing id is ErrNotFound
//   - delete removes the record with item's id; a missing id is not an error
//
// Map sections take {"key": ..., "value": ...} with the same three actions
// on the key. A single-entry object {"palay": 18.5} is accepted as well.
func (s *Store) Apply(ds *core.Dataset, list string, action core.Action, item core.Record) (*core.Dataset, core.Section, error) {
	sec, ok := s.reg.Lookup(list)
	if !ok {
		return nil, core.Section{}, fmt.Errorf("%w: %q", core.ErrUnknownList, list)
	}
	action, err := core.ParseAction(string(action))
	if err != nil {
		return nil, core.Section{}, err
	}

	next := ds.ShallowCopy()

	if sec.IsList() {
		recs, err := s.applyList(sec, ds.Lists[sec.Name], action, item)
		if err != nil {
			return nil, core.Section{}, err
		}
		next.Lists[sec.Name] = recs
		return next, core.Section{Name: sec.Name, Kind: core.KindList, Records: recs}, nil
	}

	values, err := s.applyMap(sec, ds.Maps[sec.Name], action, item)
	if err != nil {
		return nil, core.Section{}, err
	}
	next.Maps[sec.Name] = values
	return next, core.Section{Name: sec.Name, Kind: core.KindMap, Values: values}, nil
}

func (s *Store) applyList(sec *schema.Section, recs []core.Record, action core.Action, item core.Record) ([]core.Record, error) {
	switch action {
	case core.ActionAdd:
		rec, err := s.prepareRecord(sec, item)
		if err != nil {
			return nil, err
		}
		rec[core.IDField] = s.newID()
		if err := s.validateRecord(sec, rec); err != nil {
			return nil, err
		}

		out := make([]core.Record, len(recs), len(recs)+1)
		copy(out, recs)
		return append(out, rec), nil

	case core.ActionUpdate:
		id, err := itemID(sec, item)
		if err != nil {
			return nil, err
		}
		idx := indexOf(recs, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s record %q", core.ErrNotFound, sec.Name, id)
		}

		rec, err := s.prepareRecord(sec, item)
		if err != nil {
			return nil, err
		}
		rec[core.IDField] = recs[idx].ID()
		if err := s.validateRecord(sec, rec); err != nil {
			return nil, err
		}

		out := make([]core.Record, len(recs))
		copy(out, recs)
		out[idx] = rec
		return out, nil

	case core.ActionDelete:
		id, err := itemID(sec, item)
		if err != nil {
			return nil, err
		}
		idx := indexOf(recs, id)
		if idx < 0 {
			if recs == nil {
				recs = []core.Record{}
			}
			return recs, nil
		}

		out := make([]core.Record, 0, len(recs)-1)
		out = append(out, recs[:idx]...)
		return append(out, recs[idx+1:]...), nil
	}

	return nil, fmt.Errorf("%w: %q", core.ErrInvalidAction, action)
}

func (s *Store) applyMap(sec *schema.Section, values map[string]float64, action core.Action, item core.Record) (map[string]float64, error) {
	key, value, hasValue := mapEntry(item)
	if key == "" {
		return nil, invalidField(sec.Name, "key", "is required")
	}

	out := make(map[string]float64, len(values)+1)
	for k, v := range values {
		out[k] = v
	}

	switch action {
	case core.ActionAdd, core.ActionUpdate:
		if action == core.ActionUpdate {
			if _, ok := values[key]; !ok {
				return nil, fmt.Errorf("%w: %s key %q", core.ErrNotFound, sec.Name, key)
			}
		}
		if !hasValue {
			return nil, invalidField(sec.Name, "value", "must be a number")
		}
		out[key] = value
		return out, nil

	case core.ActionDelete:
		delete(out, key)
		return out, nil
	}

	return nil, fmt.Errorf("%w: %q", core.ErrInvalidAction, action)
}

// prepareRecord coerces an incoming item to column types and normalizes it.
func (s *Store) prepareRecord(sec *schema.Section, item core.Record) (core.Record, error) {
	coerced, err := s.codec.CoerceRecord(sec, item)
	if err != nil {
		return nil, err
	}
	return normalize.Record(sec, coerced), nil
}

// prepareDataset turns a dataset received as JSON into a normalized one.
func (s *Store) prepareDataset(ds *core.Dataset) (*core.Dataset, error) {
	out := core.NewDataset()
	out.Unknown = ds.Unknown

	for name, recs := range ds.Lists {
		sec, ok := s.reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", core.ErrUnknownList, name)
		}
		if !sec.IsList() {
			return nil, invalidField(sec.Name, sec.Name, "must be an object of key/value pairs")
		}

		seen := make(map[string]bool, len(recs))
		prepared := make([]core.Record, 0, len(recs))
		for _, item := range recs {
			rec, err := s.prepareRecord(sec, item)
			if err != nil {
				return nil, err
			}
			id := strings.TrimSpace(rec.ID())
			if id == "" || seen[id] {
				id = s.newID()
			}
			rec[core.IDField] = id
			seen[id] = true
			prepared = append(prepared, rec)
		}
		out.Lists[sec.Name] = prepared
	}

	for name, values := range ds.Maps {
		sec, ok := s.reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", core.ErrUnknownList, name)
		}
		if sec.IsList() {
			return nil, invalidField(sec.Name, sec.Name, "must be an array of records")
		}
		out.Maps[sec.Name] = values
	}

	return normalize.Dataset(s.reg, out), nil
}

// itemID extracts the target id of an update or delete.
func itemID(sec *schema.Section, item core.Record) (string, error) {
	for key, v := range item {
		if canonical, ok := sec.Resolve(key); ok && canonical == core.IDField {
			id := strings.TrimSpace(core.Record{core.IDField: v}.ID())
			if id != "" {
				return id, nil
			}
		}
	}
	return "", invalidField(sec.Name, core.IDField, "is required")
}

func indexOf(recs []core.Record, id string) int {
	for i, rec := range recs {
		if rec.ID() == id {
			return i
		}
	}
	return -1
}

// mapEntry reads the key and value of a map section item.
func mapEntry(item core.Record) (string, float64, bool) {
	if rawKey, ok := item["key"]; ok {
		key := strings.TrimSpace(fmt.Sprint(rawKey))
		if rawKey == nil {
			key = ""
		}
		value, ok := codec.Number(item["value"])
		return key, value, ok
	}

	if len(item) == 1 {
		for k, v := range item {
			value, ok := codec.Number(v)
			return strings.TrimSpace(k), value, ok
		}
	}
	return "", 0, false
}

func invalidField(list, field, msg string) error {
	return &core.ValidationError{List: list, Fields: []core.FieldError{{Field: field, Message: msg}}}
}

// mutationTarget names the record id or map key a successful mutation
// touched, for logging.
func mutationTarget(updated core.Section, action core.Action, item core.Record) string {
	if updated.Kind == core.KindMap {
		key, _, _ := mapEntry(item)
		return key
	}
	if a, _ := core.ParseAction(string(action)); a == core.ActionAdd {
		if n := len(updated.Records); n > 0 {
			return updated.Records[n-1].ID()
		}
		return ""
	}
	for key, v := range item {
		if strings.EqualFold(key, core.IDField) {
			return strings.TrimSpace(core.Record{core.IDField: v}.ID())
		}
	}
	return ""
}
