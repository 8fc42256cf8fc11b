package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

// newValidator returns a validator with the "present" rule registered.
// The built-in "required" rejects zero numbers, and an ENWF factor or a
// sack weight of 0 is a legitimate value.
func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("present", present); err != nil {
		panic(fmt.Sprintf("register present validation: %v", err))
	}
	return v
}

// present fails for nil values and blank strings only.
func present(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Invalid:
		return false
	case reflect.String:
		return strings.TrimSpace(f.String()) != ""
	case reflect.Slice, reflect.Map, reflect.Ptr, reflect.Interface:
		return !f.IsNil()
	}
	return true
}

// validateRecord checks the section's required fields on a normalized
// record.
func (s *Store) validateRecord(sec *schema.Section, rec core.Record) error {
	if len(sec.Required) == 0 {
		return nil
	}

	rules := make(map[string]any, len(sec.Required))
	for _, field := range sec.Required {
		rules[field] = "present"
	}

	failed := s.validate.ValidateMap(rec, rules)
	if len(failed) == 0 {
		return nil
	}

	names := make([]string, 0, len(failed))
	for field := range failed {
		names = append(names, field)
	}
	sort.Strings(names)

	fields := make([]core.FieldError, len(names))
	for i, name := range names {
		fields[i] = core.FieldError{Field: name, Message: "is required"}
	}
	return &core.ValidationError{List: sec.Name, Fields: fields}
}
