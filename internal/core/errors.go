package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for an unknown list name or a missing update target.
	ErrNotFound = errors.New("not found")

	// ErrUnknownList is returned when a list name matches no section. It
	// wraps ErrNotFound.
	ErrUnknownList = fmt.Errorf("unknown list: %w", ErrNotFound)

	// ErrInvalidAction is returned for an action other than add, update or delete.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidItem is returned when an item fails validation.
	ErrInvalidItem = errors.New("invalid item")

	// ErrCorruptFile is returned when the data file exists but holds nothing
	// that can be read as a dataset. Load never substitutes an empty dataset
	// in that case.
	ErrCorruptFile = errors.New("corrupt data file")

	// ErrStorage wraps read and write failures on the data file.
	ErrStorage = errors.New("storage failure")
)

// Action is a mutation verb of the list API.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates an action name from a request path.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAdd, ActionUpdate, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// FieldError describes a single invalid field of an item.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every field of an item that failed validation.
type ValidationError struct {
	List   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("invalid item for %s: %s", e.List, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrInvalidItem.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidItem
}
