package core

// error_messages.go maps technical errors to user-facing messages with
// codes for support reference.
//
//	LIST001 - Unknown list: the requested list does not exist
//	REC001  - Record not found: the record to update is gone
//	VAL001  - Invalid item: required fields missing or malformed
//	REQ001  - Unsupported action: only add, update and delete are accepted
//	FILE001 - Corrupt data file: the stored file cannot be read as a dataset
//	FILE002 - Storage failure: the data file could not be read or written
//	ERR000  - Unknown error
//
// Sentinel matching comes first; the string patterns only catch errors that
// were not wrapped with a sentinel, such as JSON decode failures.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorMatch struct {
	target  error
	pattern string
	msg     UserMessage
}

var (
	msgUnknownList = UserMessage{
		Message: "The requested list does not exist",
		Action:  "Check the list name",
		Code:    "LIST001",
	}
	msgRecordNotFound = UserMessage{
		Message: "The record was not found",
		Action:  "Reload the list; it may have been deleted",
		Code:    "REC001",
	}
)

// errorMatches is checked in order; the first match wins.
var errorMatches = []errorMatch{
	{
		target: ErrInvalidItem,
		msg: UserMessage{
			Message: "The item is missing required fields or has invalid values",
			Action:  "Fill in all required fields and try again",
			Code:    "VAL001",
		},
	},
	{
		target: ErrInvalidAction,
		msg: UserMessage{
			Message: "Unsupported action",
			Action:  "Use add, update or delete",
			Code:    "REQ001",
		},
	},
	{
		target: ErrCorruptFile,
		msg: UserMessage{
			Message: "The data file could not be read",
			Action:  "Restore the data file from a backup; it was not modified",
			Code:    "FILE001",
		},
	},
	{
		target: ErrStorage,
		msg: UserMessage{
			Message: "The data file could not be saved or loaded",
			Action:  "Please try again; contact support if it keeps failing",
			Code:    "FILE002",
		},
	},
	{
		pattern: "invalid character",
		msg: UserMessage{
			Message: "The request body is not valid JSON",
			Action:  "Check the request payload",
			Code:    "VAL001",
		},
	},
	{
		pattern: "decode body",
		msg: UserMessage{
			Message: "The request body is not valid JSON",
			Action:  "Check the request payload",
			Code:    "VAL001",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "The request body is too large",
			Action:  "Send a smaller payload",
			Code:    "VAL001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error into a user-friendly message.
// Returns an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if errors.Is(err, ErrUnknownList) {
		return msgUnknownList
	}
	if errors.Is(err, ErrNotFound) {
		return msgRecordNotFound
	}

	errStr := strings.ToLower(err.Error())
	for _, m := range errorMatches {
		if m.target != nil && errors.Is(err, m.target) {
			return m.msg
		}
		if m.pattern != "" && strings.Contains(errStr, m.pattern) {
			return m.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
