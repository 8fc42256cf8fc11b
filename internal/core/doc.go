// Package core defines the dataset model shared by every layer of the store.
//
// A [Dataset] is a full in-memory snapshot of the data file. It is rebuilt
// from disk on every load and rewritten in full on every save; nothing in
// this package caches state between requests.
//
// # Sections
//
// The file is split into named sections of two kinds:
//
//   - List sections hold an ordered slice of [Record] values, each with a
//     stable "id" field.
//   - Map sections (pricing) hold string keys mapped to numeric values.
//
// Record values are one of string, float64, bool, or, for the
// moistureRanges column only, []MoistureRange.
//
// # Error Handling
//
// Callers distinguish failures with errors.Is against the sentinels in
// errors.go. Technical errors are mapped to user-friendly messages with
// support codes using [MapError]:
//
//   - LIST001: unknown list name
//   - REC001: update target not found
//   - VAL001: item failed validation
//   - REQ001: unsupported action
//   - FILE001: data file exists but cannot be parsed
//   - FILE002: data file could not be read or written
package core
