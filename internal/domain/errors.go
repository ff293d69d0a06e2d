package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks network, timeout and non-success status failures.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks a source page that lacks the expected fields.
	ErrParse = errors.New("parse failed")
)

// RejectReason says why the Normalizer refused a snapshot
type RejectReason string

const (
	EmptyIdentifier  RejectReason = "EmptyIdentifier"
	NonPositivePrice RejectReason = "NonPositivePrice"
	MissingPrice     RejectReason = "MissingPrice"
)

type ValidationError struct {
	ItemID string
	Reason RejectReason
}

func (e *ValidationError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("invalid snapshot: %s", e.Reason)
	}
	return fmt.Sprintf("invalid snapshot %q: %s", e.ItemID, e.Reason)
}

// StoreIOError wraps a read or write failure on the persisted history
type StoreIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// ScheduleConfigError is returned for cadence parameters that cannot be armed
type ScheduleConfigError struct {
	Field string
	Msg   string
}

func (e *ScheduleConfigError) Error() string {
	return fmt.Sprintf("invalid schedule %s: %s", e.Field, e.Msg)
}
