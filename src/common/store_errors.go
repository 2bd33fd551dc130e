package common

import (
	"errors"
	"fmt"
)

// StoreErrType classifies storage failures.
type StoreErrType uint32

const (
	// KeyNotFound is returned for lookups of absent keys and heights.
	KeyNotFound StoreErrType = iota
	// TooLate is returned for indexes that were rolled out of a window.
	TooLate
	// SkippedIndex is returned when an append would leave a gap.
	SkippedIndex
	// Closed is returned by a store which has already been closed.
	Closed
	// Corrupted is returned when a stored value cannot be decoded.
	Corrupted
)

var storeErrMessages = map[StoreErrType]string{
	KeyNotFound:  "not found",
	TooLate:      "too late",
	SkippedIndex: "skipped index",
	Closed:       "closed",
	Corrupted:    "corrupted",
}

func (t StoreErrType) String() string {
	if m, ok := storeErrMessages[t]; ok {
		return m
	}
	return fmt.Sprintf("store error %d", uint32(t))
}

// StoreErr names what was looked up, under which key, and what went wrong.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	return fmt.Sprintf("%s %q: %s", e.dataType, e.key, e.errType)
}

// IsStore reports whether err, or an error it wraps, is a StoreErr of type t.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
