package blockchain

import (
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// RelayResultReason is the outcome of submitting an inventory item to the
// ledger.
type RelayResultReason uint8

const (
	// Succeed means the item was applied (block), pooled (transaction) or
	// accepted (consensus payload).
	Succeed RelayResultReason = iota
	// AlreadyExists is an idempotent success: the item was seen before.
	AlreadyExists
	// Orphan means the block was buffered until its parent arrives.
	Orphan
	// OutOfMemory means a bounded pool or queue was full.
	OutOfMemory
	// UnableToVerify means the item depends on something this node does not
	// have yet. It may succeed later.
	UnableToVerify
	// Invalid items are permanently rejected.
	Invalid
	// PolicyFail items are valid but refused by local policy.
	PolicyFail
	// Unknown covers internal failures.
	Unknown
)

// String ...
func (r RelayResultReason) String() string {
	switch r {
	case Succeed:
		return "Succeed"
	case AlreadyExists:
		return "AlreadyExists"
	case Orphan:
		return "Orphan"
	case OutOfMemory:
		return "OutOfMemory"
	case UnableToVerify:
		return "UnableToVerify"
	case Invalid:
		return "Invalid"
	case PolicyFail:
		return "PolicyFail"
	default:
		return "Unknown"
	}
}

// RelayResult ...
type RelayResult struct {
	Hash    common.Hash
	Type    ledger.InventoryType
	Reason  RelayResultReason
	Message string
}

// Accepted reports whether the item is now known to the ledger.
func (r RelayResult) Accepted() bool {
	return r.Reason == Succeed || r.Reason == AlreadyExists
}

// String ...
func (r RelayResult) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%s %s: %s", r.Type, r.Hash.Short(), r.Reason)
	}
	return fmt.Sprintf("%s %s: %s (%s)", r.Type, r.Hash.Short(), r.Reason, r.Message)
}

// relayError carries a reason through the validation code.
type relayError struct {
	reason RelayResultReason
	err    error
	// witnessed errors depend on parts of the item its hash does not cover
	witnessed bool
}

func (e *relayError) Error() string {
	return e.err.Error()
}

func (e *relayError) Unwrap() error {
	return e.err
}

func fail(reason RelayResultReason, format string, args ...interface{}) error {
	return &relayError{reason: reason, err: fmt.Errorf(format, args...)}
}

// failWitnessed is fail for checks another copy of the same item, differently
// signed or padded, could pass.
func failWitnessed(reason RelayResultReason, format string, args ...interface{}) error {
	return &relayError{reason: reason, err: fmt.Errorf(format, args...), witnessed: true}
}
