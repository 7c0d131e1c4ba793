package instore

import "errors"

// Error taxonomy for store operations. These are sentinel errors so callers
// (and any HTTP facade mapping them to status codes) can test with errors.Is.
var (
	// ErrNotFound: a namespace, record or discovery key was required to
	// exist and did not.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a label search matched more than one record, a primary
	// key already existed on an insert requiring uniqueness, or a namespace
	// already existed on create.
	ErrConflict = errors.New("conflict")

	// ErrBadData: an internal invariant was found violated, e.g. stored
	// data that fails to parse or an attempt to change a record's guid.
	// Never a normal caller-facing condition.
	ErrBadData = errors.New("bad data")

	// ErrInvalidArgument: malformed input, such as naming the reserved
	// "default" namespace explicitly or supplying an unsupported label
	// value type.
	ErrInvalidArgument = errors.New("invalid argument")
)
