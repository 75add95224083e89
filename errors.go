package scatter

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrPieceProcessing   = errors.New("piece processing failed")
	ErrInconsistentGroup = errors.New("inconsistent group")
	ErrDuplicatePiece    = errors.New("duplicate piece")
	ErrGroupAborted      = errors.New("group aborted")
	ErrUnitInFlight      = errors.New("unit key already in flight")
	ErrInvalidPieceCount = errors.New("invalid piece count")
	ErrInvalidPolicy     = errors.New("invalid failure policy")
	ErrNilTransform      = errors.New("nil transform")
)

// MalformedInputError is returned by a Splitter when a unit payload cannot be
// cut on record boundaries. It is fatal for that unit only.
type MalformedInputError struct {
	Key    string
	Offset int // byte offset of the offending record
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s: unit %q at byte %d: %s", ErrMalformedInput, e.Key, e.Offset, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }

// PieceProcessingError wraps the failure of a transform on a single piece.
type PieceProcessingError struct {
	Key   string
	Index int
	Err   error
}

func (e *PieceProcessingError) Error() string {
	return fmt.Sprintf("%s: unit %q piece %d: %v", ErrPieceProcessing, e.Key, e.Index, e.Err)
}

// Unwrap exposes both the sentinel and the transform's own error.
func (e *PieceProcessingError) Unwrap() []error { return []error{ErrPieceProcessing, e.Err} }

// InconsistentGroupError reports a piece whose sibling count (or index)
// disagrees with the group it belongs to.
type InconsistentGroupError struct {
	Key      string
	Index    int
	Expected int
	Got      int
}

func (e *InconsistentGroupError) Error() string {
	if e.Got == e.Expected {
		return fmt.Sprintf("%s: unit %q piece %d out of range [0,%d)", ErrInconsistentGroup, e.Key, e.Index, e.Expected)
	}
	return fmt.Sprintf("%s: unit %q piece %d reports %d siblings, group expects %d", ErrInconsistentGroup, e.Key, e.Index, e.Got, e.Expected)
}

func (e *InconsistentGroupError) Unwrap() error { return ErrInconsistentGroup }

// DuplicatePieceError reports a (key, index) pair delivered twice.
type DuplicatePieceError struct {
	Key   string
	Index int
}

func (e *DuplicatePieceError) Error() string {
	return fmt.Sprintf("%s: unit %q piece %d", ErrDuplicatePiece, e.Key, e.Index)
}

func (e *DuplicatePieceError) Unwrap() error { return ErrDuplicatePiece }
