package scatter

import (
	"errors"
	"fmt"
)

// Splitter divides a unit into at most n independent pieces.
//
// The pieces must be a lossless partition of the payload: concatenated by
// index they give back the payload. SiblingCount is the number of pieces
// actually produced, which may be lower than n.
type Splitter interface {
	Split(unit Unit, n int) ([]Piece, error)
}

// SplitFunc adapts a function to the Splitter interface.
type SplitFunc func(unit Unit, n int) ([]Piece, error)

// Split implements Splitter.
func (f SplitFunc) Split(unit Unit, n int) ([]Piece, error) { return f(unit, n) }

// RecordSplitter splits payloads on the record boundaries of its Format and
// spreads the records as evenly as possible over the pieces.
type RecordSplitter struct {
	Format RecordFormat
}

// NewRecordSplitter returns a RecordSplitter for format.
func NewRecordSplitter(format RecordFormat) RecordSplitter {
	return RecordSplitter{Format: format}
}

// Split implements Splitter. An empty payload yields no piece.
func (s RecordSplitter) Split(unit Unit, n int) ([]Piece, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d (unit %q)", ErrInvalidPieceCount, n, unit.Key)
	}
	format := s.Format
	if format == nil {
		format = Lines
	}
	ends, err := boundaries(format, unit.Payload)
	if err != nil {
		var re *recordError
		if errors.As(err, &re) {
			return nil, &MalformedInputError{Key: unit.Key, Offset: re.offset, Reason: re.reason}
		}
		return nil, &MalformedInputError{Key: unit.Key, Reason: err.Error()}
	}
	if len(ends) == 0 {
		return nil, nil
	}

	count := min(n, len(ends))
	per, extra := len(ends)/count, len(ends)%count
	pieces := make([]Piece, count)
	start, record := 0, 0
	for i := range pieces {
		record += per
		if i < extra {
			record++
		}
		end := ends[record-1]
		pieces[i] = Piece{
			Key:          unit.Key,
			Index:        i,
			SiblingCount: count,
			Data:         unit.Payload[start:end:end],
		}
		start = end
	}
	return pieces, nil
}
