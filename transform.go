package scatter

import (
	"bytes"
	"context"
	"fmt"
)

// Transform processes a single piece. It must only depend on the piece it is
// given: it runs concurrently with its siblings, in no particular order.
type Transform func(ctx context.Context, p Piece) ([]byte, error)

// AsTransform decorates a pure byte function, in order to make it seen as a Transform.
func AsTransform(f func([]byte) []byte) Transform {
	return func(_ context.Context, p Piece) ([]byte, error) { return f(p.Data), nil }
}

// Identity returns the piece data unchanged.
func Identity(_ context.Context, p Piece) ([]byte, error) { return p.Data, nil }

// PerRecord builds a Transform applying f to every record of the piece, as cut
// by format. Records are processed in order and their outputs concatenated.
func PerRecord(format RecordFormat, f func(record []byte) ([]byte, error)) Transform {
	return func(ctx context.Context, p Piece) ([]byte, error) {
		records, err := Records(format, p.Data)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.Grow(len(p.Data))
		for i, record := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := f(record)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			buf.Write(out)
		}
		return buf.Bytes(), nil
	}
}

// apply runs t on p, turning errors and panics into a *PieceProcessingError.
func (t Transform) apply(ctx context.Context, p Piece) (pp ProcessedPiece, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PieceProcessingError{Key: p.Key, Index: p.Index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	data, err := t(ctx, p)
	if err != nil {
		return pp, &PieceProcessingError{Key: p.Key, Index: p.Index, Err: err}
	}
	return p.Processed(data), nil
}
