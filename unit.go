package scatter

import (
	"bytes"
	"time"
)

// Unit is one original item of work. Its Key groups every piece derived from it.
type Unit struct {
	Key     string
	Payload []byte
}

// Piece is one contiguous fragment of a Unit payload.
//
// Data shares memory with the unit payload: transforms must not modify it in place.
type Piece struct {
	Key          string
	Index        int
	SiblingCount int
	Data         []byte
}

// ProcessedPiece is the output of a transform for one piece. Key, Index and
// SiblingCount are copied from the source piece.
type ProcessedPiece Piece

// Processed builds the ProcessedPiece of p carrying data.
func (p Piece) Processed(data []byte) ProcessedPiece {
	return ProcessedPiece{Key: p.Key, Index: p.Index, SiblingCount: p.SiblingCount, Data: data}
}

// Result is emitted once per unit key, as soon as that key is settled.
type Result struct {
	Key     string
	Payload []byte // merged payload, pieces concatenated by ascending index
	Pieces  int    // number of pieces the unit was split into
	Missing []int  // indices of failed pieces, only under SkipPartial
	Err     error  // non nil when the key failed as a whole

	Started   time.Time
	Completed time.Time
}

// Failed reports whether the key produced no usable payload.
func (r Result) Failed() bool { return r.Err != nil }

// Partial reports whether some pieces are missing from the payload.
func (r Result) Partial() bool { return len(r.Missing) > 0 }

// Elapsed is the time between the split of the unit and its emission.
func (r Result) Elapsed() time.Duration { return r.Completed.Sub(r.Started) }

// merge concatenates chunks by ascending index, skipping absent ones.
func merge(chunks map[int][]byte, count int) []byte {
	var size int
	for _, c := range chunks {
		size += len(c)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for i := 0; i < count; i++ {
		buf.Write(chunks[i])
	}
	return buf.Bytes()
}
