package scatter_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/fogfactory/scatter"
	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
)

// fastq builds a valid FASTQ payload of n records.
func fastq(n int) []byte {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "@read%d\nACGTN\n+\nIIII#\n", i)
	}
	return []byte(b.String())
}

// join concatenates piece data by index.
func join(pieces []scatter.Piece) []byte {
	return bytes.Join(lo.Map(pieces, func(p scatter.Piece, _ int) []byte { return p.Data }), nil)
}

func TestRecordSplitter(t *testing.T) {
	lines := []byte("a\nb\nc\nd\ne\nf\ng")

	t.Run("lossless_round_trip", func(t *testing.T) {
		payloads := map[string]struct {
			format  scatter.RecordFormat
			payload []byte
		}{
			"lines":            {scatter.Lines, lines},
			"lines_terminated": {scatter.Lines, []byte("one\ntwo\nthree\n")},
			"fastq":            {scatter.FASTQ, fastq(13)},
			"bytes":            {scatter.Bytes, []byte("raw payload")},
		}
		for name, tc := range payloads {
			for n := 1; n <= 20; n++ {
				// Arrange
				unit := scatter.Unit{Key: name, Payload: tc.payload}

				// Act
				pieces, err := scatter.NewRecordSplitter(tc.format).Split(unit, n)

				// Assert
				td.Require(t).CmpNoError(err, "%s n=%d", name, n)
				td.Cmp(t, join(pieces), tc.payload, "%s n=%d", name, n)
				for i, p := range pieces {
					td.Cmp(t, p, td.SStruct(scatter.Piece{Key: name, Index: i, SiblingCount: len(pieces)}, td.StructFields{"Data": td.NotEmpty()}))
				}
			}
		}
	})

	t.Run("single_piece_is_identity", func(t *testing.T) {
		// Arrange
		unit := scatter.Unit{Key: "s1", Payload: fastq(5)}

		// Act
		pieces, err := scatter.NewRecordSplitter(scatter.FASTQ).Split(unit, 1)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, pieces, []scatter.Piece{{Key: "s1", Index: 0, SiblingCount: 1, Data: unit.Payload}})
	})

	t.Run("fewer_records_than_pieces", func(t *testing.T) {
		// Arrange
		unit := scatter.Unit{Key: "s1", Payload: fastq(3)}

		// Act
		pieces, err := scatter.NewRecordSplitter(scatter.FASTQ).Split(unit, 8)

		// Assert
		td.CmpNoError(t, err)
		td.CmpLen(t, pieces, 3)
		td.Cmp(t, pieces, td.All(td.Len(3), td.ArrayEach(td.Smuggle("SiblingCount", 3))))
	})

	t.Run("even_distribution", func(t *testing.T) {
		// Arrange: 7 lines over 3 pieces gives 3, 2, 2 lines
		unit := scatter.Unit{Key: "k", Payload: lines}

		// Act
		pieces, err := scatter.NewRecordSplitter(scatter.Lines).Split(unit, 3)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, lo.Map(pieces, func(p scatter.Piece, _ int) string { return string(p.Data) }),
			[]string{"a\nb\nc\n", "d\ne\n", "f\ng"})
	})

	t.Run("empty_payload", func(t *testing.T) {
		pieces, err := scatter.NewRecordSplitter(scatter.FASTQ).Split(scatter.Unit{Key: "empty"}, 4)
		td.CmpNoError(t, err)
		td.CmpEmpty(t, pieces)
	})

	t.Run("invalid_piece_count", func(t *testing.T) {
		_, err := scatter.NewRecordSplitter(scatter.Lines).Split(scatter.Unit{Key: "k", Payload: lines}, 0)
		td.CmpErrorIs(t, err, scatter.ErrInvalidPieceCount)
	})

	t.Run("unit_is_not_mutated", func(t *testing.T) {
		// Arrange
		payload := fastq(4)
		original := bytes.Clone(payload)

		// Act
		pieces, err := scatter.NewRecordSplitter(scatter.FASTQ).Split(scatter.Unit{Key: "k", Payload: payload}, 2)
		td.Require(t).CmpNoError(err)
		pieces[0].Data = append(pieces[0].Data, "garbage"...)

		// Assert
		td.Cmp(t, payload, original, "Appending to a piece must not overwrite its sibling")
	})

	t.Run("malformed_fastq", func(t *testing.T) {
		cases := map[string]struct {
			payload string
			offset  int
		}{
			"truncated":        {"@r1\nACGT\n+\nIIII\n@r2\nAC\n", 23},
			"bad_header":       {"r1\nACGT\n+\nIIII\n", 0},
			"bad_separator":    {"@r1\nACGT\n-\nIIII\n", 9},
			"quality_mismatch": {"@r1\nACGT\n+\nIII\n", 11},
		}
		for name, tc := range cases {
			// Act
			_, err := scatter.NewRecordSplitter(scatter.FASTQ).Split(scatter.Unit{Key: name, Payload: []byte(tc.payload)}, 2)

			// Assert
			td.CmpErrorIs(t, err, scatter.ErrMalformedInput, name)
			td.Cmp(t, err, td.Isa(&scatter.MalformedInputError{}), name)
			td.Cmp(t, err, td.Struct(&scatter.MalformedInputError{Key: name, Offset: tc.offset}, td.StructFields{"Reason": td.NotEmpty()}), name)
		}
	})

	t.Run("default_format_is_lines", func(t *testing.T) {
		pieces, err := scatter.RecordSplitter{}.Split(scatter.Unit{Key: "k", Payload: lines}, 7)
		td.CmpNoError(t, err)
		td.CmpLen(t, pieces, 7)
	})
}

func TestSplitFunc(t *testing.T) {
	// Arrange
	split := scatter.SplitFunc(func(unit scatter.Unit, n int) ([]scatter.Piece, error) {
		return []scatter.Piece{{Key: unit.Key, SiblingCount: 1, Data: unit.Payload}}, nil
	})

	// Act
	pieces, err := split.Split(scatter.Unit{Key: "k", Payload: []byte("x")}, 3)

	// Assert
	td.CmpNoError(t, err)
	td.CmpLen(t, pieces, 1)
}
