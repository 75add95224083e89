package transform_test

import (
	"context"
	"testing"

	"github.com/fogfactory/scatter"
	"github.com/fogfactory/scatter/internal/transform"
	"github.com/maxatome/go-testdeep/td"
)

func apply(t *testing.T, name string, opts transform.Options, data string) string {
	t.Helper()
	f, err := transform.ByName(name, opts)
	td.Require(t).CmpNoError(err)
	out, err := f(context.Background(), scatter.Piece{Key: "k", SiblingCount: 1, Data: []byte(data)})
	td.Require(t).CmpNoError(err)
	return string(out)
}

func TestByName(t *testing.T) {
	fastq := transform.Options{Format: scatter.FASTQ, Quality: 20}
	reads := "@r1\nacgTN\n+\nIIII#\r\n@r2\r\nAACC\r\n+\r\nII##"

	t.Run("identity", func(t *testing.T) {
		td.Cmp(t, apply(t, "identity", fastq, reads), reads)
	})

	t.Run("upper", func(t *testing.T) {
		td.Cmp(t, apply(t, "upper", fastq, "@low\nacgt\n+\nIIII\n"), "@low\nACGT\n+\nIIII\n", "Only the sequence")
		td.Cmp(t, apply(t, "upper", transform.Options{}, "ab\ncd"), "AB\nCD")
	})

	t.Run("revcomp", func(t *testing.T) {
		td.Cmp(t, apply(t, "revcomp", fastq, reads), "@r1\nNAcgt\n+\n#IIII\r\n@r2\r\nGGTT\r\n+\r\n##II")
	})

	t.Run("trim", func(t *testing.T) {
		td.Cmp(t, apply(t, "trim", fastq, reads), "@r1\nacgT\n+\nIIII\r\n@r2\r\nAA\r\n+\r\nII")
	})

	t.Run("errors", func(t *testing.T) {
		_, err := transform.ByName("gzip", fastq)
		td.CmpContains(t, err, `unknown transform "gzip"`)
		_, err = transform.ByName("trim", transform.Options{Format: scatter.Lines})
		td.CmpContains(t, err, "needs the fastq format")
		_, err = transform.ByName("trim", transform.Options{Format: scatter.FASTQ, Quality: -1})
		td.CmpContains(t, err, "invalid quality")
	})

	t.Run("malformed_piece", func(t *testing.T) {
		f, err := transform.ByName("revcomp", fastq)
		td.Require(t).CmpNoError(err)
		_, err = f(context.Background(), scatter.Piece{Key: "k", Data: []byte("@r1\nACGT\n")})
		td.CmpError(t, err)
	})
}

func TestNames(t *testing.T) {
	td.Cmp(t, transform.Names(), []string{"identity", "revcomp", "trim", "upper"})
	for _, name := range transform.Names() {
		td.CmpNotEmpty(t, transform.Describe(name), name)
	}
}

func TestReverseComplement(t *testing.T) {
	td.Cmp(t, transform.ReverseComplement([]byte("ACGTNacgt-")), []byte("-acgtNACGT"))
	td.CmpEmpty(t, transform.ReverseComplement(nil))
}

func TestQualityCut(t *testing.T) {
	for qual, want := range map[string]int{
		"IIIIII": 6,
		"IIII##": 4,
		"######": 0,
		"I#I###": 3,
		"II5#":   3,
		"":       0,
	} {
		td.Cmp(t, transform.QualityCut([]byte(qual), 20), want, qual)
	}
}
