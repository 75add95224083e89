// Package transform holds the named piece transforms of the scatter command.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/fogfactory/scatter"
	"github.com/samber/lo"
)

// Options parameterize the transforms.
type Options struct {
	Format  scatter.RecordFormat
	Quality int // Phred threshold of trim
}

type builder struct {
	description string
	fastqOnly   bool
	build       func(Options) func(record []byte) ([]byte, error)
}

var builders = map[string]builder{
	"identity": {
		description: "copy records unchanged",
		build: func(Options) func([]byte) ([]byte, error) {
			return func(record []byte) ([]byte, error) { return record, nil }
		},
	},
	"upper": {
		description: "upper case lines, or the sequence of FASTQ reads",
		build: func(opts Options) func([]byte) ([]byte, error) {
			if opts.Format != scatter.FASTQ {
				return func(record []byte) ([]byte, error) { return bytes.ToUpper(record), nil }
			}
			return onRead(func(r *read) { r.seq = bytes.ToUpper(r.seq) })
		},
	},
	"revcomp": {
		description: "reverse complement FASTQ reads, reversing their quality",
		fastqOnly:   true,
		build: func(Options) func([]byte) ([]byte, error) {
			return onRead(func(r *read) {
				r.seq = ReverseComplement(r.seq)
				r.qual = lo.Reverse(bytes.Clone(r.qual))
			})
		},
	},
	"trim": {
		description: "trim the low quality 3' end of FASTQ reads",
		fastqOnly:   true,
		build: func(opts Options) func([]byte) ([]byte, error) {
			return onRead(func(r *read) {
				cut := QualityCut(r.qual, opts.Quality)
				r.seq, r.qual = r.seq[:cut], r.qual[:cut]
			})
		},
	},
}

// Names lists the available transforms, sorted.
func Names() []string {
	names := lo.Keys(builders)
	sort.Strings(names)
	return names
}

// Describe returns the one line description of a transform.
func Describe(name string) string {
	return builders[name].description
}

// ByName builds the transform called name.
func ByName(name string, opts Options) (scatter.Transform, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q (available: %v)", name, Names())
	}
	if opts.Format == nil {
		opts.Format = scatter.Lines
	}
	if b.fastqOnly && opts.Format != scatter.FASTQ {
		return nil, fmt.Errorf("transform %q needs the %s format, not %s", name, scatter.FASTQ.Name(), opts.Format.Name())
	}
	if opts.Quality < 0 {
		return nil, fmt.Errorf("invalid quality threshold: %d", opts.Quality)
	}
	return scatter.PerRecord(opts.Format, b.build(opts)), nil
}

var complement = func() [256]byte {
	var table [256]byte
	for i := range table {
		table[i] = byte(i)
	}
	for _, pair := range []string{"AT", "CG", "at", "cg"} {
		table[pair[0]], table[pair[1]] = pair[1], pair[0]
	}
	return table
}()

// ReverseComplement returns the reverse complement of a nucleotide sequence.
// Case is kept, other symbols (N, gaps) are only reversed.
func ReverseComplement(seq []byte) []byte {
	out := make([]byte, len(seq))
	for i, b := range seq {
		out[len(seq)-1-i] = complement[b]
	}
	return out
}

// QualityCut returns the length to keep so that the 3' end of a read scoring
// below threshold is removed, with the BWA trimming algorithm. Qualities are
// Phred+33 encoded.
func QualityCut(qual []byte, threshold int) int {
	cut := len(qual)
	var sum, best int
	for i := len(qual) - 1; i >= 0; i-- {
		sum += threshold - (int(qual[i]) - 33)
		if sum < 0 {
			break
		}
		if sum > best {
			best, cut = sum, i
		}
	}
	return cut
}

// read is a FASTQ record cut into its lines. Each line keeps its own terminator
// so that rewriting a record preserves its line endings.
type read struct {
	header, seq, sep, qual []byte
	eol                    [4][]byte
}

func parseRead(record []byte) (*read, error) {
	lines := bytes.SplitAfterN(record, []byte("\n"), 4)
	if len(lines) != 4 {
		return nil, errors.New("not a FASTQ record")
	}
	r := &read{}
	fields := [4]*[]byte{&r.header, &r.seq, &r.sep, &r.qual}
	for i, line := range lines {
		content := bytes.TrimRight(line, "\r\n")
		*fields[i] = content
		r.eol[i] = line[len(content):]
	}
	return r, nil
}

func (r *read) bytes() []byte {
	var buf bytes.Buffer
	for i, field := range [][]byte{r.header, r.seq, r.sep, r.qual} {
		buf.Write(field)
		buf.Write(r.eol[i])
	}
	return buf.Bytes()
}

// onRead applies f to each parsed read.
func onRead(f func(*read)) func([]byte) ([]byte, error) {
	return func(record []byte) ([]byte, error) {
		r, err := parseRead(record)
		if err != nil {
			return nil, err
		}
		f(r)
		return r.bytes(), nil
	}
}
