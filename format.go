package scatter

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// RecordFormat finds record boundaries inside a payload. A piece boundary is
// always a record boundary, so splitting never cuts a record in two.
type RecordFormat interface {
	// Name identifies the format, as used on the command line.
	Name() string
	// Next returns the length in bytes of the record starting at data[0].
	// data is never empty. An error means data does not start with a valid record.
	Next(data []byte) (int, error)
}

var (
	// Lines splits on '\n'. The last line may lack its terminator.
	Lines RecordFormat = lineFormat{}
	// FASTQ splits on 4-line sequencing records (@header, sequence, +separator, quality).
	FASTQ RecordFormat = fastqFormat{}
	// Bytes treats each byte as a record.
	Bytes RecordFormat = byteFormat{}
)

var formats = map[string]RecordFormat{
	Lines.Name(): Lines,
	FASTQ.Name(): FASTQ,
	Bytes.Name(): Bytes,
}

// FormatByName returns a built-in format.
func FormatByName(name string) (RecordFormat, error) {
	if f, ok := formats[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown record format %q (available: %v)", name, FormatNames())
}

// FormatNames lists the built-in formats, sorted.
func FormatNames() []string {
	names := lo.Keys(formats)
	sort.Strings(names)
	return names
}

// Records cuts data into its records. Every returned record is a capacity
// clipped sub-slice of data.
func Records(format RecordFormat, data []byte) ([][]byte, error) {
	ends, err := boundaries(format, data)
	if err != nil {
		return nil, err
	}
	records := make([][]byte, len(ends))
	start := 0
	for i, end := range ends {
		records[i] = data[start:end:end]
		start = end
	}
	return records, nil
}

// recordError is returned by formats; splitters turn it into a MalformedInputError.
type recordError struct {
	offset int
	reason string
}

func (e *recordError) Error() string { return e.reason }

// boundaries returns the end offset of each record of data.
func boundaries(format RecordFormat, data []byte) ([]int, error) {
	var ends []int
	for off := 0; off < len(data); {
		n, err := format.Next(data[off:])
		if err != nil {
			var re *recordError
			if errors.As(err, &re) {
				return nil, &recordError{offset: off + re.offset, reason: re.reason}
			}
			return nil, &recordError{offset: off, reason: err.Error()}
		}
		if n <= 0 || off+n > len(data) {
			return nil, &recordError{offset: off, reason: fmt.Sprintf("%s format returned invalid record length %d", format.Name(), n)}
		}
		off += n
		ends = append(ends, off)
	}
	return ends, nil
}

// line returns the length of the first line of data, terminator included,
// and the line content without "\n" or "\r\n".
func line(data []byte) (int, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return len(data), data, false
	}
	return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), true
}

type lineFormat struct{}

func (lineFormat) Name() string { return "lines" }

func (lineFormat) Next(data []byte) (int, error) {
	n, _, _ := line(data)
	return n, nil
}

type byteFormat struct{}

func (byteFormat) Name() string { return "bytes" }

func (byteFormat) Next([]byte) (int, error) { return 1, nil }

type fastqFormat struct{}

func (fastqFormat) Name() string { return "fastq" }

func (fastqFormat) Next(data []byte) (int, error) {
	var (
		fields [4][]byte
		starts [4]int
		off    int
	)
	for i := range fields {
		starts[i] = off
		if off >= len(data) {
			return 0, &recordError{offset: off, reason: fmt.Sprintf("truncated record: %d of 4 lines", i)}
		}
		n, content, terminated := line(data[off:])
		if !terminated && i < 3 {
			return 0, &recordError{offset: off, reason: fmt.Sprintf("truncated record: %d of 4 lines", i+1)}
		}
		fields[i] = content
		off += n
	}
	header, seq, sep, qual := fields[0], fields[1], fields[2], fields[3]
	switch {
	case len(header) == 0 || header[0] != '@':
		return 0, &recordError{reason: "record header must start with '@'"}
	case len(sep) == 0 || sep[0] != '+':
		return 0, &recordError{offset: starts[2], reason: "record separator must start with '+'"}
	case len(seq) != len(qual):
		return 0, &recordError{offset: starts[3], reason: fmt.Sprintf("sequence length %d does not match quality length %d", len(seq), len(qual))}
	}
	return off, nil
}
