package schema

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeHeader lower-cases h, collapses runs of non-alphanumerics to
// "_" and trims leading and trailing "_".
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(h), "_"), "_")
}

// SniffDelimiter picks the most frequent of '^', tab and ',' in the header
// line. Caret wins ties; it is the repository's native separator.
func SniffDelimiter(headerLine string) rune {
	best, bestN := '^', strings.Count(headerLine, "^")
	for _, d := range []rune{'\t', ','} {
		if n := strings.Count(headerLine, string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

// Reader iterates over the records of a delimited text file.
type Reader struct {
	header    []string
	delimiter rune
	csv       *csv.Reader
	line      int
}

// NewReader reads the header line of data and prepares record iteration.
func NewReader(data []byte) (*Reader, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	first, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	if len(bytes.TrimSpace(first)) == 0 {
		return nil, fmt.Errorf("schema: empty file")
	}
	delim := SniffDelimiter(string(first))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("schema: read header: %w", err)
	}
	return &Reader{header: header, delimiter: delim, csv: cr, line: 1}, nil
}

// Header returns the raw header cells.
func (r *Reader) Header() []string { return r.header }

// Delimiter returns the sniffed separator.
func (r *Reader) Delimiter() rune { return r.delimiter }

// Next returns the next non-blank record and its 1-based line number.
// It returns io.EOF after the last record.
func (r *Reader) Next() ([]string, int, error) {
	for {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, pe.Line, err
			}
			return nil, r.line, err
		}
		r.line, _ = r.csv.FieldPos(0)
		if blank(rec) {
			continue
		}
		return rec, r.line, nil
	}
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
