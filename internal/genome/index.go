// Package genome maps between chromosome-relative and absolute genome coordinates.
package genome

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Chrom is one row of a chromosome-size table.
type Chrom struct {
	Name   string
	Length int64
}

// ChromPosition is the cumulative record of a chromosome within an assembly.
type ChromPosition struct {
	Index  int
	Name   string
	Start  int64 // absolute start: sum of the lengths of all preceding chromosomes
	Length int64
}

// End returns the absolute end of the chromosome.
func (c ChromPosition) End() int64 { return c.Start + c.Length }

// Position is a chromosome-relative coordinate.
type Position struct {
	Chrom  string
	Offset int64
}

func (p Position) String() string {
	return p.Chrom + ":" + strconv.FormatInt(p.Offset, 10)
}

// Index is an immutable cumulative chromosome index. It is safe for concurrent use.
type Index struct {
	chroms []ChromPosition
	byName map[string]int
	total  int64
}

// NewIndex builds an index from a chromosome table in assembly order.
// An empty table yields a valid zero-length genome.
func NewIndex(table []Chrom) (*Index, error) {
	idx := &Index{
		chroms: make([]ChromPosition, 0, len(table)),
		byName: make(map[string]int, len(table)),
	}
	for i, c := range table {
		row := fmt.Sprintf("%s\t%d", c.Name, c.Length)
		if c.Name == "" {
			return nil, &ParseError{Row: row, Err: errors.New("empty chromosome name")}
		}
		if c.Length < 0 {
			return nil, &ParseError{Row: row, Err: errors.New("negative length")}
		}
		if _, dup := idx.byName[c.Name]; dup {
			return nil, &ParseError{Row: row, Err: errors.New("duplicate chromosome name")}
		}
		idx.byName[c.Name] = i
		idx.chroms = append(idx.chroms, ChromPosition{
			Index:  i,
			Name:   c.Name,
			Start:  idx.total,
			Length: c.Length,
		})
		idx.total += c.Length
	}
	return idx, nil
}

// ParseChromSizes reads tab- or comma-separated (name, length) rows.
//
// Parsing is best-effort: every malformed row yields a *ParseError, the errors
// are joined, and the well-formed rows are returned alongside them. Blank lines
// and lines starting with '#' are ignored.
func ParseChromSizes(r io.Reader) ([]Chrom, error) {
	var (
		table []Chrom
		errs  []error
		line  int
	)
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool { return r == '\t' || r == ',' })
		if len(fields) < 2 {
			errs = append(errs, &ParseError{Line: line, Row: text, Err: errors.New("expected name and length")})
			continue
		}
		name := strings.TrimSpace(fields[0])
		length, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			errs = append(errs, &ParseError{Line: line, Row: text, Err: fmt.Errorf("invalid length: %w", err)})
			continue
		}
		if length < 0 {
			errs = append(errs, &ParseError{Line: line, Row: text, Err: errors.New("negative length")})
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, &ParseError{Line: line, Row: text, Err: errors.New("duplicate chromosome name")})
			continue
		}
		seen[name] = struct{}{}
		table = append(table, Chrom{Name: name, Length: length})
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err)
	}
	return table, errors.Join(errs...)
}

// ReadIndex parses a chrom-sizes document and builds its index. Unlike
// ParseChromSizes it fails on the first malformed row.
func ReadIndex(r io.Reader) (*Index, error) {
	table, err := ParseChromSizes(r)
	if err != nil {
		return nil, err
	}
	return NewIndex(table)
}

// TotalLength returns the sum of all chromosome lengths.
func (x *Index) TotalLength() int64 { return x.total }

// Len returns the number of chromosomes.
func (x *Index) Len() int { return len(x.chroms) }

// Chroms returns the cumulative records in assembly order.
func (x *Index) Chroms() []ChromPosition {
	out := make([]ChromPosition, len(x.chroms))
	copy(out, x.chroms)
	return out
}

// Lookup returns the record for a chromosome name.
func (x *Index) Lookup(name string) (ChromPosition, bool) {
	i, ok := x.byName[name]
	if !ok {
		return ChromPosition{}, false
	}
	return x.chroms[i], true
}

// ToAbsolute converts a chromosome-relative position to an absolute coordinate.
// The offset must lie in [0, length] of its chromosome.
func (x *Index) ToAbsolute(p Position) (int64, error) {
	c, err := x.checkPosition(p)
	if err != nil {
		return 0, err
	}
	return c.Start + p.Offset, nil
}

// ToGenomic converts an absolute coordinate to a chromosome-relative position.
// Coordinates outside [0, TotalLength] return ErrOutOfRange. A coordinate on a
// boundary belongs to the chromosome starting there, except TotalLength itself
// which is the end of the last chromosome.
func (x *Index) ToGenomic(abs int64) (Position, error) {
	if len(x.chroms) == 0 || abs < 0 || abs > x.total {
		return Position{}, fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, abs, x.total)
	}
	return x.locate(abs), nil
}

// ClampGenomic is ToGenomic with out-of-range coordinates clamped into the
// genome. An empty index returns the zero Position.
func (x *Index) ClampGenomic(abs int64) Position {
	if len(x.chroms) == 0 {
		return Position{}
	}
	if abs < 0 {
		abs = 0
	}
	if abs > x.total {
		abs = x.total
	}
	return x.locate(abs)
}

func (x *Index) locate(abs int64) Position {
	// first chromosome starting after abs, minus one
	i := sort.Search(len(x.chroms), func(i int) bool { return x.chroms[i].Start > abs }) - 1
	if i < 0 {
		i = 0
	}
	c := x.chroms[i]
	return Position{Chrom: c.Name, Offset: abs - c.Start}
}

// WriteTo writes the index back out as a tab-separated chrom-sizes document.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, c := range x.chroms {
		m, err := fmt.Fprintf(w, "%s\t%d\n", c.Name, c.Length)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
