package genome

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChromosome is returned when a chromosome name is not in the index.
	ErrUnknownChromosome = errors.New("unknown chromosome")
	// ErrOutOfRange is returned for coordinates or ranges beyond the known extent.
	ErrOutOfRange = errors.New("coordinate out of range")
)

// ParseError describes one malformed chromosome-size record.
type ParseError struct {
	Line int    // 1-based line number, 0 when the record did not come from text
	Row  string // offending record
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("chrom sizes line %d (%q): %v", e.Line, e.Row, e.Err)
	}
	return fmt.Sprintf("chrom sizes record %q: %v", e.Row, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
