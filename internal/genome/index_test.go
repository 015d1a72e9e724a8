package genome

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := NewIndex([]Chrom{{"chr1", 100}, {"chr2", 50}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestIndex_RoundTrip(t *testing.T) {
	idx := testIndex(t)

	abs, err := idx.ToAbsolute(Position{Chrom: "chr2", Offset: 10})
	if err != nil {
		t.Fatalf("ToAbsolute: %v", err)
	}
	if abs != 110 {
		t.Fatalf("expected 110, got %d", abs)
	}

	pos, err := idx.ToGenomic(120)
	if err != nil {
		t.Fatalf("ToGenomic: %v", err)
	}
	if pos != (Position{Chrom: "chr2", Offset: 20}) {
		t.Fatalf("unexpected position %v", pos)
	}

	if idx.TotalLength() != 150 {
		t.Fatalf("expected total 150, got %d", idx.TotalLength())
	}
}

func TestIndex_Boundaries(t *testing.T) {
	idx := testIndex(t)

	for _, c := range []struct {
		abs  int64
		want Position
	}{
		{0, Position{"chr1", 0}},
		{99, Position{"chr1", 99}},
		{100, Position{"chr2", 0}},
		{150, Position{"chr2", 50}},
	} {
		got, err := idx.ToGenomic(c.abs)
		if err != nil {
			t.Fatalf("ToGenomic(%d): %v", c.abs, err)
		}
		if got != c.want {
			t.Errorf("ToGenomic(%d) = %v, want %v", c.abs, got, c.want)
		}
	}
}

func TestIndex_OutOfRangePolicies(t *testing.T) {
	idx := testIndex(t)

	t.Run("strict", func(t *testing.T) {
		for _, abs := range []int64{-1, 151, 1000} {
			if _, err := idx.ToGenomic(abs); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("ToGenomic(%d): expected ErrOutOfRange, got %v", abs, err)
			}
		}
	})

	t.Run("clamp", func(t *testing.T) {
		if got := idx.ClampGenomic(-5); got != (Position{"chr1", 0}) {
			t.Errorf("ClampGenomic(-5) = %v", got)
		}
		if got := idx.ClampGenomic(1000); got != (Position{"chr2", 50}) {
			t.Errorf("ClampGenomic(1000) = %v", got)
		}
	})
}

func TestIndex_UnknownChromosome(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.ToAbsolute(Position{Chrom: "chrX", Offset: 1})
	if !errors.Is(err, ErrUnknownChromosome) {
		t.Fatalf("expected ErrUnknownChromosome, got %v", err)
	}
}

func TestIndex_ToAbsoluteBounds(t *testing.T) {
	idx := testIndex(t)

	for _, p := range []Position{{"chr1", 500}, {"chr1", 101}, {"chr2", -1}} {
		if _, err := idx.ToAbsolute(p); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ToAbsolute(%v): expected ErrOutOfRange, got %v", p, err)
		}
	}
	if abs, err := idx.ToAbsolute(Position{"chr1", 100}); err != nil || abs != 100 {
		t.Errorf("ToAbsolute(chr1:100) = %d, %v", abs, err)
	}
}

func TestNewIndex_EmptyTable(t *testing.T) {
	idx, err := NewIndex(nil)
	if err != nil {
		t.Fatalf("empty table should be a valid genome: %v", err)
	}
	if idx.TotalLength() != 0 || idx.Len() != 0 {
		t.Fatalf("expected empty genome, got total=%d len=%d", idx.TotalLength(), idx.Len())
	}
	if _, err := idx.ToGenomic(0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange on empty genome, got %v", err)
	}
}

func TestNewIndex_Invalid(t *testing.T) {
	for name, table := range map[string][]Chrom{
		"negative":  {{"chr1", -1}},
		"duplicate": {{"chr1", 10}, {"chr1", 20}},
		"noName":    {{"", 10}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewIndex(table)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
		})
	}
}

func TestParseChromSizes_BestEffort(t *testing.T) {
	input := `# assembly
chr1	100
chr2,50
chr3	abc
chr4	-4

chr5	25
chr6
`
	table, err := ParseChromSizes(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected parse errors")
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError in %v", err)
	}
	if pe.Line != 4 {
		t.Errorf("expected first bad row on line 4, got %d", pe.Line)
	}
	if n := strings.Count(err.Error(), "chrom sizes line"); n != 3 {
		t.Errorf("expected 3 row errors, got %d: %v", n, err)
	}

	want := []Chrom{{"chr1", 100}, {"chr2", 50}, {"chr5", 25}}
	if len(table) != len(want) {
		t.Fatalf("expected %d rows, got %v", len(want), table)
	}
	for i := range want {
		if table[i] != want[i] {
			t.Errorf("row %d: got %v want %v", i, table[i], want[i])
		}
	}
}

func TestReadIndex_FailFast(t *testing.T) {
	if _, err := ReadIndex(strings.NewReader("chr1\t10\nchr2\tx\n")); err == nil {
		t.Fatal("expected error")
	}

	idx, err := ReadIndex(strings.NewReader("chr1\t10\nchr2\t20\n"))
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	var buf bytes.Buffer
	if _, err := idx.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if buf.String() != "chr1\t10\nchr2\t20\n" {
		t.Fatalf("unexpected export %q", buf.String())
	}
}
