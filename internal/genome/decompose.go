package genome

import "fmt"

// Chunk is a contiguous single-chromosome range expressed in bins.
type Chunk struct {
	Chrom    string `json:"chrom"`
	BinStart int64  `json:"bin_start"`
	BinEnd   int64  `json:"bin_end"`
}

// Bins returns the number of bins covered by the chunk.
func (c Chunk) Bins() int64 { return c.BinEnd - c.BinStart }

// Decompose splits the genomic range [start, end] into per-chromosome chunks of
// binSize-sized bins. At most tileCapacity bins are emitted in total; the chunk
// that would exceed the budget is truncated and the walk stops there.
//
// A range on one chromosome always yields exactly one chunk. A range crossing
// chromosome boundaries yields at most one chunk per chromosome traversed, in
// assembly order, skipping chromosomes that contribute no bins. When start and
// end denote the same absolute coordinate a single zero-width chunk is returned.
func (x *Index) Decompose(start, end Position, binSize, tileCapacity int64) ([]Chunk, error) {
	if binSize <= 0 {
		return nil, fmt.Errorf("%w: bin size %d", ErrOutOfRange, binSize)
	}
	if tileCapacity < 0 {
		return nil, fmt.Errorf("%w: tile capacity %d", ErrOutOfRange, tileCapacity)
	}

	first, err := x.checkPosition(start)
	if err != nil {
		return nil, err
	}
	last, err := x.checkPosition(end)
	if err != nil {
		return nil, err
	}

	absStart := first.Start + start.Offset
	absEnd := last.Start + end.Offset
	switch {
	case absEnd < absStart:
		return nil, fmt.Errorf("%w: end %s before start %s", ErrOutOfRange, end, start)
	case absEnd == absStart:
		b := start.Offset / binSize
		return []Chunk{{Chrom: start.Chrom, BinStart: b, BinEnd: b}}, nil
	}

	if first.Index == last.Index {
		zStart := start.Offset / binSize
		zEnd := capBins(zStart, ceilDiv(end.Offset, binSize), tileCapacity)
		return []Chunk{{Chrom: start.Chrom, BinStart: zStart, BinEnd: zEnd}}, nil
	}

	remaining := tileCapacity
	chunks := make([]Chunk, 0, last.Index-first.Index+1)
	for i := first.Index; i <= last.Index && remaining > 0; i++ {
		c := x.chroms[i]

		from, to := int64(0), c.Length
		switch i {
		case first.Index:
			from = start.Offset
		case last.Index:
			to = end.Offset
		}

		zStart := from / binSize
		zEnd := capBins(zStart, ceilDiv(to, binSize), remaining)
		if zEnd <= zStart {
			continue
		}
		chunks = append(chunks, Chunk{Chrom: c.Name, BinStart: zStart, BinEnd: zEnd})
		remaining -= zEnd - zStart
	}
	return chunks, nil
}

func (x *Index) checkPosition(p Position) (ChromPosition, error) {
	c, ok := x.Lookup(p.Chrom)
	if !ok {
		return ChromPosition{}, fmt.Errorf("%w: %s", ErrUnknownChromosome, p.Chrom)
	}
	if p.Offset < 0 || p.Offset > c.Length {
		return ChromPosition{}, fmt.Errorf("%w: %s not in [0, %d]", ErrOutOfRange, p, c.Length)
	}
	return c, nil
}

// capBins limits [zStart, zEnd) to budget bins. Lengths are compared rather
// than summed bounds so that huge budgets cannot overflow.
func capBins(zStart, zEnd, budget int64) int64 {
	if zEnd-zStart > budget {
		return zStart + budget
	}
	return zEnd
}

// ceilDiv divides non-negative a by positive b, rounding up.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
