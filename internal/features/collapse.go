// Package features merges interval features that cannot be told apart at the
// current zoom resolution.
package features

import "math"

// MaxGapPixels is the largest on-screen gap, in pixels, that still merges two
// neighbouring features.
const MaxGapPixels = 5

// FillerType is the type tag of collapsed segments.
const FillerType = "filler"

// Spanner is anything with a [start, end) extent.
type Spanner interface {
	Span() (start, end int64)
}

// Filler is a synthetic segment standing in for a run of features.
type Filler struct {
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Type   string `json:"type"`
	Strand string `json:"strand"`
}

func (f Filler) Span() (int64, int64) { return f.Start, f.End }

// Collapse merges segments sorted by start into fillers. scale is pixels per
// coordinate unit: a segment joins the current run when it starts less than
// MaxGapPixels/scale after the run's end. A non-positive or NaN scale merges
// everything into one run.
//
// Unsorted input does not panic but the merge result is unspecified.
func Collapse[T Spanner](segments []T, scale float64, strand string) []Filler {
	collapsed := make([]Filler, 0)
	if len(segments) == 0 {
		return collapsed
	}

	maxGap := math.Inf(1)
	if scale > 0 {
		maxGap = MaxGapPixels / scale
	}

	currStart, currEnd := segments[0].Span()
	for _, s := range segments[1:] {
		start, end := s.Span()
		if float64(start) < float64(currEnd)+maxGap {
			currEnd = max(currEnd, end)
			continue
		}
		collapsed = append(collapsed, Filler{Start: currStart, End: currEnd, Type: FillerType, Strand: strand})
		currStart, currEnd = start, end
	}
	return append(collapsed, Filler{Start: currStart, End: currEnd, Type: FillerType, Strand: strand})
}
