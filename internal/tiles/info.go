package tiles

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultBinsPerDimension is the bin count of a tile when the tileset does not
// say otherwise.
const DefaultBinsPerDimension = 256

// ErrInvalidInfo is returned by Validate for unusable tileset metadata.
var ErrInvalidInfo = errors.New("invalid tileset info")

// TilesetInfo is the metadata record of a tileset, in the HiGlass wire layout.
// Either the legacy form (max_width / max_pos) or explicit resolutions is set.
type TilesetInfo struct {
	Name             string    `json:"name,omitempty"`
	MinPos           []float64 `json:"min_pos,omitempty"`
	MaxPos           []float64 `json:"max_pos,omitempty"`
	MaxWidth         float64   `json:"max_width,omitempty"`
	MaxZoom          int       `json:"max_zoom"`
	Resolutions      []float64 `json:"resolutions,omitempty"`
	BinsPerDimension int       `json:"bins_per_dimension,omitempty"`
	TileSize         int       `json:"tile_size,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Err returns the error carried by the record, if any.
func (i *TilesetInfo) Err() error {
	if i.Error == "" {
		return nil
	}
	return errors.New(i.Error)
}

// Validate checks that the record can drive tile math.
func (i *TilesetInfo) Validate() error {
	if err := i.Err(); err != nil {
		return err
	}
	if i.MaxZoom < 0 {
		return fmt.Errorf("%w: max_zoom %d", ErrInvalidInfo, i.MaxZoom)
	}
	if len(i.Resolutions) == 0 && i.MaxWidth <= 0 && len(i.MaxPos) == 0 {
		return fmt.Errorf("%w: needs max_width, max_pos or resolutions", ErrInvalidInfo)
	}
	return nil
}

// MinX returns the start of the data along the first axis.
func (i *TilesetInfo) MinX() float64 {
	if len(i.MinPos) > 0 {
		return i.MinPos[0]
	}
	return 0
}

// TotalExtent returns the width of the tileset at zoom 0.
func (i *TilesetInfo) TotalExtent() float64 {
	switch {
	case i.MaxWidth > 0:
		return i.MaxWidth
	case len(i.MaxPos) > 0:
		return i.MaxPos[0] - i.MinX()
	case len(i.Resolutions) > 0:
		return i.sortedResolutions()[0] * float64(i.bins())
	}
	return 0
}

// BinSize returns the coordinate width of one bin at zoom.
func (i *TilesetInfo) BinSize(zoom int) float64 {
	return Resolution(i, zoom)
}

func (i *TilesetInfo) bins() int {
	if i.BinsPerDimension > 0 {
		return i.BinsPerDimension
	}
	return DefaultBinsPerDimension
}

// sortedResolutions returns the resolutions coarsest first, so index z is the
// bin size at zoom z.
func (i *TilesetInfo) sortedResolutions() []float64 {
	rs := append([]float64(nil), i.Resolutions...)
	sort.Sort(sort.Reverse(sort.Float64Slice(rs)))
	return rs
}
