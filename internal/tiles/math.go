package tiles

import (
	"math"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxVisibleTiles caps the tiles returned by TilesFromResolution.
	MaxVisibleTiles = 20
	// ViewResolution is the pixel width at which one tile fills the view.
	ViewResolution = 384

	epsilon = 1e-7
)

// View is the visible window: a data domain mapped onto Width pixels.
type View struct {
	Start float64
	End   float64
	Width float64
}

func (v View) span() float64 { return v.End - v.Start }

// Resolution returns the bin size at zoom: the explicit resolution for
// resolution-based tilesets, otherwise the zoom-0 extent halved zoom times and
// split into bins_per_dimension bins.
func Resolution(info *TilesetInfo, zoom int) float64 {
	if len(info.Resolutions) > 0 {
		rs := info.sortedResolutions()
		return rs[clampZoom(zoom, len(rs)-1)]
	}
	return info.TotalExtent() / (math.Exp2(float64(zoom)) * float64(info.bins()))
}

// TileWidth returns the coordinate width of one tile at zoom.
func TileWidth(info *TilesetInfo, zoom, binsPerTile int) float64 {
	if len(info.Resolutions) > 0 {
		rs := info.sortedResolutions()
		return rs[clampZoom(zoom, len(rs)-1)] * float64(binsPerTile)
	}
	return info.TotalExtent() / math.Exp2(float64(zoom))
}

// TileBounds returns the [start, end) data range of tile x at zoom.
func TileBounds(info *TilesetInfo, zoom, x int) (start, end float64) {
	w := TileWidth(info, zoom, info.bins())
	start = info.MinX() + float64(x)*w
	return start, start + w
}

// TilesInRange returns the tile indices at zoom (capped at maxZoom) that
// intersect the view, for tilesets whose zoom-0 tile spans maxDim.
func TilesInRange(zoom, maxZoom int, view View, minX, maxDim float64) []int {
	z := clampZoom(zoom, maxZoom)
	tileWidth := maxDim / math.Exp2(float64(z))

	lo := max(0, int(math.Floor((view.Start-minX)/tileWidth)))
	hi := min(1<<min(z, 62), int(math.Ceil((view.End-minX-epsilon)/tileWidth)))
	return indexRange(lo, hi)
}

// TilesFromResolution returns the tile indices intersecting the view for a
// tileset with the given bin size. A zero maxX means unbounded. At most
// MaxVisibleTiles indices are returned.
func TilesFromResolution(resolution float64, view View, minX, maxX float64, pixelsPerTile int) []int {
	if pixelsPerTile <= 0 {
		pixelsPerTile = DefaultBinsPerDimension
	}
	if maxX == 0 {
		maxX = math.MaxFloat64
	}
	tileWidth := resolution * float64(pixelsPerTile)

	lo := max(0, int(math.Floor((view.Start-minX)/tileWidth)))
	hi := int(math.Ceil(math.Min(maxX, view.End-minX-epsilon) / tileWidth))
	tiles := indexRange(lo, hi)
	if len(tiles) > MaxVisibleTiles {
		log.Warnf("Too many visible tiles: %d, truncating to %d", len(tiles), MaxVisibleTiles)
		tiles = tiles[:MaxVisibleTiles]
	}
	return tiles
}

// ZoomLevel returns the zoom level at which tiles of binsPerTile bins (0 for
// the default 256) resolve the view without upscaling.
func ZoomLevel(view View, minX, maxX float64, binsPerTile int) int {
	zoomScale := math.Max((maxX-minX)/view.span(), 1)
	added := max(0, int(math.Ceil(math.Log2(view.Width/ViewResolution))))
	zoom := int(math.Round(math.Log2(zoomScale))) + added

	if binsPerTile > 0 {
		zoom += int(math.Floor(math.Log2(DefaultBinsPerDimension) - math.Log2(float64(binsPerTile))))
	}
	return zoom
}

// ZoomLevelForResolutions returns the index, coarsest first, of the finest
// resolution that still shows less than one bin per pixel. It returns 0 when
// none qualifies.
func ZoomLevelForResolutions(resolutions []float64, view View) int {
	info := TilesetInfo{Resolutions: resolutions}
	zoom := 0
	for i, r := range info.sortedResolutions() {
		if view.span()/r/view.Width < 1 {
			zoom = i
		}
	}
	return zoom
}

// TileAndPosInTile returns the tile holding the absolute position and the bin
// of that position within the tile. maxDim is the zoom-0 extent, used only for
// tilesets without resolutions.
func TileAndPosInTile(info *TilesetInfo, maxDim, dataStart float64, zoom int, pos float64) (tile, bin int) {
	bins := float64(info.bins())

	var tileWidth float64
	if len(info.Resolutions) > 0 {
		tileWidth = Resolution(info, zoom) * bins
	} else {
		tileWidth = maxDim / math.Exp2(float64(zoom))
	}

	rel := pos - dataStart
	t := math.Floor(rel / tileWidth)
	return int(t), int(math.Floor(bins * (rel - t*tileWidth) / tileWidth))
}

// VisibleTiles picks the zoom level for the view and returns the ids of the
// tiles covering it.
func VisibleTiles(info *TilesetInfo, view View) []ID {
	var (
		zoom int
		xs   []int
	)
	if len(info.Resolutions) > 0 {
		zoom = ZoomLevelForResolutions(info.Resolutions, view)
		xs = TilesFromResolution(Resolution(info, zoom), view, info.MinX(), 0, info.bins())
	} else {
		maxX := info.MinX() + info.TotalExtent()
		zoom = clampZoom(ZoomLevel(view, info.MinX(), maxX, info.BinsPerDimension), info.MaxZoom)
		xs = TilesInRange(zoom, info.MaxZoom, view, info.MinX(), info.TotalExtent())
	}

	ids := make([]ID, len(xs))
	for i, x := range xs {
		ids[i] = ID{Zoom: zoom, Pos: []int{x}}
	}
	return ids
}

func indexRange(lo, hi int) []int {
	if hi <= lo {
		return []int{}
	}
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

func clampZoom(zoom, maxZoom int) int {
	return max(0, min(zoom, maxZoom))
}
