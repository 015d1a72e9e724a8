package gff

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/genotiles/server/internal/data"
	"github.com/genotiles/server/internal/features"
	"github.com/genotiles/server/internal/genome"
	"github.com/genotiles/server/internal/tiles"
)

const (
	// TileSize is the nominal pixel width of one annotation tile.
	TileSize = 1024
	// DefaultCapacity is the number of features a tile carries before the
	// rest are collapsed into fillers.
	DefaultCapacity = 20
)

// Config tunes how a document is indexed and tiled.
type Config struct {
	// Genome overrides the chromosome sizes found in the document.
	Genome *genome.Index
	// Types lists the feature types to index. Defaults to gene.
	Types []string
	// NamePaths lists attribute tags tried in order for a feature's name.
	NamePaths []string
	Capacity  int
	// Workers bounds the tiles computed concurrently for one batch.
	Workers int
}

// Source tiles one GFF3 document. The document is read and indexed once, on
// first use.
type Source struct {
	uid    string
	open   func() (io.ReadCloser, error)
	cfg    Config
	info   *data.InfoLoader
	parsed atomic.Pointer[annotations]
}

// New creates a source reading its document through open.
func New(uid string, open func() (io.ReadCloser, error), cfg Config) *Source {
	if len(cfg.Types) == 0 {
		cfg.Types = []string{"gene"}
	}
	if len(cfg.NamePaths) == 0 {
		cfg.NamePaths = []string{"Name", "gene", "ID"}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	s := &Source{uid: uid, open: open, cfg: cfg}
	s.info = data.NewInfoLoader(s.load)
	return s
}

func (s *Source) UID() string { return s.uid }

// TilesetInfo parses the document on first use.
func (s *Source) TilesetInfo(ctx context.Context) (*tiles.TilesetInfo, error) {
	return s.info.Get(ctx)
}

// Invalidate drops the parsed document so the next call reads it again.
func (s *Source) Invalidate() { s.info.Reset() }

// Genome returns the chromosome index of the parsed document.
func (s *Source) Genome(ctx context.Context) (*genome.Index, error) {
	if _, err := s.info.Get(ctx); err != nil {
		return nil, err
	}
	return s.parsed.Load().genome, nil
}

func (s *Source) load(ctx context.Context) (*tiles.TilesetInfo, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrSourceUnavailable, err)
	}
	defer rc.Close()

	a, err := parse(s.uid, rc, s.cfg.Genome, s.cfg.Types, s.cfg.NamePaths)
	if err != nil {
		return nil, err
	}
	s.parsed.Store(a)

	total := a.genome.TotalLength()
	maxZoom := 0
	if total > TileSize {
		maxZoom = int(math.Ceil(math.Log2(float64(total) / TileSize)))
	}
	return &tiles.TilesetInfo{
		Name:     s.uid,
		TileSize: TileSize,
		MaxZoom:  maxZoom,
		MaxWidth: float64(total),
		MinPos:   []float64{0},
		MaxPos:   []float64{float64(total)},
	}, nil
}

// Tiles computes the requested tiles on a bounded worker pool.
func (s *Source) Tiles(ctx context.Context, ids []string) (map[string]*tiles.Payload, error) {
	info, err := s.info.Get(ctx)
	if err != nil {
		return nil, err
	}
	a := s.parsed.Load()

	type job struct {
		key string
		id  tiles.ID
	}
	jobs := make([]job, 0, len(ids))
	for _, key := range ids {
		id, err := tiles.ParseID(key)
		if err == nil && len(id.Pos) != 1 {
			err = fmt.Errorf("%w: %q is not a 1d tile", tiles.ErrMalformedID, key)
		}
		if err != nil {
			log.WithField("tileset", s.uid).Warnf("Skipping tile: %v", err)
			continue
		}
		jobs = append(jobs, job{key: key, id: id})
	}

	results := make([]*tiles.Payload, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = &tiles.Payload{TileID: j.key, Features: s.tile(a, info, j.id)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*tiles.Payload, len(results))
	for _, p := range results {
		out[p.TileID] = p
	}
	return out, nil
}

// tile returns the features of one tile: the Capacity features overlapping
// the tile the most, then the remaining ones collapsed per strand.
func (s *Source) tile(a *annotations, info *tiles.TilesetInfo, id tiles.ID) []tiles.Feature {
	lo, hi := tiles.TileBounds(info, id.Zoom, id.X())
	start, end := int64(math.Floor(lo)), int64(math.Ceil(hi))

	hits := a.query(start, end)
	sort.Slice(hits, func(i, j int) bool {
		oi, oj := overlap(hits[i], start, end), overlap(hits[j], start, end)
		if oi != oj {
			return oi > oj
		}
		if hits[i].Importance != hits[j].Importance {
			return hits[i].Importance > hits[j].Importance
		}
		if hits[i].Start != hits[j].Start {
			return hits[i].Start < hits[j].Start
		}
		return hits[i].UID < hits[j].UID
	})

	n := min(len(hits), s.cfg.Capacity)
	kept, rest := hits[:n], hits[n:]
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	var plus, minus []tiles.Feature
	for _, f := range rest {
		if f.Strand == "+" {
			plus = append(plus, f)
		} else {
			minus = append(minus, f)
		}
	}
	byStart := func(fs []tiles.Feature) []tiles.Feature {
		sort.Slice(fs, func(i, j int) bool { return fs[i].Start < fs[j].Start })
		return fs
	}

	// pixels per coordinate unit of this tile's own span, not a fixed
	// 1024 / 2^(maxZoom-z) factor, so the merge gap tracks MaxWidth
	scale := float64(TileSize) / (hi - lo)

	out := make([]tiles.Feature, 0, len(kept)+2)
	out = append(out, kept...)
	for _, fl := range features.Collapse(byStart(plus), scale, "+") {
		out = append(out, s.filler(id, fl))
	}
	for _, fl := range features.Collapse(byStart(minus), scale, "-") {
		out = append(out, s.filler(id, fl))
	}
	return out
}

func (s *Source) filler(id tiles.ID, fl features.Filler) tiles.Feature {
	key := fmt.Sprintf("%s|%s|%d|%d|%s", s.uid, id, fl.Start, fl.End, fl.Strand)
	return tiles.Feature{
		UID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		Start:  fl.Start,
		End:    fl.End,
		Strand: fl.Strand,
		Type:   fl.Type,
	}
}

func overlap(f tiles.Feature, start, end int64) int64 {
	return min(f.End, end) - max(f.Start, start)
}

var (
	_ data.Source      = (*Source)(nil)
	_ data.Invalidator = (*Source)(nil)
)
