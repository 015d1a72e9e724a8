// Package service schedules, batches and caches tile fetches across sources.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/genotiles/server/internal/cache"
	"github.com/genotiles/server/internal/data"
	"github.com/genotiles/server/internal/tiles"
)

// DefaultWindow is how long new tile keys wait to be batched with others.
const DefaultWindow = 100 * time.Millisecond

var (
	// ErrUnknownTileset is returned for a uid no source is registered under.
	ErrUnknownTileset = errors.New("unknown tileset")
	// ErrTilesetErrored is returned for tilesets whose metadata failed to load.
	ErrTilesetErrored = errors.New("tileset errored")
)

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	Cache *cache.Manager
	// Window is the batching window. Defaults to DefaultWindow.
	Window time.Duration
	// MaxBatch flushes a batch early once it holds this many keys. Zero means
	// no limit.
	MaxBatch int
}

// TileResult is the outcome of one tile: a payload or the error that replaced it.
type TileResult struct {
	Tile *tiles.Payload
	Err  error
}

// Tiles maps full tile ids ("<uid>.<zoom>.<index>") to their outcome.
type Tiles map[string]TileResult

// Scheduler deduplicates, batches and caches tile fetches. At most one fetch
// is in flight per tile key; keys requested within one window are fetched
// with one call per source.
type Scheduler struct {
	cache    *cache.Manager
	window   time.Duration
	maxBatch int

	mu      sync.Mutex
	sources map[string]data.Source
	pending map[string]*entry
	queues  map[string]*queue
	errored map[string]error

	infoGroup singleflight.Group
	fetches   atomic.Int64
}

type entry struct {
	done   chan struct{}
	result TileResult
}

type queue struct {
	src  data.Source
	keys []string
}

// NewScheduler creates a scheduler with no sources.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scheduler{
		cache:    cfg.Cache,
		window:   window,
		maxBatch: cfg.MaxBatch,
		sources:  make(map[string]data.Source),
		pending:  make(map[string]*entry),
		queues:   make(map[string]*queue),
		errored:  make(map[string]error),
	}
}

// Register adds a source under its uid.
func (s *Scheduler) Register(src data.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := src.UID()
	if _, dup := s.sources[uid]; dup {
		return fmt.Errorf("tileset %q registered twice", uid)
	}
	s.sources[uid] = src
	return nil
}

// Source returns the source registered under uid.
func (s *Scheduler) Source(uid string) (data.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[uid]
	return src, ok
}

// Sources returns the registered sources ordered by uid.
func (s *Scheduler) Sources() []data.Source {
	s.mu.Lock()
	out := make([]data.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out
}

// Fetches returns the number of batched source calls issued so far.
func (s *Scheduler) Fetches() int64 { return s.fetches.Load() }

// TilesetInfo returns the metadata of uid. Concurrent calls share one fetch
// and the result, including a failure, is cached. A failure marks the
// tileset errored until InvalidateTileset.
func (s *Scheduler) TilesetInfo(ctx context.Context, uid string) (*tiles.TilesetInfo, error) {
	s.mu.Lock()
	src, ok := s.sources[uid]
	errored := s.errored[uid]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTileset, uid)
	}
	if errored != nil {
		return nil, errored
	}
	if e, ok := s.cache.GetInfo(uid); ok {
		if e.Err != nil {
			return nil, e.Err
		}
		return e.Info, nil
	}

	ch := s.infoGroup.DoChan(uid, func() (interface{}, error) {
		info, err := src.TilesetInfo(context.Background())
		switch {
		case err != nil:
		case info == nil:
			err = errors.New("empty tileset info")
		default:
			err = info.Validate()
		}
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrTilesetErrored, uid, err)
			log.WithField("tileset", uid).Errorf("Tileset info failed: %v", err)

			s.mu.Lock()
			s.errored[uid] = err
			s.mu.Unlock()
		}
		s.cache.SetInfo(uid, cache.InfoEntry{Info: info, Err: err})
		return info, err
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*tiles.TilesetInfo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request registers interest in full tile ids and returns immediately.
// Cached keys resolve at once, pending keys attach to the fetch in flight and
// new keys are queued for the next batch of their source.
func (s *Scheduler) Request(ids ...string) *Pending {
	p := &Pending{
		resolved: make(Tiles),
		entries:  make(map[string]*entry),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	for _, full := range ids {
		if _, ok := p.resolved[full]; ok {
			continue
		}
		if _, ok := p.entries[full]; ok {
			continue
		}

		uid, _, err := tiles.SplitTilesetID(full)
		if err != nil {
			log.Warnf("Skipping tile: %v", err)
			p.resolved[full] = TileResult{Err: err}
			continue
		}
		src, ok := s.sources[uid]
		if !ok {
			p.resolved[full] = TileResult{Err: fmt.Errorf("%w: %s", ErrUnknownTileset, uid)}
			continue
		}
		if err := s.errored[uid]; err != nil {
			p.resolved[full] = TileResult{Err: err}
			continue
		}
		if e, ok := s.cache.GetTile(full); ok {
			p.resolved[full] = TileResult{Tile: e.Tile, Err: e.Err}
			continue
		}
		if e, ok := s.pending[full]; ok {
			p.entries[full] = e
			continue
		}

		e := &entry{done: make(chan struct{})}
		s.pending[full] = e
		p.entries[full] = e
		s.enqueueLocked(uid, src, full)
	}
	s.mu.Unlock()

	go p.watch()
	return p
}

// FetchTiles requests ids and waits for all of them.
func (s *Scheduler) FetchTiles(ctx context.Context, ids ...string) (Tiles, error) {
	return s.Request(ids...).Wait(ctx)
}

// Invalidate returns a resolved or failed tile to absent. A fetch in flight
// for the key is not interrupted and still caches its result.
func (s *Scheduler) Invalidate(full string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.InvalidateTile(full)
}

// InvalidateTileset forgets the metadata, the errored mark and every cached
// tile of uid.
func (s *Scheduler) InvalidateTileset(uid string) {
	s.mu.Lock()
	src := s.sources[uid]
	delete(s.errored, uid)
	s.cache.InvalidateTileset(uid)
	s.mu.Unlock()

	s.infoGroup.Forget(uid)
	if inv, ok := src.(data.Invalidator); ok {
		inv.Invalidate()
	}
	log.WithField("tileset", uid).Info("Tileset invalidated")
}

func (s *Scheduler) enqueueLocked(uid string, src data.Source, full string) {
	q, ok := s.queues[uid]
	if !ok {
		q = &queue{src: src}
		s.queues[uid] = q
		time.AfterFunc(s.window, func() { s.flush(uid, q) })
	}
	q.keys = append(q.keys, full)

	if s.maxBatch > 0 && len(q.keys) >= s.maxBatch {
		delete(s.queues, uid)
		go s.fetch(uid, q)
	}
}

func (s *Scheduler) flush(uid string, q *queue) {
	s.mu.Lock()
	if s.queues[uid] != q {
		// already flushed early
		s.mu.Unlock()
		return
	}
	delete(s.queues, uid)
	s.mu.Unlock()

	s.fetch(uid, q)
}

// fetch resolves one batch. It runs detached from every caller so that
// abandoned waits still populate the cache.
func (s *Scheduler) fetch(uid string, q *queue) {
	ids := make([]string, len(q.keys))
	for i, full := range q.keys {
		_, ids[i], _ = tiles.SplitTilesetID(full)
	}

	logger := log.WithFields(log.Fields{"tileset": uid, "tiles": len(ids)})
	logger.Debug("Fetching tile batch")

	s.fetches.Add(1)
	start := time.Now()
	payloads, err := q.src.Tiles(context.Background(), ids)
	if err != nil {
		if !errors.Is(err, data.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %s: %w", data.ErrSourceUnavailable, uid, err)
		}
		logger.Warnf("Tile batch failed: %v", err)
	} else {
		logger.WithField("elapsed", time.Since(start)).Debug("Tile batch done")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, full := range q.keys {
		var r TileResult
		switch p, ok := payloads[ids[i]]; {
		case err != nil:
			r.Err = err
		case !ok || p == nil:
			r.Err = fmt.Errorf("%w: %s", data.ErrTileMissing, full)
		case p.Error != "":
			r = TileResult{Tile: p, Err: p.Err()}
		default:
			r.Tile = p
		}

		// source outages are not cached so that a later request retries
		if err == nil {
			s.cache.SetTile(full, cache.TileEntry{Tile: r.Tile, Err: r.Err})
		}
		if e, ok := s.pending[full]; ok {
			delete(s.pending, full)
			e.result = r
			close(e.done)
		}
	}
}

// Pending is the result of a Request still being fetched.
type Pending struct {
	resolved Tiles
	entries  map[string]*entry
	done     chan struct{}
}

func (p *Pending) watch() {
	for _, e := range p.entries {
		<-e.done
	}
	close(p.done)
}

// Done is closed once every requested tile has an outcome.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until every requested tile has an outcome or ctx ends.
// Cancelling ctx abandons the wait only; the fetches still complete and are
// cached.
func (p *Pending) Wait(ctx context.Context) (Tiles, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make(Tiles, len(p.resolved)+len(p.entries))
	for k, r := range p.resolved {
		out[k] = r
	}
	for k, e := range p.entries {
		out[k] = e.result
	}
	return out, nil
}
