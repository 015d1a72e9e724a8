// Package data defines the tile source abstraction shared by all backends.
package data

import (
	"context"
	"errors"
	"sync"

	"github.com/genotiles/server/internal/tiles"
)

var (
	// ErrSourceUnavailable marks transport or backend failures reaching a source.
	ErrSourceUnavailable = errors.New("tile source unavailable")
	// ErrTileMissing is returned for a tile the source did not return.
	ErrTileMissing = errors.New("tile missing from response")
)

// Source is a tileset backend: metadata plus batched tile retrieval.
//
// Tiles receives tile ids without the tileset uid ("<zoom>.<index>") and
// returns payloads keyed the same way. Malformed ids are skipped, not fatal.
type Source interface {
	UID() string
	TilesetInfo(ctx context.Context) (*tiles.TilesetInfo, error)
	Tiles(ctx context.Context, ids []string) (map[string]*tiles.Payload, error)
}

// Invalidator is implemented by sources whose memoized metadata can be dropped.
type Invalidator interface {
	Invalidate()
}

// InfoLoader memoizes a tileset info load. The first Get starts the load
// detached from its caller's context; concurrent callers share the result and
// cancelling one caller only abandons that caller's wait. Failures are kept
// until Reset.
type InfoLoader struct {
	load func(context.Context) (*tiles.TilesetInfo, error)

	mu   sync.Mutex
	call *infoCall
}

type infoCall struct {
	done chan struct{}
	info *tiles.TilesetInfo
	err  error
}

// NewInfoLoader wraps load.
func NewInfoLoader(load func(context.Context) (*tiles.TilesetInfo, error)) *InfoLoader {
	return &InfoLoader{load: load}
}

// Get returns the memoized info, starting the load on first use.
func (l *InfoLoader) Get(ctx context.Context) (*tiles.TilesetInfo, error) {
	l.mu.Lock()
	c := l.call
	if c == nil {
		c = &infoCall{done: make(chan struct{})}
		l.call = c
		go func() {
			defer close(c.done)
			c.info, c.err = l.load(context.WithoutCancel(ctx))
		}()
	}
	l.mu.Unlock()

	select {
	case <-c.done:
		return c.info, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset drops the memoized result. A load in flight still completes for the
// callers already waiting on it.
func (l *InfoLoader) Reset() {
	l.mu.Lock()
	l.call = nil
	l.mu.Unlock()
}
