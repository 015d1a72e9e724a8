// Package memory serves tiles held in memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/genotiles/server/internal/data"
	"github.com/genotiles/server/internal/tiles"
)

// Source resolves tiles from a map supplied at construction.
type Source struct {
	uid   string
	info  *tiles.TilesetInfo
	tiles map[string]*tiles.Payload
}

// New creates a source. Payloads are keyed by tile id ("<zoom>.<index>").
func New(uid string, info *tiles.TilesetInfo, payloads map[string]*tiles.Payload) *Source {
	m := make(map[string]*tiles.Payload, len(payloads))
	for id, p := range payloads {
		if p.TileID == "" {
			p.TileID = id
		}
		m[id] = p
	}
	return &Source{uid: uid, info: info, tiles: m}
}

// document is the on-disk layout read by Load.
type document struct {
	TilesetInfo *tiles.TilesetInfo         `json:"tileset_info"`
	Tiles       map[string]json.RawMessage `json:"tiles"`
}

// Load reads a JSON document {"tileset_info": {...}, "tiles": {"0.0": ...}}.
func Load(uid string, r io.Reader) (*Source, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode tileset %s: %w", uid, err)
	}
	if doc.TilesetInfo == nil {
		return nil, fmt.Errorf("tileset %s: missing tileset_info", uid)
	}

	payloads := make(map[string]*tiles.Payload, len(doc.Tiles))
	for id, raw := range doc.Tiles {
		if _, err := tiles.ParseID(id); err != nil {
			log.WithField("tileset", uid).Warnf("Skipping tile: %v", err)
			continue
		}
		p := &tiles.Payload{TileID: id}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("tileset %s tile %s: %w", uid, id, err)
		}
		payloads[id] = p
	}
	return New(uid, doc.TilesetInfo, payloads), nil
}

func (s *Source) UID() string { return s.uid }

func (s *Source) TilesetInfo(ctx context.Context) (*tiles.TilesetInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.info, nil
}

// Tiles returns the stored payloads. Ids without a payload are left out of
// the result.
func (s *Source) Tiles(ctx context.Context, ids []string) (map[string]*tiles.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]*tiles.Payload, len(ids))
	for _, id := range ids {
		if _, err := tiles.ParseID(id); err != nil {
			log.WithField("tileset", s.uid).Warnf("Skipping tile: %v", err)
			continue
		}
		if p, ok := s.tiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var _ data.Source = (*Source)(nil)
