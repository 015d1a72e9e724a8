// Package cache holds resolved tiles, tileset metadata and encoded tile responses.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/genotiles/server/internal/tiles"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSize       int
	InfoCacheSize       int
	ResponseCacheSizeMB int
	ResponseTTL         time.Duration
}

// TileEntry is the terminal state of a tile: a payload or the failure that
// replaced it.
type TileEntry struct {
	Tile *tiles.Payload
	Err  error
}

// InfoEntry is the terminal state of a tileset info fetch.
type InfoEntry struct {
	Info *tiles.TilesetInfo
	Err  error
}

// Manager owns every cache of the process. It is safe for concurrent use.
type Manager struct {
	tileCache     *lru.Cache[string, TileEntry]
	infoCache     *lru.Cache[string, InfoEntry]
	responseCache *bigcache.BigCache
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCache, err := lru.New[string, TileEntry](cfg.TileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	infoCache, err := lru.New[string, InfoEntry](cfg.InfoCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tileset info cache: %w", err)
	}

	responseConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.ResponseTTL,
		CleanWindow:        cfg.ResponseTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       64 * 1024,
		HardMaxCacheSize:   cfg.ResponseCacheSizeMB,
		Verbose:            false,
	}
	responseCache, err := bigcache.New(context.Background(), responseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	return &Manager{
		tileCache:     tileCache,
		infoCache:     infoCache,
		responseCache: responseCache,
	}, nil
}

// GetTile returns the terminal entry of a full tile id.
func (m *Manager) GetTile(key string) (TileEntry, bool) {
	return m.tileCache.Get(key)
}

// SetTile stores the terminal entry of a full tile id.
func (m *Manager) SetTile(key string, e TileEntry) {
	m.tileCache.Add(key, e)
}

// GetInfo returns the cached tileset info of uid.
func (m *Manager) GetInfo(uid string) (InfoEntry, bool) {
	return m.infoCache.Get(uid)
}

// SetInfo caches the tileset info of uid.
func (m *Manager) SetInfo(uid string, e InfoEntry) {
	m.infoCache.Add(uid, e)
}

// GetResponse returns the encoded response of a full tile id.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	data, err := m.responseCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetResponse stores the encoded response of a full tile id.
func (m *Manager) SetResponse(key string, data []byte) error {
	return m.responseCache.Set(key, data)
}

// InvalidateTile drops everything cached for one full tile id.
func (m *Manager) InvalidateTile(key string) {
	m.tileCache.Remove(key)
	m.responseCache.Delete(key)
}

// InvalidateTileset drops the info and every tile of uid.
func (m *Manager) InvalidateTileset(uid string) {
	prefix := uid + "."
	m.infoCache.Remove(uid)
	for _, k := range m.tileCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.tileCache.Remove(k)
		}
	}

	var stale []string
	it := m.responseCache.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(e.Key(), prefix) {
			stale = append(stale, e.Key())
		}
	}
	for _, k := range stale {
		m.responseCache.Delete(k)
	}
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":     m.tileCache.Len(),
		"info_cache_len":     m.infoCache.Len(),
		"response_cache_len": m.responseCache.Len(),
		"response_cache_cap": m.responseCache.Capacity(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.responseCache.Close()
}
