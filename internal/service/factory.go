package service

import (
	"fmt"
	"io"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/genotiles/server/internal/config"
	"github.com/genotiles/server/internal/data"
	"github.com/genotiles/server/internal/data/gff"
	"github.com/genotiles/server/internal/data/memory"
	"github.com/genotiles/server/internal/data/remote"
	"github.com/genotiles/server/internal/genome"
)

// LoadGenomes reads every named chromosome sizes file.
func LoadGenomes(paths map[string]string) (map[string]*genome.Index, error) {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	genomes := make(map[string]*genome.Index, len(paths))
	for _, name := range names {
		idx, err := data.ReadChromSizes(paths[name])
		if err != nil {
			return nil, fmt.Errorf("failed to load chromsizes %s: %w", name, err)
		}
		log.WithFields(log.Fields{
			"chromsizes": name,
			"chroms":     idx.Len(),
			"length":     idx.TotalLength(),
		}).Info("Loaded chromosome sizes")
		genomes[name] = idx
	}
	return genomes, nil
}

// OpenSource builds the source a tileset declaration describes. The type is
// resolved here once; nothing downstream switches on it again.
func OpenSource(ts config.TilesetConfig, genomes map[string]*genome.Index, fetch config.FetchConfig) (data.Source, error) {
	switch ts.Type {
	case config.TypeRemote:
		return remote.New(ts.UID, remote.Config{
			Server:     ts.Server,
			TilesetUID: ts.RemoteUID,
			AuthHeader: ts.AuthHeader,
			Timeout:    fetch.Timeout(),
		}), nil

	case config.TypeMemory:
		rc, err := data.Open(ts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open tileset %s: %w", ts.UID, err)
		}
		defer rc.Close()
		return memory.Load(ts.UID, rc)

	case config.TypeGFF:
		var idx *genome.Index
		if ts.ChromSizes != "" {
			var ok bool
			if idx, ok = genomes[ts.ChromSizes]; !ok {
				return nil, fmt.Errorf("tileset %s: unknown chromsizes %q", ts.UID, ts.ChromSizes)
			}
		}
		path := ts.Path
		open := func() (io.ReadCloser, error) { return data.Open(path) }
		return gff.New(ts.UID, open, gff.Config{
			Genome:    idx,
			Types:     ts.Types,
			NamePaths: ts.NamePaths,
			Capacity:  ts.Capacity,
			Workers:   fetch.Workers,
		}), nil
	}
	return nil, fmt.Errorf("tileset %s: unknown type %q", ts.UID, ts.Type)
}

// Build registers a source for every configured tileset. A tileset that
// cannot be opened is logged and skipped so that the others still serve.
func Build(cfg *config.Config, s *Scheduler) (map[string]*genome.Index, error) {
	genomes, err := LoadGenomes(cfg.ChromSizes)
	if err != nil {
		return nil, err
	}

	for _, ts := range cfg.Tilesets {
		src, err := OpenSource(ts, genomes, cfg.Fetch)
		if err != nil {
			log.WithField("tileset", ts.UID).Errorf("Failed to open tileset: %v", err)
			continue
		}
		if err := s.Register(src); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"tileset": ts.UID, "type": ts.Type}).Info("Registered tileset")
	}
	return genomes, nil
}
