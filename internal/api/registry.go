package api

import (
	"context"
	"fmt"
	"sort"

	"github.com/genotiles/server/internal/genome"
	"github.com/genotiles/server/internal/service"
)

// TilesetEntry describes a tileset for the listing endpoint.
type TilesetEntry struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Datatype string `json:"datatype"`
}

// genomeSource is implemented by sources that derive their own chromosome index.
type genomeSource interface {
	Genome(ctx context.Context) (*genome.Index, error)
}

// Registry holds the scheduler and the chromosome indexes the server exposes.
type Registry struct {
	scheduler *service.Scheduler
	genomes   map[string]*genome.Index
	entries   map[string]TilesetEntry
}

// NewRegistry creates a new registry.
func NewRegistry(scheduler *service.Scheduler, genomes map[string]*genome.Index) *Registry {
	if genomes == nil {
		genomes = make(map[string]*genome.Index)
	}
	return &Registry{
		scheduler: scheduler,
		genomes:   genomes,
		entries:   make(map[string]TilesetEntry),
	}
}

// Scheduler returns the tile scheduler.
func (r *Registry) Scheduler() *service.Scheduler { return r.scheduler }

// Describe sets the listing entry of a registered tileset.
func (r *Registry) Describe(uid, name, datatype string) {
	if name == "" {
		name = uid
	}
	r.entries[uid] = TilesetEntry{UUID: uid, Name: name, Datatype: datatype}
}

// Tilesets returns an entry for every registered source, ordered by uid.
func (r *Registry) Tilesets() []TilesetEntry {
	sources := r.scheduler.Sources()
	out := make([]TilesetEntry, 0, len(sources))
	for _, src := range sources {
		e, ok := r.entries[src.UID()]
		if !ok {
			e = TilesetEntry{UUID: src.UID(), Name: src.UID()}
		}
		out = append(out, e)
	}
	return out
}

// Genome resolves id to a chromosome index: a configured chrom-sizes name
// first, then a tileset that derives its own.
func (r *Registry) Genome(ctx context.Context, id string) (*genome.Index, error) {
	if idx, ok := r.genomes[id]; ok {
		return idx, nil
	}
	if src, ok := r.scheduler.Source(id); ok {
		if gs, ok := src.(genomeSource); ok {
			return gs.Genome(ctx)
		}
	}
	return nil, fmt.Errorf("%w: %s", errUnknownGenome, id)
}

// GenomeIDs returns the configured chrom-sizes names.
func (r *Registry) GenomeIDs() []string {
	ids := make([]string, 0, len(r.genomes))
	for id := range r.genomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
