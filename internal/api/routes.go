// Package api provides HTTP handlers for the genotiles server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/genotiles/server/internal/cache"
	"github.com/genotiles/server/internal/genome"
	"github.com/genotiles/server/internal/service"
	"github.com/genotiles/server/internal/tiles"
)

// defaultViewWidth is the pixel width assumed when a view request gives none.
const defaultViewWidth = 1024

var errUnknownGenome = errors.New("unknown chromosome sizes")

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *Registry
	Cache       *cache.Manager
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(cfg.Registry, cfg.Cache))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tileset_info/", tilesetInfoHandler(cfg.Registry))
		r.Get("/tiles/", tilesHandler(cfg.Registry, cfg.Cache))
		r.Get("/tilesets/", tilesetsHandler(cfg.Registry))
		r.Get("/chrom-sizes/", chromSizesHandler(cfg.Registry))
		r.Get("/chunks/", chunksHandler(cfg.Registry))
		r.Get("/visible-tiles/", visibleTilesHandler(cfg.Registry))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Failed to encode response: %v", err)
	}
}

// queryIDs returns the distinct values of the repeated "d" parameter.
func queryIDs(r *http.Request) []string {
	values := r.URL.Query()["d"]
	seen := make(map[string]bool, len(values))
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		ids = append(ids, v)
	}
	return ids
}

// tilesetInfoHandler answers {uid: info}; a failed tileset carries an error
// field instead of failing the response.
func tilesetInfoHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]*tiles.TilesetInfo)
		for _, uid := range queryIDs(r) {
			info, err := reg.Scheduler().TilesetInfo(r.Context(), uid)
			if err != nil {
				if r.Context().Err() != nil {
					return
				}
				info = &tiles.TilesetInfo{Error: err.Error()}
			}
			out[uid] = info
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// tilesHandler answers {fullId: payload}. Encoded tiles are served from the
// response cache when present.
func tilesHandler(reg *Registry, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := queryIDs(r)
		out := make(map[string]json.RawMessage, len(ids))

		var missing []string
		for _, full := range ids {
			if data, ok := cm.GetResponse(full); ok {
				out[full] = data
				continue
			}
			missing = append(missing, full)
		}

		if len(missing) > 0 {
			results, err := reg.Scheduler().FetchTiles(r.Context(), missing...)
			if err != nil {
				// client went away
				return
			}
			for full, res := range results {
				data, err := encodeTile(full, res.Tile, res.Err)
				if err != nil {
					log.WithField("tile", full).Errorf("Failed to encode tile: %v", err)
					data, _ = json.Marshal(map[string]string{"error": err.Error()})
				} else if res.Err == nil {
					if err := cm.SetResponse(full, data); err != nil {
						log.WithField("tile", full).Debugf("Response not cached: %v", err)
					}
				}
				out[full] = data
			}
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func encodeTile(full string, p *tiles.Payload, tileErr error) ([]byte, error) {
	if p == nil {
		_, id, _ := tiles.SplitTilesetID(full)
		msg := "tile unavailable"
		if tileErr != nil {
			msg = tileErr.Error()
		}
		p = &tiles.Payload{TileID: id, Error: msg}
	}
	return json.Marshal(p)
}

func tilesetsHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := reg.Tilesets()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":   len(entries),
			"results": entries,
		})
	}
}

// chromSizesHandler writes the chromosome table of a genome as TSV, or as
// {chromNames, chromLengths} JSON with type=json.
func chromSizesHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(w, "missing required query param: id", http.StatusBadRequest)
			return
		}
		idx, err := reg.Genome(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), genomeStatus(err))
			return
		}

		if r.URL.Query().Get("type") == "json" {
			chroms := idx.Chroms()
			names := make([]string, len(chroms))
			lengths := make(map[string]int64, len(chroms))
			for i, c := range chroms {
				names[i] = c.Name
				lengths[c.Name] = c.Length
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"chromNames":   names,
				"chromLengths": lengths,
			})
			return
		}

		w.Header().Set("Content-Type", "text/tab-separated-values")
		if _, err := idx.WriteTo(w); err != nil {
			log.Warnf("Failed to write chrom sizes %s: %v", id, err)
		}
	}
}

// chunksHandler decomposes a genomic range into per-chromosome bin ranges.
func chunksHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := strings.TrimSpace(q.Get("id"))
		if id == "" {
			http.Error(w, "missing required query param: id", http.StatusBadRequest)
			return
		}

		start, err := parsePosition(q.Get("start"))
		if err != nil {
			http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
			return
		}
		end, err := parsePosition(q.Get("end"))
		if err != nil {
			http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
			return
		}
		binSize, err := intParam(q.Get("bin"), 1)
		if err != nil {
			http.Error(w, "invalid bin: "+err.Error(), http.StatusBadRequest)
			return
		}
		capacity, err := intParam(q.Get("capacity"), tiles.DefaultBinsPerDimension)
		if err != nil {
			http.Error(w, "invalid capacity: "+err.Error(), http.StatusBadRequest)
			return
		}

		idx, err := reg.Genome(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), genomeStatus(err))
			return
		}
		chunks, err := idx.Decompose(start, end, binSize, capacity)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     id,
			"start":  start.String(),
			"end":    end.String(),
			"chunks": chunks,
		})
	}
}

// visibleTilesHandler returns the tiles of tileset d covering the genomic view
// [start, end] drawn at width pixels. Coordinates resolve against the genome
// named by the genome parameter, or the tileset's own.
func visibleTilesHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		uid := strings.TrimSpace(q.Get("d"))
		if uid == "" {
			http.Error(w, "missing required query param: d", http.StatusBadRequest)
			return
		}
		genomeID := strings.TrimSpace(q.Get("genome"))
		if genomeID == "" {
			genomeID = uid
		}

		start, err := parsePosition(q.Get("start"))
		if err != nil {
			http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
			return
		}
		end, err := parsePosition(q.Get("end"))
		if err != nil {
			http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
			return
		}
		width, err := intParam(q.Get("width"), defaultViewWidth)
		if err != nil || width <= 0 {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}

		idx, err := reg.Genome(r.Context(), genomeID)
		if err != nil {
			http.Error(w, err.Error(), genomeStatus(err))
			return
		}
		absStart, err := idx.ToAbsolute(start)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		absEnd, err := idx.ToAbsolute(end)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if absEnd <= absStart {
			http.Error(w, "end must lie after start", http.StatusBadRequest)
			return
		}

		info, err := reg.Scheduler().TilesetInfo(r.Context(), uid)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, service.ErrUnknownTileset) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		view := tiles.View{Start: float64(absStart), End: float64(absEnd), Width: float64(width)}
		ids := tiles.VisibleTiles(info, view)
		zoom := 0
		full := make([]string, len(ids))
		for i, id := range ids {
			zoom = id.Zoom
			full[i] = tiles.JoinTilesetID(uid, id.String())
		}
		tile, bin := tiles.TileAndPosInTile(info, info.TotalExtent(), info.MinX(), zoom, view.Start)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tileset":    uid,
			"zoom":       zoom,
			"start":      absStart,
			"end":        absEnd,
			"tiles":      full,
			"start_tile": tile,
			"start_bin":  bin,
		})
	}
}

// requestCounter is implemented by sources that call an upstream server.
type requestCounter interface {
	Requests() int
}

func healthHandler(reg *Registry, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources := reg.Scheduler().Sources()
		upstream := make(map[string]int)
		for _, src := range sources {
			if rc, ok := src.(requestCounter); ok {
				upstream[src.UID()] = rc.Requests()
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"tilesets":          len(sources),
			"genomes":           reg.GenomeIDs(),
			"fetches":           reg.Scheduler().Fetches(),
			"upstream_requests": upstream,
			"cache":             cm.Stats(),
		})
	}
}

// parsePosition parses "chrom:offset". The last colon separates the offset so
// that chromosome names may contain colons.
func parsePosition(s string) (genome.Position, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return genome.Position{}, fmt.Errorf("expected chrom:pos, got %q", s)
	}
	off, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return genome.Position{}, fmt.Errorf("bad offset in %q", s)
	}
	return genome.Position{Chrom: s[:i], Offset: off}, nil
}

func intParam(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func genomeStatus(err error) int {
	if errors.Is(err, errUnknownGenome) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
