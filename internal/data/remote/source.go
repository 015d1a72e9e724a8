// Package remote fetches tiles from a HiGlass-compatible tile server.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/genotiles/server/internal/data"
	"github.com/genotiles/server/internal/tiles"
)

// MaxFetchTiles bounds the tile ids sent in one request so URLs stay short.
const MaxFetchTiles = 15

// Config describes where a remote tileset lives.
type Config struct {
	// Server is the API base, e.g. "https://higlass.io/api/v1".
	Server string
	// TilesetUID is the uid on the remote server. Defaults to the local uid.
	TilesetUID string
	// AuthHeader is sent verbatim as the Authorization header when set.
	AuthHeader string
	Timeout    time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Source proxies one remote tileset.
type Source struct {
	uid     string
	remote  string
	server  string
	auth    string
	session string
	client  *http.Client
	info    *data.InfoLoader

	mu       sync.Mutex
	requests int
}

// New creates a remote source registered locally as uid.
func New(uid string, cfg Config) *Source {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	remote := cfg.TilesetUID
	if remote == "" {
		remote = uid
	}

	s := &Source{
		uid:     uid,
		remote:  remote,
		server:  strings.TrimRight(cfg.Server, "/"),
		auth:    cfg.AuthHeader,
		session: uuid.NewString(),
		client:  client,
	}
	s.info = data.NewInfoLoader(s.fetchInfo)
	return s
}

func (s *Source) UID() string { return s.uid }

// TilesetInfo returns the memoized remote metadata.
func (s *Source) TilesetInfo(ctx context.Context) (*tiles.TilesetInfo, error) {
	return s.info.Get(ctx)
}

// Invalidate forgets the memoized metadata.
func (s *Source) Invalidate() { s.info.Reset() }

// Requests returns the number of HTTP requests issued so far.
func (s *Source) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Source) fetchInfo(ctx context.Context) (*tiles.TilesetInfo, error) {
	q := url.Values{}
	q.Set("d", s.remote)
	q.Set("s", s.session)

	body, err := s.get(ctx, s.server+"/tileset_info/?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp map[string]*tiles.TilesetInfo
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tileset info for %s: %w", s.remote, err)
	}
	info, ok := resp[s.remote]
	if !ok || info == nil {
		return nil, fmt.Errorf("%w: no tileset info for %s", data.ErrSourceUnavailable, s.remote)
	}
	return info, nil
}

// Tiles fetches the ids in requests of at most MaxFetchTiles, concurrently.
// Any failed request fails the whole call.
func (s *Source) Tiles(ctx context.Context, ids []string) (map[string]*tiles.Payload, error) {
	valid := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, err := tiles.ParseID(id); err != nil {
			log.WithField("tileset", s.uid).Warnf("Skipping tile: %v", err)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}

	var (
		mu  sync.Mutex
		out = make(map[string]*tiles.Payload, len(valid))
	)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(valid); start += MaxFetchTiles {
		batch := valid[start:min(start+MaxFetchTiles, len(valid))]
		g.Go(func() error {
			got, err := s.fetchTiles(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for id, p := range got {
				out[id] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) fetchTiles(ctx context.Context, ids []string) (map[string]*tiles.Payload, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("d", tiles.JoinTilesetID(s.remote, id))
	}
	q.Set("s", s.session)

	body, err := s.get(ctx, s.server+"/tiles/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	resp, err := tiles.DecodeResponse(body)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*tiles.Payload, len(resp))
	for full, p := range resp {
		uid, id, err := tiles.SplitTilesetID(full)
		if err != nil || uid != s.remote {
			log.WithField("tileset", s.uid).Warnf("Ignoring unexpected tile %q in response", full)
			continue
		}
		p.TileID = id
		out[id] = p
	}
	return out, nil
}

func (s *Source) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if s.auth != "" {
		req.Header.Set("Authorization", s.auth)
	}

	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrSourceUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", data.ErrSourceUnavailable, s.server, resp.Status)
	}
	return body, nil
}

var (
	_ data.Source      = (*Source)(nil)
	_ data.Invalidator = (*Source)(nil)
)
