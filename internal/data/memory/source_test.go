package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/genotiles/server/internal/tiles"
)

func TestSource_Tiles(t *testing.T) {
	src := New("m", &tiles.TilesetInfo{Name: "mem", MaxWidth: 100}, map[string]*tiles.Payload{
		"0.0": {Dense: []float32{1, 2}},
		"1.1": {Features: []tiles.Feature{{Start: 1, End: 2, Type: "gene"}}},
	})

	got, err := src.Tiles(context.Background(), []string{"0.0", "1.1", "bogus", "4.2"})
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tiles, got %d", len(got))
	}
	if got["0.0"].TileID != "0.0" {
		t.Fatalf("tile id not echoed: %+v", got["0.0"])
	}

	info, err := src.TilesetInfo(context.Background())
	if err != nil || info.Name != "mem" {
		t.Fatalf("TilesetInfo: %v %v", info, err)
	}
}

func TestSource_CancelledContext(t *testing.T) {
	src := New("m", &tiles.TilesetInfo{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Tiles(ctx, []string{"0.0"}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestLoad(t *testing.T) {
	doc := `{
		"tileset_info": {"name": "doc", "max_width": 1024, "max_zoom": 2, "min_pos": [0], "max_pos": [1024]},
		"tiles": {
			"0.0": [{"start": 3, "end": 9, "type": "gene", "strand": "+", "chrOffset": 0}],
			"x.y": {}
		}
	}`
	src, err := Load("d", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.UID() != "d" {
		t.Fatalf("uid %q", src.UID())
	}
	got, _ := src.Tiles(context.Background(), []string{"0.0"})
	if len(got["0.0"].Features) != 1 {
		t.Fatalf("unexpected tile %+v", got["0.0"])
	}

	if _, err := Load("d", strings.NewReader(`{"tiles": {}}`)); err == nil {
		t.Fatal("expected error without tileset_info")
	}
}
