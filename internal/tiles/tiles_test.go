package tiles

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("3.5")
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id.Zoom != 3 || id.X() != 5 || len(id.Pos) != 1 {
		t.Fatalf("unexpected id %+v", id)
	}
	if id.String() != "3.5" {
		t.Fatalf("String() = %q", id.String())
	}

	id2, err := ParseID("2.1.3")
	if err != nil {
		t.Fatalf("ParseID 2d: %v", err)
	}
	if !reflect.DeepEqual(id2.Pos, []int{1, 3}) {
		t.Fatalf("unexpected 2d pos %v", id2.Pos)
	}

	for _, bad := range []string{"", "1", "a.1", "1.b", "1.2.3.4", "1.-2", "1..2"} {
		if _, err := ParseID(bad); !errors.Is(err, ErrMalformedID) {
			t.Errorf("ParseID(%q): expected ErrMalformedID, got %v", bad, err)
		}
	}
}

func TestSplitTilesetID(t *testing.T) {
	uid, tid, err := SplitTilesetID("abc.3.5")
	if err != nil {
		t.Fatalf("SplitTilesetID: %v", err)
	}
	if uid != "abc" || tid != "3.5" {
		t.Fatalf("got %q %q", uid, tid)
	}
	if JoinTilesetID(uid, tid) != "abc.3.5" {
		t.Fatal("join did not invert split")
	}

	for _, bad := range []string{"abc", ".1.2", "abc.x.1"} {
		if _, _, err := SplitTilesetID(bad); !errors.Is(err, ErrMalformedID) {
			t.Errorf("SplitTilesetID(%q): expected ErrMalformedID, got %v", bad, err)
		}
	}
}

func TestTilesetInfo_Forms(t *testing.T) {
	legacy := &TilesetInfo{MaxWidth: 1024, MinPos: []float64{0}, MaxPos: []float64{1024}, MaxZoom: 2}
	if err := legacy.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if legacy.TotalExtent() != 1024 {
		t.Fatalf("TotalExtent = %v", legacy.TotalExtent())
	}
	if got := legacy.BinSize(2); got != 1 {
		t.Fatalf("BinSize(2) = %v, want 1", got)
	}

	res := &TilesetInfo{Resolutions: []float64{10, 1000, 100}}
	if got := Resolution(res, 1); got != 100 {
		t.Fatalf("Resolution(1) = %v, want 100", got)
	}
	if got := TileWidth(res, 2, 256); got != 2560 {
		t.Fatalf("TileWidth = %v", got)
	}

	if err := (&TilesetInfo{}).Validate(); !errors.Is(err, ErrInvalidInfo) {
		t.Fatalf("expected ErrInvalidInfo, got %v", err)
	}
	if err := (&TilesetInfo{Error: "gone"}).Validate(); err == nil || err.Error() != "gone" {
		t.Fatalf("expected carried error, got %v", err)
	}
}

func TestTileBounds(t *testing.T) {
	info := &TilesetInfo{MaxWidth: 1024, MinPos: []float64{0}, MaxPos: []float64{1024}}
	start, end := TileBounds(info, 1, 1)
	if start != 512 || end != 1024 {
		t.Fatalf("TileBounds = [%v, %v)", start, end)
	}
}

func TestTilesInRange(t *testing.T) {
	for _, c := range []struct {
		name string
		view View
		want []int
	}{
		{"inner", View{Start: 300, End: 700}, []int{1, 2}},
		{"exactEnd", View{Start: 0, End: 1024}, []int{0, 1, 2, 3}},
		{"pastEnd", View{Start: -50, End: 5000}, []int{0, 1, 2, 3}},
		{"outside", View{Start: 2000, End: 3000}, []int{}},
	} {
		t.Run(c.name, func(t *testing.T) {
			got := TilesInRange(2, 10, c.view, 0, 1024)
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %v want %v", got, c.want)
			}
		})
	}

	// zoom is capped at maxZoom
	if got := TilesInRange(5, 1, View{Start: 0, End: 1024}, 0, 1024); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("capped zoom: got %v", got)
	}
}

func TestTilesFromResolution_Truncates(t *testing.T) {
	got := TilesFromResolution(1, View{Start: 0, End: 100000}, 0, 0, 256)
	if len(got) != MaxVisibleTiles {
		t.Fatalf("expected %d tiles, got %d", MaxVisibleTiles, len(got))
	}
	if got[0] != 0 || got[len(got)-1] != MaxVisibleTiles-1 {
		t.Fatalf("unexpected tiles %v", got)
	}

	got = TilesFromResolution(1, View{Start: 300, End: 600}, 0, 0, 256)
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("got %v", got)
	}
}

func TestZoomLevel(t *testing.T) {
	for _, c := range []struct {
		name        string
		view        View
		binsPerTile int
		want        int
	}{
		{"base", View{Start: 0, End: 1000, Width: 384}, 0, 3},
		{"wideView", View{Start: 0, End: 1000, Width: 768}, 0, 4},
		{"bigTiles", View{Start: 0, End: 1000, Width: 384}, 1024, 1},
		{"zoomedOut", View{Start: 0, End: 100000, Width: 200}, 0, 0},
	} {
		t.Run(c.name, func(t *testing.T) {
			if got := ZoomLevel(c.view, 0, 8000, c.binsPerTile); got != c.want {
				t.Fatalf("ZoomLevel = %d, want %d", got, c.want)
			}
		})
	}
}

func TestZoomLevelForResolutions(t *testing.T) {
	view := View{Start: 0, End: 10000, Width: 500}
	if got := ZoomLevelForResolutions([]float64{10, 1000, 100}, view); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got := ZoomLevelForResolutions([]float64{1}, view); got != 0 {
		t.Fatalf("no displayable resolution: got %d, want 0", got)
	}
}

func TestTileAndPosInTile(t *testing.T) {
	info := &TilesetInfo{MaxWidth: 1024}
	tile, bin := TileAndPosInTile(info, 1024, 0, 2, 300)
	if tile != 1 || bin != 44 {
		t.Fatalf("got tile %d bin %d", tile, bin)
	}

	res := &TilesetInfo{Resolutions: []float64{4, 1}, BinsPerDimension: 256}
	tile, bin = TileAndPosInTile(res, 0, 0, 1, 600)
	if tile != 2 || bin != 88 {
		t.Fatalf("resolutions: got tile %d bin %d", tile, bin)
	}
}

func TestVisibleTiles(t *testing.T) {
	info := &TilesetInfo{MaxWidth: 8000, MinPos: []float64{0}, MaxPos: []float64{8000}, MaxZoom: 5}
	ids := VisibleTiles(info, View{Start: 1000, End: 2000, Width: 384})
	if len(ids) == 0 {
		t.Fatal("expected visible tiles")
	}
	for _, id := range ids {
		if id.Zoom != 3 {
			t.Fatalf("expected zoom 3, got %v", id)
		}
	}
	if ids[0].X() != 1 || ids[len(ids)-1].X() != 1 {
		t.Fatalf("expected tile 3.1 only, got %v", ids)
	}
}

func TestPayload_DenseRoundTrip(t *testing.T) {
	in := &Payload{TileID: "0.0", Dense: []float32{0, 1.5, -2, 0}}
	in.MinNonZero, in.MaxNonZero = nonZeroExtrema(in.Dense)

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(out.Dense, in.Dense) {
		t.Fatalf("dense mismatch: %v", out.Dense)
	}
	if out.MinNonZero != -2 || out.MaxNonZero != 1.5 {
		t.Fatalf("extrema %v %v", out.MinNonZero, out.MaxNonZero)
	}
}

func TestPayload_Float16(t *testing.T) {
	// 1.0, -2.0, 0.5, 0, smallest subnormal
	raw := []byte{0x00, 0x3c, 0x00, 0xc0, 0x00, 0x38, 0x00, 0x00, 0x01, 0x00}
	doc := `{"dense":"` + base64.StdEncoding.EncodeToString(raw) + `","dtype":"float16"}`

	var p Payload
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := []float32{1, -2, 0.5, 0, float32(math.Ldexp(1, -24))}
	if !reflect.DeepEqual(p.Dense, want) {
		t.Fatalf("got %v want %v", p.Dense, want)
	}
}

func TestPayload_FeaturesTravelAsArray(t *testing.T) {
	in := &Payload{TileID: "1.0", Features: []Feature{{Start: 10, End: 20, Strand: "+", Type: "gene"}}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if data[0] != '[' {
		t.Fatalf("expected array, got %s", data)
	}
}

func TestDecodeResponse(t *testing.T) {
	body := `{
		"u.0.0": [{"start": 1, "end": 5, "type": "filler", "strand": "+", "chrOffset": 0}],
		"u.0.1": {"dense": "!!!", "dtype": "float32"},
		"u.0.2": {"error": "no data"}
	}`
	got, err := DecodeResponse([]byte(body))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(got))
	}

	if f := got["u.0.0"]; f.TileID != "u.0.0" || len(f.Features) != 1 || f.Features[0].End != 5 {
		t.Fatalf("features tile: %+v", f)
	}
	if got["u.0.1"].Err() == nil {
		t.Fatal("expected malformed dense tile to carry an error")
	}
	if got["u.0.2"].Error != "no data" {
		t.Fatalf("error tile: %+v", got["u.0.2"])
	}

	if _, err := DecodeResponse([]byte("not json")); err == nil {
		t.Fatal("expected error for a malformed response")
	}
}
