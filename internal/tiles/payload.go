package tiles

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Dense value encodings.
const (
	DTypeFloat32 = "float32"
	DTypeFloat16 = "float16"
)

// SparsePoint is one (position, value) entry of a sparse tile.
type SparsePoint struct {
	Pos   []float64 `json:"pos"`
	Value float64   `json:"value"`
}

// Feature is one interval annotation of a feature tile. Start and End are
// absolute coordinates.
type Feature struct {
	UID        string   `json:"uid,omitempty"`
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	Strand     string   `json:"strand,omitempty"`
	Type       string   `json:"type"`
	ChrOffset  int64    `json:"chrOffset"`
	Importance int64    `json:"importance,omitempty"`
	Fields     []string `json:"fields,omitempty"`
}

func (f Feature) Span() (int64, int64) { return f.Start, f.End }

// Payload is one tile. Exactly one of Dense, Sparse or Features is set unless
// the tile failed, in which case Error says why.
type Payload struct {
	TileID string

	Dense      []float32
	MinNonZero float32
	MaxNonZero float32

	Sparse   []SparsePoint
	Features []Feature

	Error string
}

// Err returns the error carried by the tile, if any.
func (p *Payload) Err() error {
	if p.Error == "" {
		return nil
	}
	return fmt.Errorf("tile %s: %s", p.TileID, p.Error)
}

type wirePayload struct {
	TileID     string        `json:"tileId,omitempty"`
	Dense      string        `json:"dense,omitempty"`
	DType      string        `json:"dtype,omitempty"`
	MinNonZero *float32      `json:"min_non_zero,omitempty"`
	MaxNonZero *float32      `json:"max_non_zero,omitempty"`
	Sparse     []SparsePoint `json:"sparse,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// MarshalJSON writes feature tiles as a bare array and every other tile as an
// object with base64 little-endian float32 dense values.
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p.Error == "" && p.Dense == nil && p.Sparse == nil && p.Features != nil {
		return json.Marshal(p.Features)
	}

	w := wirePayload{TileID: p.TileID, Sparse: p.Sparse, Error: p.Error}
	if p.Dense != nil {
		buf := make([]byte, 4*len(p.Dense))
		for i, v := range p.Dense {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		w.Dense = base64.StdEncoding.EncodeToString(buf)
		w.DType = DTypeFloat32
		w.MinNonZero, w.MaxNonZero = &p.MinNonZero, &p.MaxNonZero
	}
	return json.Marshal(w)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var fs []Feature
		if err := json.Unmarshal(data, &fs); err != nil {
			return err
		}
		*p = Payload{TileID: p.TileID, Features: fs}
		return nil
	}

	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Payload{TileID: w.TileID, Sparse: w.Sparse, Error: w.Error}
	if out.TileID == "" {
		out.TileID = p.TileID
	}
	if w.Dense != "" {
		raw, err := base64.StdEncoding.DecodeString(w.Dense)
		if err != nil {
			return fmt.Errorf("dense: %w", err)
		}
		if out.Dense, err = decodeDense(raw, w.DType); err != nil {
			return err
		}
		out.MinNonZero, out.MaxNonZero = nonZeroExtrema(out.Dense)
	}
	*p = out
	return nil
}

// DecodeResponse decodes a tile response, a JSON object keyed by tile id.
// A value that fails to decode becomes a payload carrying the error, leaving
// the other tiles intact.
func DecodeResponse(data []byte) (map[string]*Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tile response: %w", err)
	}

	out := make(map[string]*Payload, len(raw))
	for id, msg := range raw {
		p := &Payload{TileID: id}
		if err := json.Unmarshal(msg, p); err != nil {
			p = &Payload{TileID: id, Error: fmt.Sprintf("malformed tile: %v", err)}
		}
		p.TileID = id
		out[id] = p
	}
	return out, nil
}

func decodeDense(raw []byte, dtype string) ([]float32, error) {
	switch dtype {
	case DTypeFloat16:
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("dense float16: %d bytes", len(raw))
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = halfToFloat32(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		return out, nil
	case "", DTypeFloat32:
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("dense float32: %d bytes", len(raw))
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("dense: unsupported dtype %q", dtype)
}

// halfToFloat32 widens an IEEE 754 binary16 value.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	switch {
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | frac<<13)
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal
		e := int32(-14)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		return math.Float32frombits(sign | uint32(e+127)<<23 | (frac&0x3ff)<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
}

func nonZeroExtrema(vs []float32) (lo, hi float32) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range vs {
		if v == 0 || v != v {
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
