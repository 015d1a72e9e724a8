// Package tiles defines tile addressing, tileset metadata and tile payloads.
package tiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedID is returned for tile ids that are not "<zoom>.<index>[.<index>]".
var ErrMalformedID = errors.New("malformed tile id")

// ID addresses one tile: a zoom level and one index per axis.
type ID struct {
	Zoom int
	Pos  []int
}

// ParseID parses "<zoom>.<x>" or "<zoom>.<x>.<y>".
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
		}
		nums[i] = n
	}
	return ID{Zoom: nums[0], Pos: nums[1:]}, nil
}

// X returns the index along the first axis.
func (id ID) X() int { return id.Pos[0] }

func (id ID) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(id.Zoom))
	for _, p := range id.Pos {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// SplitTilesetID splits a full id "<uid>.<zoom>.<index>" into the tileset uid and
// the tile id. The uid is everything before the first dot.
func SplitTilesetID(full string) (uid, tileID string, err error) {
	uid, tileID, ok := strings.Cut(full, ".")
	if !ok || uid == "" {
		return "", "", fmt.Errorf("%w: %q has no tileset uid", ErrMalformedID, full)
	}
	if _, err := ParseID(tileID); err != nil {
		return "", "", err
	}
	return uid, tileID, nil
}

// JoinTilesetID is the inverse of SplitTilesetID.
func JoinTilesetID(uid, tileID string) string {
	return uid + "." + tileID
}
