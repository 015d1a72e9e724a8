package data

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/genotiles/server/internal/genome"
)

// Open opens a local input, transparently decompressing .gz and .zst files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), f}}, nil
	}
	return f, nil
}

// ReadChromSizes loads a chrom-sizes file into an index, failing on the first
// malformed row.
func ReadChromSizes(path string) (*genome.Index, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	idx, err := genome.ReadIndex(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read chrom sizes %s: %w", path, err)
	}
	return idx, nil
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
