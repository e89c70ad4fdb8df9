// Package fs connects the pipeline to the local filesystem: a directory of
// scenes as the source and a CSV time series as the sink.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

// Source walks a directory tree for GeoTIFF scenes and hands them out in
// lexical path order. It implements pipeline.BatchExtractor and reports
// io.EOF once every scene has been handed out.
type Source struct {
	root    string
	variant string

	mu      sync.Mutex
	scanned bool
	pending []string
}

// NewSource scans root lazily on the first ExtractBatch; a failed scan is
// wrapped with domain.ErrSourceFailed. A non-empty variant is attached to
// every request as the "variant" header.
func NewSource(root, variant string) *Source {
	return &Source{root: root, variant: variant}
}

func (s *Source) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanned {
		pending, err := Scan(s.root)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSourceFailed, err)
		}
		s.pending, s.scanned = pending, true
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	n := min(batchSize, len(s.pending))
	batch := make([]domain.RawEvent, n)
	for i, path := range s.pending[:n] {
		raw := domain.RawEvent{Key: []byte(filepath.Base(path)), Value: []byte(path)}
		if s.variant != "" {
			raw.Headers = map[string]string{"variant": s.variant}
		}
		batch[i] = raw
	}
	s.pending = s.pending[n:]
	return batch, nil
}

// Scan returns every .tif/.tiff file under root, sorted. Hidden files and
// directories are skipped.
func Scan(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".tif", ".tiff":
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
