package geotiff

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// FileReader opens scenes from the local filesystem. Relative scene IDs are
// resolved against Root when it is set.
type FileReader struct {
	Root string
}

// ReadScene implements raster.SceneReader.
func (f FileReader) ReadScene(ctx context.Context, id string) (*raster.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := id
	if f.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.Root, path)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", raster.ErrSceneUnreadable, err)
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", raster.ErrSceneUnreadable, err)
	}
	return Decode(io.NewSectionReader(fh, 0, info.Size()), id)
}

// WriteFile encodes the scene to path, replacing any existing file.
func WriteFile(path string, scene *raster.Scene, opts EncodeOptions) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.tif")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, scene, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
