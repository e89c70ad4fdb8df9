package raster

import (
	"context"
	"fmt"
	"strings"
)

// Router dispatches ReadScene by URI scheme ("s3" for s3://bucket/key).
// Identifiers without a scheme go to Default.
type Router struct {
	Schemes map[string]SceneReader
	Default SceneReader
}

func (r Router) ReadScene(ctx context.Context, id string) (*Scene, error) {
	reader := r.Default
	if scheme, _, ok := strings.Cut(id, "://"); ok {
		reader = r.Schemes[strings.ToLower(scheme)]
		if reader == nil {
			return nil, fmt.Errorf("%w: no reader for scheme %q in %s", ErrSceneUnreadable, scheme, id)
		}
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: no reader for %s", ErrSceneUnreadable, id)
	}
	return reader.ReadScene(ctx, id)
}
