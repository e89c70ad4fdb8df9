// Package app assembles the pieces every command shares: the product catalog
// and the scene reader stack.
package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/nightlight-qc/internal/adapter/s3"
	"github.com/couchcryptid/nightlight-qc/internal/config"
	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/pipeline"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
	"github.com/couchcryptid/nightlight-qc/internal/raster/geotiff"
)

// Catalog returns the built-in products, overridden by the YAML file at path
// when path is non-empty.
func Catalog(path string) (domain.Catalog, error) {
	if path == "" {
		return domain.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open products file: %w", err)
	}
	defer f.Close()
	return domain.LoadCatalog(f)
}

// SceneReader routes s3:// identifiers to S3 and everything else to the local
// filesystem, with an LRU of decoded scenes in front when cfg enables one.
func SceneReader(cfg *config.Config, logger *slog.Logger) (raster.SceneReader, error) {
	api, err := s3.NewClient(cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		return nil, err
	}
	var reader raster.SceneReader = raster.Router{
		Schemes: map[string]raster.SceneReader{s3.Scheme: s3.NewReader(api)},
		Default: geotiff.FileReader{},
	}
	if cfg.SceneCacheSize > 0 {
		reader = raster.NewCachedReader(reader, cfg.SceneCacheSize)
		logger.Info("scene cache enabled", "max_scenes", cfg.SceneCacheSize)
	}
	return reader, nil
}

// Transformer builds the scene transformer from cfg: catalog, reader stack,
// and quality-control defaults.
func Transformer(cfg *config.Config, logger *slog.Logger) (*pipeline.SceneTransformer, error) {
	catalog, err := Catalog(cfg.ProductsFile)
	if err != nil {
		return nil, err
	}
	reader, err := SceneReader(cfg, logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewTransformer(reader, catalog, pipeline.Defaults{
		Variant:         cfg.DefaultVariant,
		NightOnly:       cfg.NightOnly,
		QualityFallback: cfg.QualityFallback,
	}, logger), nil
}
