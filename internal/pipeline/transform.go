package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// Defaults apply to scene requests that leave a setting unset.
type Defaults struct {
	Variant         domain.Variant
	NightOnly       bool
	QualityFallback bool
}

// SceneTransformer implements Transformer: it reads the requested scene,
// assesses it against its product, and serializes the report.
type SceneTransformer struct {
	reader   raster.SceneReader
	catalog  domain.Catalog
	defaults Defaults
	logger   *slog.Logger
}

// NewTransformer creates a SceneTransformer. A nil catalog uses the built-in
// products.
func NewTransformer(reader raster.SceneReader, catalog domain.Catalog, defaults Defaults, logger *slog.Logger) *SceneTransformer {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	if defaults.Variant == "" {
		defaults.Variant = domain.SevenBand
	}
	return &SceneTransformer{
		reader:   reader,
		catalog:  catalog,
		defaults: defaults,
		logger:   logger,
	}
}

func (t *SceneTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseSceneRequest(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	a, err := t.Assess(ctx, req)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	return domain.SerializeReport(a.Report)
}

// Assess reads and assesses the scene named by req.
func (t *SceneTransformer) Assess(ctx context.Context, req domain.SceneRequest) (*domain.Assessment, error) {
	variant := t.defaults.Variant
	if req.Variant != "" {
		v, err := domain.ParseVariant(req.Variant)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBadRequest, err)
		}
		variant = v
	}
	product, err := t.catalog.Lookup(variant)
	if err != nil {
		return nil, err
	}

	scene, err := t.reader.ReadScene(ctx, req.Scene)
	if err != nil {
		return nil, err
	}

	opts := domain.AssessOptions{
		NightOnly:       t.defaults.NightOnly,
		QualityFallback: t.defaults.QualityFallback,
		Region:          req.Region,
		Date:            req.Date,
	}
	if req.NightOnly != nil {
		opts.NightOnly = *req.NightOnly
	}

	a, err := domain.Assess(scene, product, opts)
	if err != nil {
		return nil, err
	}
	r := a.Report
	t.logger.Debug("scene assessed",
		"scene", r.Scene,
		"variant", r.Variant,
		"status", r.Status,
		"usable_pixels", r.UsablePixels,
		"total_pixels", r.TotalPixels,
	)
	for _, w := range r.Warnings {
		t.logger.Warn("scene warning", "scene", r.Scene, "warning", w)
	}
	return a, nil
}
