// Package synth builds synthetic VIIRS scenes with known flags. Commands use
// it to write demo GeoTIFFs and tests use it to drive the pipeline.
package synth

import (
	"fmt"
	"math/rand/v2"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// Pixel is one synthetic sample. Lunar and Snow are ignored for the
// four-band layout.
type Pixel struct {
	Radiance   float64
	Lunar      float64
	Quality    float64
	Snow       float64
	Confidence uint16
	Day        uint16
	SnowIce    uint16
}

// Scene lays pixels out in the band order of product. Continuous bands all
// carry Radiance, except the lunar band.
func Scene(id string, product domain.Product, width, height int, px []Pixel) (*raster.Scene, error) {
	if len(px) != width*height {
		return nil, fmt.Errorf("synth %s: %d pixels for a %dx%d grid", id, len(px), width, height)
	}
	schema := product.Schema
	bands := make([]raster.Band, product.MinBands())
	for i := range bands {
		bands[i] = raster.Band{Type: raster.Float32, Data: make([]float64, len(px))}
	}
	for _, spec := range product.Bands {
		b := &bands[spec.Index-1]
		b.Name = spec.Name
		switch spec.Role {
		case domain.RoleQuality, domain.RoleSnow:
			b.Type = raster.Uint8
		case domain.RoleCloudMask:
			b.Type = raster.Uint16
		}
	}

	for i, p := range px {
		word, err := domain.Pack(schema, map[string]uint16{
			domain.FieldDayNight:         p.Day,
			domain.FieldLandWater:        1,
			domain.FieldCloudMaskQuality: 3,
			domain.FieldCloudConfidence:  p.Confidence,
			domain.FieldSnowIce:          p.SnowIce,
		})
		if err != nil {
			return nil, fmt.Errorf("synth %s: %w", id, err)
		}
		for _, spec := range product.Bands {
			v := p.Radiance
			switch spec.Role {
			case domain.RoleLunar:
				v = p.Lunar
			case domain.RoleQuality:
				v = p.Quality
			case domain.RoleSnow:
				v = p.Snow
			case domain.RoleCloudMask:
				v = float64(word)
			}
			bands[spec.Index-1].Data[i] = v
		}
	}

	s := raster.NewScene(id, width, height, bands...)
	s.Meta.CRS = "EPSG:4326"
	return s, nil
}

// Options shape a random scene.
type Options struct {
	Width, Height int
	// Origin is the upper-left corner; PixelSize is in degrees.
	Origin    orb.Point
	PixelSize float64
	// CloudyFraction, DayFraction, and SnowFraction are per-pixel
	// probabilities.
	CloudyFraction float64
	DayFraction    float64
	SnowFraction   float64
}

// DefaultOptions is a small New Jersey tile at VIIRS 15 arc-second spacing.
func DefaultOptions() Options {
	return Options{
		Width:          32,
		Height:         32,
		Origin:         orb.Point{-75.5, 41.3},
		PixelSize:      1.0 / 240,
		CloudyFraction: 0.3,
		DayFraction:    0.1,
		SnowFraction:   0.05,
	}
}

// Random draws a scene from a seeded generator so equal seeds give equal
// scenes.
func Random(id string, product domain.Product, seed uint64, opts Options) (*raster.Scene, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	px := make([]Pixel, opts.Width*opts.Height)
	for i := range px {
		p := Pixel{Radiance: 5 + rng.Float64()*60}
		if rng.Float64() < opts.CloudyFraction {
			p.Confidence = 2 + uint16(rng.IntN(2))
			p.Quality = 2
		} else {
			p.Confidence = uint16(rng.IntN(2))
			p.Quality = float64(rng.IntN(2))
		}
		if rng.Float64() < opts.DayFraction {
			p.Day = 1
		}
		if rng.Float64() < opts.SnowFraction {
			p.Snow = 1
			p.SnowIce = 1
		}
		if rng.Float64() < 0.02 {
			p.Quality = 255
			if product.Fill != nil {
				p.Radiance = *product.Fill
			}
		}
		if rng.Float64() < 0.5 {
			p.Lunar = rng.Float64() * 3
		}
		px[i] = p
	}

	s, err := Scene(id, product, opts.Width, opts.Height, px)
	if err != nil {
		return nil, err
	}
	if opts.PixelSize > 0 {
		s.Meta.PixelSize = [2]float64{opts.PixelSize, opts.PixelSize}
		s.Meta.Bounds = orb.Bound{
			Min: orb.Point{opts.Origin[0], opts.Origin[1] - float64(opts.Height)*opts.PixelSize},
			Max: orb.Point{opts.Origin[0] + float64(opts.Width)*opts.PixelSize, opts.Origin[1]},
		}
	}
	return s, nil
}
