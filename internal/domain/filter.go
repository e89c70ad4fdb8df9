package domain

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// ErrShapeMismatch is returned when a criterion does not cover the scene.
var ErrShapeMismatch = errors.New("shape mismatch")

// Criterion names.
const (
	CriterionClearSky        = "clear_sky"
	CriterionNoSnowPrimary   = "no_snow_primary"
	CriterionNoSnowSecondary = "no_snow_secondary"
	CriterionHighQuality     = "high_quality"
	CriterionNightOnly       = "night_only"
)

// Criterion is one per-pixel condition ANDed into the usability mask.
// Fallback allows the criterion to be replaced by all-true when it passes
// nowhere; Degenerate records that the replacement happened.
type Criterion struct {
	Name       string
	Pass       []bool
	Fallback   bool
	Degenerate bool
}

// Passing counts the pixels that pass.
func (c Criterion) Passing() int { return countTrue(c.Pass) }

// Mask is the per-pixel usability result.
type Mask struct {
	Width  int
	Height int
	Usable []bool
}

// Count returns the number of usable pixels.
func (m Mask) Count() int { return countTrue(m.Usable) }

// Fraction returns the usable share of all pixels, 0 for an empty mask.
func (m Mask) Fraction() float64 {
	if len(m.Usable) == 0 {
		return 0
	}
	return float64(m.Count()) / float64(len(m.Usable))
}

// Scene renders the mask as a single uint8 band (1 usable, 0 not) on the
// grid described by meta.
func (m Mask) Scene(id string, meta raster.Metadata) *raster.Scene {
	data := make([]float64, len(m.Usable))
	for i, u := range m.Usable {
		if u {
			data[i] = 1
		}
	}
	s := raster.NewScene(id, m.Width, m.Height, raster.Band{Name: "usable", Type: raster.Uint8, Data: data})
	s.Meta.CRS = meta.CRS
	s.Meta.Bounds = meta.Bounds
	s.Meta.PixelSize = meta.PixelSize
	return s
}

// Filter ANDs the criteria into a mask over a width × height scene. Each
// criterion is checked for degeneracy on its own before any combining. The
// returned criteria are copies with degenerate ones replaced; inputs are not
// modified. With no criteria every pixel is usable.
func Filter(criteria []Criterion, width, height int) (Mask, []Criterion, error) {
	n := width * height
	applied := make([]Criterion, len(criteria))
	for i, c := range criteria {
		if len(c.Pass) != n {
			return Mask{}, nil, fmt.Errorf("%w: criterion %q has %d pixels, scene has %d", ErrShapeMismatch, c.Name, len(c.Pass), n)
		}
		out := Criterion{Name: c.Name, Fallback: c.Fallback, Pass: c.Pass}
		if n > 0 && c.Fallback && c.Passing() == 0 {
			out.Pass = allTrue(n)
			out.Degenerate = true
		}
		applied[i] = out
	}

	usable := allTrue(n)
	for _, c := range applied {
		for i, ok := range c.Pass {
			usable[i] = usable[i] && ok
		}
	}
	return Mask{Width: width, Height: height, Usable: usable}, applied, nil
}

// ClearSky passes cloud confidence 0 (confident clear) and 1 (probably clear).
func ClearSky(confidence []uint16) []bool {
	out := make([]bool, len(confidence))
	for i, v := range confidence {
		out[i] = v <= 1
	}
	return out
}

// Equals passes pixels whose sample equals want.
func Equals(values []float64, want float64) []bool {
	out := make([]bool, len(values))
	for i, v := range values {
		out[i] = v == want
	}
	return out
}

// Not negates a boolean plane.
func Not(in []bool) []bool {
	out := make([]bool, len(in))
	for i, v := range in {
		out[i] = !v
	}
	return out
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}
