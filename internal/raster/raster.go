// Package raster defines the band-access contract the quality-control core
// consumes: co-registered multi-band scenes with per-band numeric data and
// scene-level georeferencing metadata.
package raster

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// ErrSceneUnreadable is returned when a scene cannot be opened or decoded, or
// when it lacks the bands a caller requires.
var ErrSceneUnreadable = errors.New("scene unreadable")

// DataType is the on-disk sample type of a band.
type DataType int

const (
	Uint8 DataType = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// Bits returns the sample width in bits, or 0 for an unknown type.
func (d DataType) Bits() int {
	switch d {
	case Uint8, Int8:
		return 8
	case Uint16, Int16:
		return 16
	case Uint32, Int32, Float32:
		return 32
	case Float64:
		return 64
	default:
		return 0
	}
}

// IsInteger reports whether samples of this type are integers.
func (d DataType) IsInteger() bool {
	switch d {
	case Uint8, Int8, Uint16, Int16, Uint32, Int32:
		return true
	default:
		return false
	}
}

// IsSigned reports whether the integer type carries a sign bit.
func (d DataType) IsSigned() bool {
	return d == Int8 || d == Int16 || d == Int32
}

// Band is one 2-D layer of a scene, stored row-major. Samples are held as
// float64, which represents every supported integer type exactly; Type keeps
// the original sample type.
type Band struct {
	Index  int // 1-based position in the scene
	Name   string
	Type   DataType
	Width  int
	Height int
	Data   []float64
	NoData *float64
}

// Len returns the number of pixels in the band.
func (b Band) Len() int { return b.Width * b.Height }

// At returns the sample at column x, row y.
func (b Band) At(x, y int) float64 { return b.Data[y*b.Width+x] }

// IsNoData reports whether v equals the band's declared nodata value.
func (b Band) IsNoData(v float64) bool {
	return b.NoData != nil && v == *b.NoData
}

// Metadata describes a scene's grid and georeferencing.
type Metadata struct {
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	BandCount int        `json:"band_count"`
	CRS       string     `json:"crs,omitempty"`
	Bounds    orb.Bound  `json:"bounds"`
	PixelSize [2]float64 `json:"pixel_size"`
}

// Scene is a read-only, co-registered stack of bands.
type Scene struct {
	ID    string
	Meta  Metadata
	Bands []Band
}

// Pixels returns width × height.
func (s *Scene) Pixels() int { return s.Meta.Width * s.Meta.Height }

// Band returns the band at the 1-based index.
func (s *Scene) Band(index int) (Band, error) {
	if index < 1 || index > len(s.Bands) {
		return Band{}, fmt.Errorf("%w: %s has %d bands, band %d requested", ErrSceneUnreadable, s.ID, len(s.Bands), index)
	}
	return s.Bands[index-1], nil
}

// Validate checks that the scene carries at least minBands bands and that
// every band matches the scene dimensions.
func (s *Scene) Validate(minBands int) error {
	if len(s.Bands) < minBands {
		return fmt.Errorf("%w: %s has %d bands, need at least %d", ErrSceneUnreadable, s.ID, len(s.Bands), minBands)
	}
	for _, b := range s.Bands {
		if b.Width != s.Meta.Width || b.Height != s.Meta.Height || len(b.Data) != b.Len() {
			return fmt.Errorf("%w: %s band %d is %dx%d (%d samples), scene is %dx%d",
				ErrSceneUnreadable, s.ID, b.Index, b.Width, b.Height, len(b.Data), s.Meta.Width, s.Meta.Height)
		}
	}
	return nil
}

// SceneReader opens a scene by identifier (path or URI).
type SceneReader interface {
	ReadScene(ctx context.Context, id string) (*Scene, error)
}

// NewScene assembles a scene from equally sized bands, assigning band indexes
// in order. It is mostly used for synthetic scenes.
func NewScene(id string, width, height int, bands ...Band) *Scene {
	out := make([]Band, len(bands))
	for i, b := range bands {
		b.Index = i + 1
		if b.Width == 0 && b.Height == 0 {
			b.Width, b.Height = width, height
		}
		out[i] = b
	}
	return &Scene{
		ID: id,
		Meta: Metadata{
			Width:     width,
			Height:    height,
			BandCount: len(out),
		},
		Bands: out,
	}
}

// WithType returns a shallow copy of the scene with every band relabelled as
// t. Sample values are shared; callers pick a type that holds them exactly.
func (s *Scene) WithType(t DataType) *Scene {
	out := *s
	out.Bands = make([]Band, len(s.Bands))
	for i, b := range s.Bands {
		b.Type = t
		out.Bands[i] = b
	}
	return &out
}
