package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// ErrSchemaMismatch is returned when a bit-field does not fit the band it is
// decoded from, or the schema itself is malformed.
var ErrSchemaMismatch = errors.New("schema mismatch")

// FieldKind says how a decoded field is read.
type FieldKind string

const (
	Boolean FieldKind = "boolean"
	Enum    FieldKind = "enum"
)

// maxFieldWidth bounds a field so every value fits a uint16.
const maxFieldWidth = 16

// Field is one sub-field of a packed flag word.
type Field struct {
	Name   string    `yaml:"name" json:"name"`
	Offset uint      `yaml:"offset" json:"offset"`
	Width  uint      `yaml:"width" json:"width"`
	Kind   FieldKind `yaml:"kind" json:"kind"`
}

func (f Field) mask() uint64 { return 1<<f.Width - 1 }

// Extract shifts and masks the field out of word.
func (f Field) Extract(word uint64) uint16 {
	return uint16((word >> f.Offset) & f.mask())
}

// Schema describes the fields packed into one flag band. Depth is the word
// width in bits the schema was written for.
type Schema struct {
	Name   string  `yaml:"name" json:"name"`
	Depth  uint    `yaml:"depth" json:"depth"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks every field against a word of depth bits.
func (s Schema) Validate(depth uint) error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		switch {
		case f.Name == "":
			return fmt.Errorf("%w: %s: unnamed field", ErrSchemaMismatch, s.Name)
		case seen[f.Name]:
			return fmt.Errorf("%w: %s: duplicate field %q", ErrSchemaMismatch, s.Name, f.Name)
		case f.Kind != Boolean && f.Kind != Enum:
			return fmt.Errorf("%w: %s: field %q has unknown kind %q", ErrSchemaMismatch, s.Name, f.Name, f.Kind)
		case f.Width == 0 || f.Width > maxFieldWidth:
			return fmt.Errorf("%w: %s: field %q width %d out of range 1-%d", ErrSchemaMismatch, s.Name, f.Name, f.Width, maxFieldWidth)
		case f.Offset+f.Width > depth:
			return fmt.Errorf("%w: %s: field %q bits %d-%d exceed %d-bit word",
				ErrSchemaMismatch, s.Name, f.Name, f.Offset, f.Offset+f.Width-1, depth)
		}
		seen[f.Name] = true
	}
	return nil
}

// Flags is a decoded flag set: one value plane per schema field.
type Flags struct {
	Width  int
	Height int
	schema Schema
	planes map[string][]uint16
}

// Schema returns the schema the flags were decoded with.
func (f *Flags) Schema() Schema { return f.schema }

// Enum returns the raw field values.
func (f *Flags) Enum(name string) ([]uint16, error) {
	p, ok := f.planes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %q", ErrSchemaMismatch, f.schema.Name, name)
	}
	return p, nil
}

// Bool returns the field as booleans (nonzero is true).
func (f *Flags) Bool(name string) ([]bool, error) {
	p, err := f.Enum(name)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(p))
	for i, v := range p {
		out[i] = v != 0
	}
	return out, nil
}

// Decode extracts every schema field from a packed flag band. The band is
// never modified. Integer bands are decoded at their own bit depth capped by
// the schema depth; float bands at the schema depth.
func Decode(band raster.Band, schema Schema) (*Flags, error) {
	depth := wordDepth(band.Type, schema.Depth)
	if err := schema.Validate(depth); err != nil {
		return nil, fmt.Errorf("decode band %d: %w", band.Index, err)
	}

	words := make([]uint64, len(band.Data))
	for i, v := range band.Data {
		words[i] = toWord(v, band.Type, depth)
	}

	planes := make(map[string][]uint16, len(schema.Fields))
	for _, field := range schema.Fields {
		p := make([]uint16, len(words))
		for i, w := range words {
			p[i] = field.Extract(w)
		}
		planes[field.Name] = p
	}
	return &Flags{Width: band.Width, Height: band.Height, schema: schema, planes: planes}, nil
}

// Pack is the inverse of Decode for one pixel. Fields absent from values are
// zero. A value wider than its field is a schema mismatch.
func Pack(schema Schema, values map[string]uint16) (uint64, error) {
	depth := schema.Depth
	if depth == 0 {
		depth = 64
	}
	if err := schema.Validate(depth); err != nil {
		return 0, err
	}
	var word uint64
	for name, v := range values {
		f, ok := schema.Field(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s has no field %q", ErrSchemaMismatch, schema.Name, name)
		}
		if uint64(v) > f.mask() {
			return 0, fmt.Errorf("%w: value %d overflows %d-bit field %q", ErrSchemaMismatch, v, f.Width, name)
		}
		word |= uint64(v) << f.Offset
	}
	return word, nil
}

func wordDepth(t raster.DataType, schemaDepth uint) uint {
	if t.IsInteger() {
		bits := uint(t.Bits())
		if schemaDepth == 0 || bits < schemaDepth {
			return bits
		}
		return schemaDepth
	}
	if schemaDepth == 0 {
		return 64
	}
	return schemaDepth
}

// toWord converts a sample to an unsigned word of depth bits.
func toWord(v float64, t raster.DataType, depth uint) uint64 {
	ones := uint64(math.MaxUint64)
	if depth < 64 {
		ones = 1<<depth - 1
	}
	if t.IsSigned() && v < 0 {
		// Same bits, read unsigned.
		return uint64(int64(v)) & ones
	}
	if math.IsNaN(v) || v < 0 || v >= math.Ldexp(1, int(depth)) {
		return ones
	}
	return uint64(v) & ones
}
