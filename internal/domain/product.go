package domain

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownVariant is returned for a product variant name that is not known.
var ErrUnknownVariant = errors.New("unknown product variant")

// Variant selects the band layout of a scene.
type Variant string

const (
	SevenBand Variant = "seven_band"
	FourBand  Variant = "four_band"
)

// ParseVariant accepts the canonical names plus short aliases ("7", "4",
// "vnp46a2").
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seven_band", "seven-band", "7", "7band", "vnp46a2":
		return SevenBand, nil
	case "four_band", "four-band", "4", "4band":
		return FourBand, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// Role is the meaning of a band within a product.
type Role string

const (
	RoleBRDF      Role = "ntl_brdf"
	RoleNTL       Role = "ntl"
	RoleLunar     Role = "lunar"
	RoleLatestHQ  Role = "latest_hq"
	RoleQuality   Role = "quality"
	RoleSnow      Role = "snow"
	RoleCloudMask Role = "cloud_mask"
)

// Continuous reports whether the role holds a measurement rather than a code.
func (r Role) Continuous() bool {
	switch r {
	case RoleBRDF, RoleNTL, RoleLunar, RoleLatestHQ:
		return true
	default:
		return false
	}
}

// BandSpec places a role at a 1-based band position.
type BandSpec struct {
	Index int    `yaml:"index" json:"index"`
	Role  Role   `yaml:"role" json:"role"`
	Name  string `yaml:"name" json:"name"`
}

// Cloud-mask field names.
const (
	FieldDayNight         = "day_night"
	FieldLandWater        = "land_water"
	FieldCloudMaskQuality = "cloud_mask_quality"
	FieldCloudConfidence  = "cloud_confidence"
	FieldShadow           = "shadow"
	FieldCirrus           = "cirrus"
	FieldSnowIce          = "snow_ice"
)

// CloudMaskSchema is the QF_Cloud_Mask layout shared by both variants.
func CloudMaskSchema() Schema {
	return Schema{
		Name:  "QF_Cloud_Mask",
		Depth: 16,
		Fields: []Field{
			{Name: FieldDayNight, Offset: 0, Width: 1, Kind: Boolean},
			{Name: FieldLandWater, Offset: 1, Width: 3, Kind: Enum},
			{Name: FieldCloudMaskQuality, Offset: 4, Width: 2, Kind: Enum},
			{Name: FieldCloudConfidence, Offset: 6, Width: 2, Kind: Enum},
			{Name: FieldShadow, Offset: 8, Width: 1, Kind: Boolean},
			{Name: FieldCirrus, Offset: 9, Width: 1, Kind: Boolean},
			{Name: FieldSnowIce, Offset: 10, Width: 1, Kind: Boolean},
		},
	}
}

// Product binds a variant to its band layout, flag schema, and criteria.
type Product struct {
	Variant Variant    `yaml:"variant" json:"variant"`
	Bands   []BandSpec `yaml:"bands" json:"bands"`
	Primary Role       `yaml:"primary" json:"primary"`
	// Fill is the radiance fill value excluded from statistics.
	Fill            *float64      `yaml:"fill" json:"fill,omitempty"`
	Schema          Schema        `yaml:"schema" json:"schema"`
	ExpectedQuality []QualityCode `yaml:"expected_quality" json:"expected_quality"`
	// SupportsNightOnly is false for products without a usable day bit.
	SupportsNightOnly bool `yaml:"supports_night_only" json:"supports_night_only"`
}

// SevenBandProduct is the VNP46A2 daily gap-filled export.
func SevenBandProduct() Product {
	fill := 6553.5
	return Product{
		Variant: SevenBand,
		Bands: []BandSpec{
			{1, RoleBRDF, "DNB_BRDF_Corrected_NTL"},
			{2, RoleNTL, "Gap_Filled_DNB_BRDF_Corrected_NTL"},
			{3, RoleLunar, "DNB_Lunar_Irradiance"},
			{4, RoleLatestHQ, "Latest_High_Quality_Retrieval"},
			{5, RoleQuality, "Mandatory_Quality_Flag"},
			{6, RoleSnow, "Snow_Flag"},
			{7, RoleCloudMask, "QF_Cloud_Mask"},
		},
		Primary:           RoleNTL,
		Fill:              &fill,
		Schema:            CloudMaskSchema(),
		ExpectedQuality:   []QualityCode{0, 1, 2, 255},
		SupportsNightOnly: true,
	}
}

// FourBandProduct is the reduced export with lunar, radiance, cloud mask, and
// quality bands.
func FourBandProduct() Product {
	fill := 6553.5
	return Product{
		Variant: FourBand,
		Bands: []BandSpec{
			{1, RoleLunar, "DNB_Lunar_Irradiance"},
			{2, RoleNTL, "Gap_Filled_DNB_BRDF_Corrected_NTL"},
			{3, RoleCloudMask, "QF_Cloud_Mask"},
			{4, RoleQuality, "Mandatory_Quality_Flag"},
		},
		Primary:         RoleNTL,
		Fill:            &fill,
		Schema:          CloudMaskSchema(),
		ExpectedQuality: []QualityCode{0, 1, 2, 255},
	}
}

// DefaultProduct returns the built-in product for a variant.
func DefaultProduct(v Variant) (Product, error) {
	switch v {
	case SevenBand:
		return SevenBandProduct(), nil
	case FourBand:
		return FourBandProduct(), nil
	default:
		return Product{}, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
}

// Band returns the position of a role, or false if the product lacks it.
func (p Product) Band(r Role) (BandSpec, bool) {
	for _, b := range p.Bands {
		if b.Role == r {
			return b, true
		}
	}
	return BandSpec{}, false
}

// MinBands is the number of bands a scene must carry.
func (p Product) MinBands() int {
	n := 0
	for _, b := range p.Bands {
		n = max(n, b.Index)
	}
	return n
}

// Validate checks that the product can drive an assessment.
func (p Product) Validate() error {
	for _, r := range []Role{p.Primary, RoleQuality, RoleCloudMask} {
		if _, ok := p.Band(r); !ok {
			return fmt.Errorf("product %s: no %q band", p.Variant, r)
		}
	}
	seen := make(map[int]bool, len(p.Bands))
	for _, b := range p.Bands {
		if b.Index < 1 {
			return fmt.Errorf("product %s: band %q has index %d", p.Variant, b.Role, b.Index)
		}
		if seen[b.Index] {
			return fmt.Errorf("product %s: band %d assigned twice", p.Variant, b.Index)
		}
		seen[b.Index] = true
	}
	depth := p.Schema.Depth
	if depth == 0 {
		depth = 64
	}
	if err := p.Schema.Validate(depth); err != nil {
		return fmt.Errorf("product %s: %w", p.Variant, err)
	}
	return nil
}

// Catalog maps variants to products.
type Catalog map[Variant]Product

// DefaultCatalog holds the built-in products.
func DefaultCatalog() Catalog {
	return Catalog{SevenBand: SevenBandProduct(), FourBand: FourBandProduct()}
}

// Lookup returns the product for a variant.
func (c Catalog) Lookup(v Variant) (Product, error) {
	p, ok := c[v]
	if !ok {
		return Product{}, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
	return p, nil
}

// productOverride is the YAML shape of one product entry. Unset fields keep
// the built-in value.
type productOverride struct {
	Bands           []BandSpec    `yaml:"bands"`
	Primary         Role          `yaml:"primary"`
	Fill            *float64      `yaml:"fill"`
	Schema          *Schema       `yaml:"schema"`
	ExpectedQuality []QualityCode `yaml:"expected_quality"`
	NightOnly       *bool         `yaml:"supports_night_only"`
}

// LoadCatalog reads product overrides from YAML of the form
//
//	products:
//	  seven_band:
//	    fill: 6553.5
//	    schema: {name: QF_Cloud_Mask, depth: 16, fields: [...]}
//
// on top of the built-in catalog. Every resulting product is validated.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var doc struct {
		Products map[string]productOverride `yaml:"products"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	cat := DefaultCatalog()
	for name, o := range doc.Products {
		v, err := ParseVariant(name)
		if err != nil {
			return nil, err
		}
		p := cat[v]
		if o.Bands != nil {
			p.Bands = o.Bands
		}
		if o.Primary != "" {
			p.Primary = o.Primary
		}
		if o.Fill != nil {
			p.Fill = o.Fill
		}
		if o.Schema != nil {
			p.Schema = *o.Schema
		}
		if o.ExpectedQuality != nil {
			p.ExpectedQuality = o.ExpectedQuality
		}
		if o.NightOnly != nil {
			p.SupportsNightOnly = *o.NightOnly
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		cat[v] = p
	}
	return cat, nil
}
