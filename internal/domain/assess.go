package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// AssessOptions tune one scene assessment.
type AssessOptions struct {
	// NightOnly adds the night_only criterion when the product supports it.
	NightOnly bool
	// QualityFallback lets a high_quality criterion that passes nowhere fall
	// back to all-true like the other criteria.
	QualityFallback bool
	// Region and Date override values parsed from the scene name.
	Region string
	Date   string
}

// Assessment is the full result of assessing one scene.
type Assessment struct {
	Mask     Mask
	Criteria []Criterion
	Flags    *Flags
	Quality  *QualityMap
	Report   Report
}

// Assess runs decode → interpret → filter → summarize for one scene. A scene
// with no usable pixel is not an error: the report carries
// StatusNoUsableData and no filtered statistics.
func Assess(scene *raster.Scene, product Product, opts AssessOptions) (*Assessment, error) {
	if err := scene.Validate(product.MinBands()); err != nil {
		return nil, err
	}
	bandFor := func(r Role) (raster.Band, error) {
		spec, ok := product.Band(r)
		if !ok {
			return raster.Band{}, fmt.Errorf("%w: product %s has no %q band", raster.ErrSceneUnreadable, product.Variant, r)
		}
		b, err := scene.Band(spec.Index)
		if err != nil {
			return raster.Band{}, err
		}
		b.Name = spec.Name
		return b, nil
	}

	cloudBand, err := bandFor(RoleCloudMask)
	if err != nil {
		return nil, err
	}
	flags, err := Decode(cloudBand, product.Schema)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", scene.ID, err)
	}
	qualityBand, err := bandFor(RoleQuality)
	if err != nil {
		return nil, err
	}
	quality := InterpretQuality(qualityBand)

	var snowBand *raster.Band
	if b, err := bandFor(RoleSnow); err == nil {
		snowBand = &b
	}

	nightOnly := opts.NightOnly && product.SupportsNightOnly
	criteria, err := buildCriteria(flags, quality, snowBand, nightOnly, opts.QualityFallback)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", scene.ID, err)
	}

	mask, applied, err := Filter(criteria, scene.Meta.Width, scene.Meta.Height)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", scene.ID, err)
	}

	primary, err := bandFor(product.Primary)
	if err != nil {
		return nil, err
	}

	report := Report{
		ID:            ReportID(scene.ID, product.Variant, nightOnly),
		Scene:         scene.ID,
		Variant:       product.Variant,
		NightOnly:     nightOnly,
		Status:        StatusOK,
		Metadata:      scene.Meta,
		Center:        boundsCenter(scene.Meta),
		TotalPixels:   scene.Pixels(),
		UsablePixels:  mask.Count(),
		UsablePercent: percent(mask.Count(), scene.Pixels()),
		Criteria:      CountCriteria(applied, scene.Pixels()),
		Quality:       CountQuality(quality),
		Flags:         histogram(flags),
		ProcessedAt:   clock.Now().UTC(),
	}
	report.Region, report.Date = sceneRegionDate(scene.ID, opts)

	filtered, err := Summarize(primary, mask, product.Fill)
	switch {
	case errors.Is(err, ErrNoUsableData):
		report.Status = StatusNoUsableData
	case err != nil:
		return nil, fmt.Errorf("assess %s: %w", scene.ID, err)
	default:
		report.Filtered = &filtered
	}

	for _, spec := range product.Bands {
		if !spec.Role.Continuous() {
			continue
		}
		b, err := bandFor(spec.Role)
		if err != nil {
			return nil, err
		}
		report.Bands = append(report.Bands, SummarizeBand(b, product.Fill))
		if spec.Role == RoleLunar {
			if s := report.Bands[len(report.Bands)-1].Stats; s != nil && s.Max > 0 {
				report.Lunar = true
			}
		}
	}

	if snowBand != nil {
		report.Snow = snowBreakdown(*snowBand)
	}
	report.Rejections = rejections(flags, quality, report.Snow)
	report.Warnings = warnings(report, quality, product, applied)

	return &Assessment{
		Mask:     mask,
		Criteria: applied,
		Flags:    flags,
		Quality:  quality,
		Report:   report,
	}, nil
}

func buildCriteria(flags *Flags, quality *QualityMap, snow *raster.Band, nightOnly, qualityFallback bool) ([]Criterion, error) {
	confidence, err := flags.Enum(FieldCloudConfidence)
	if err != nil {
		return nil, err
	}
	snowIce, err := flags.Bool(FieldSnowIce)
	if err != nil {
		return nil, err
	}

	criteria := []Criterion{{Name: CriterionClearSky, Pass: ClearSky(confidence), Fallback: true}}
	if snow != nil {
		criteria = append(criteria, Criterion{Name: CriterionNoSnowPrimary, Pass: Equals(snow.Data, 0), Fallback: true})
	}
	criteria = append(criteria,
		Criterion{Name: CriterionNoSnowSecondary, Pass: Not(snowIce), Fallback: true},
		Criterion{Name: CriterionHighQuality, Pass: quality.HighQuality(), Fallback: qualityFallback},
	)
	if nightOnly {
		day, err := flags.Bool(FieldDayNight)
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, Criterion{Name: CriterionNightOnly, Pass: Not(day), Fallback: true})
	}
	return criteria, nil
}

func rejections(flags *Flags, quality *QualityMap, snow *SnowBreakdown) Rejections {
	var r Rejections
	total := len(quality.Codes)
	if conf, err := flags.Enum(FieldCloudConfidence); err == nil {
		n := 0
		for _, v := range conf {
			if v > 1 {
				n++
			}
		}
		r.CloudsPercent = percent(n, total)
	}
	if snow != nil {
		r.SnowPercent = snow.SnowPercent
	} else if snowIce, err := flags.Bool(FieldSnowIce); err == nil {
		r.SnowPercent = percent(countTrue(snowIce), total)
	}
	poor := 0
	for _, c := range quality.Codes {
		if c > QualityHighEphemeral {
			poor++
		}
	}
	r.PoorQualityPercent = percent(poor, total)
	if day, err := flags.Bool(FieldDayNight); err == nil {
		r.DaytimePercent = percent(countTrue(day), total)
	}
	return r
}

func warnings(r Report, quality *QualityMap, product Product, applied []Criterion) []string {
	var out []string
	if r.Snow != nil && r.Snow.Significant {
		out = append(out, fmt.Sprintf("significant snow cover: %.1f%% of pixels", r.Snow.SnowPercent))
	}
	if len(product.ExpectedQuality) > 0 {
		var unexpected []QualityCode
		for _, c := range quality.Distinct() {
			if !slices.Contains(product.ExpectedQuality, c) {
				unexpected = append(unexpected, c)
			}
		}
		if len(unexpected) > 0 {
			out = append(out, fmt.Sprintf("unexpected quality codes: %v", unexpected))
		}
	}
	for _, c := range applied {
		if c.Degenerate {
			out = append(out, fmt.Sprintf("criterion %s passes no pixel; ignored", c.Name))
		}
	}
	if r.Status == StatusNoUsableData {
		out = append(out, "no usable pixels after filtering")
	}
	return out
}

func sceneRegionDate(id string, opts AssessOptions) (string, string) {
	region, date := opts.Region, opts.Date
	if r, d, ok := ParseSceneName(id); ok {
		if region == "" {
			region = r
		}
		if date == "" {
			date = d.Format(time.DateOnly)
		}
	}
	return region, date
}
