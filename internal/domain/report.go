package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// Report statuses.
const (
	StatusOK           = "ok"
	StatusNoUsableData = "no_usable_data"
)

// snowWarningPercent is the snow share above which a scene is flagged.
const snowWarningPercent = 5.0

// Report is the structured per-scene quality-control result.
type Report struct {
	ID        string  `json:"id"`
	Scene     string  `json:"scene"`
	Variant   Variant `json:"variant"`
	Region    string  `json:"region,omitempty"`
	Date      string  `json:"date,omitempty"`
	NightOnly bool    `json:"night_only"`
	Status    string  `json:"status"`

	Metadata raster.Metadata `json:"metadata"`
	Center   *orb.Point      `json:"center,omitempty"`

	TotalPixels   int     `json:"total_pixels"`
	UsablePixels  int     `json:"usable_pixels"`
	UsablePercent float64 `json:"usable_percent"`

	Criteria   []CriterionCount `json:"criteria"`
	Quality    QualityBreakdown `json:"quality"`
	Flags      []FlagHistogram  `json:"flags"`
	Snow       *SnowBreakdown   `json:"snow,omitempty"`
	Bands      []BandSummary    `json:"bands"`
	Lunar      bool             `json:"lunar_present"`
	Filtered   *Stats           `json:"filtered,omitempty"`
	Rejections Rejections       `json:"rejections"`
	Warnings   []string         `json:"warnings,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// FlagBin is one value of a decoded flag field.
type FlagBin struct {
	Value   uint16  `json:"value"`
	Label   string  `json:"label"`
	Pixels  int     `json:"pixels"`
	Percent float64 `json:"percent"`
}

// FlagHistogram counts the values of one decoded field.
type FlagHistogram struct {
	Field string    `json:"field"`
	Kind  FieldKind `json:"kind"`
	Bins  []FlagBin `json:"bins"`
}

// SnowBreakdown summarizes the independent snow band.
type SnowBreakdown struct {
	NoSnowPixels  int     `json:"no_snow_pixels"`
	NoSnowPercent float64 `json:"no_snow_percent"`
	SnowPixels    int     `json:"snow_pixels"`
	SnowPercent   float64 `json:"snow_percent"`
	OtherPixels   int     `json:"other_pixels"`
	Significant   bool    `json:"significant"`
}

// Rejections are the shares of pixels failing each reason, independently.
type Rejections struct {
	CloudsPercent      float64 `json:"clouds_percent"`
	SnowPercent        float64 `json:"snow_percent"`
	PoorQualityPercent float64 `json:"poor_quality_percent"`
	DaytimePercent     float64 `json:"daytime_percent"`
}

var (
	landWaterLabels = []string{
		"Land & Desert", "Land no Desert", "Inland Water", "Sea Water",
		"Unknown", "Coastal", "Unknown", "Unknown",
	}
	cloudQualityLabels    = []string{"Poor", "Low", "Medium", "High"}
	cloudConfidenceLabels = []string{"Confident Clear", "Probably Clear", "Probably Cloudy", "Confident Cloudy"}
	fieldLabels           = map[string][]string{
		FieldDayNight:         {"Night", "Day"},
		FieldLandWater:        landWaterLabels,
		FieldCloudMaskQuality: cloudQualityLabels,
		FieldCloudConfidence:  cloudConfidenceLabels,
		FieldShadow:           {"No shadow", "Shadow"},
		FieldCirrus:           {"No cirrus", "Cirrus"},
		FieldSnowIce:          {"No snow/ice", "Snow/ice"},
	}
)

// FieldLabel returns the display label for a decoded field value.
func FieldLabel(field string, v uint16) string {
	if labels, ok := fieldLabels[field]; ok && int(v) < len(labels) {
		return labels[v]
	}
	return fmt.Sprintf("%d", v)
}

// histogram counts every value that occurs. Labelled values of fields other
// than land/water are listed even when absent.
func histogram(flags *Flags) []FlagHistogram {
	schema := flags.Schema()
	out := make([]FlagHistogram, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		values, _ := flags.Enum(f.Name)
		counts := make(map[uint16]int)
		for _, v := range values {
			counts[v]++
		}
		if f.Name != FieldLandWater {
			for i := range fieldLabels[f.Name] {
				if uint64(i) <= f.mask() {
					counts[uint16(i)] += 0
				}
			}
		}
		keys := make([]uint16, 0, len(counts))
		for v := range counts {
			keys = append(keys, v)
		}
		slices.Sort(keys)

		h := FlagHistogram{Field: f.Name, Kind: f.Kind}
		for _, v := range keys {
			n := counts[v]
			h.Bins = append(h.Bins, FlagBin{Value: v, Label: FieldLabel(f.Name, v), Pixels: n, Percent: percent(n, len(values))})
		}
		out = append(out, h)
	}
	return out
}

func snowBreakdown(band raster.Band) *SnowBreakdown {
	var s SnowBreakdown
	for _, v := range band.Data {
		switch v {
		case 0:
			s.NoSnowPixels++
		case 1:
			s.SnowPixels++
		default:
			s.OtherPixels++
		}
	}
	total := len(band.Data)
	s.NoSnowPercent = percent(s.NoSnowPixels, total)
	s.SnowPercent = percent(s.SnowPixels, total)
	s.Significant = s.SnowPercent > snowWarningPercent
	return &s
}

// sceneNameRe matches "<REGION>_<YYYY-MM-DD>" scene names.
var sceneNameRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*)_(\d{4}-\d{2}-\d{2})$`)

// ParseSceneName extracts the region and date from a scene identifier such as
// "s3://bucket/viirs/NJ_2021-03-01.tif".
func ParseSceneName(id string) (region string, date time.Time, ok bool) {
	base := path.Base(strings.ReplaceAll(id, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	m := sceneNameRe.FindStringSubmatch(base)
	if m == nil {
		return "", time.Time{}, false
	}
	d, err := time.Parse(time.DateOnly, m[2])
	if err != nil {
		return "", time.Time{}, false
	}
	return strings.ToUpper(m[1]), d, true
}

// ReportID is the deterministic report key for a scene assessment.
func ReportID(scene string, variant Variant, nightOnly bool) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%t", scene, variant, nightOnly)))
	return hex.EncodeToString(sum[:16])
}

func boundsCenter(meta raster.Metadata) *orb.Point {
	if meta.Bounds.IsEmpty() {
		return nil
	}
	c := meta.Bounds.Center()
	return &c
}
