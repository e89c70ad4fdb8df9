package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// ErrNoUsableData is returned when a mask selects no valid pixel, leaving the
// statistics undefined.
var ErrNoUsableData = errors.New("no usable data")

// Stats are descriptive statistics of the valid samples of a band.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes statistics over the mask-true pixels of values,
// excluding NaN, infinities, the band's nodata value, and fill.
func Summarize(values raster.Band, mask Mask, fill *float64) (Stats, error) {
	if len(mask.Usable) != len(values.Data) {
		return Stats{}, fmt.Errorf("%w: band %d has %d pixels, mask has %d", ErrShapeMismatch, values.Index, len(values.Data), len(mask.Usable))
	}
	data := make(stats.Float64Data, 0, len(values.Data))
	for i, v := range values.Data {
		if mask.Usable[i] && valid(values, v, fill) {
			data = append(data, v)
		}
	}
	return describe(data)
}

// BandSummary describes one continuous band over the whole scene.
type BandSummary struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Stats          *Stats  `json:"stats,omitempty"`
	NonZeroPixels  int     `json:"non_zero_pixels"`
	NonZeroPercent float64 `json:"non_zero_percent"`
}

// SummarizeBand describes every valid sample of a band, unmasked. Stats is
// nil when the band holds no valid sample.
func SummarizeBand(band raster.Band, fill *float64) BandSummary {
	data := make(stats.Float64Data, 0, len(band.Data))
	nonZero := 0
	for _, v := range band.Data {
		if !valid(band, v, fill) {
			continue
		}
		data = append(data, v)
		if v > 0 {
			nonZero++
		}
	}
	out := BandSummary{
		Index:          band.Index,
		Name:           band.Name,
		NonZeroPixels:  nonZero,
		NonZeroPercent: percent(nonZero, len(band.Data)),
	}
	if s, err := describe(data); err == nil {
		out.Stats = &s
	}
	return out
}

func describe(data stats.Float64Data) (Stats, error) {
	if len(data) == 0 {
		return Stats{}, ErrNoUsableData
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return Stats{}, fmt.Errorf("mean: %w", err)
	}
	median, err := stats.Median(data)
	if err != nil {
		return Stats{}, fmt.Errorf("median: %w", err)
	}
	std, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return Stats{}, fmt.Errorf("std: %w", err)
	}
	lo, err := stats.Min(data)
	if err != nil {
		return Stats{}, fmt.Errorf("min: %w", err)
	}
	hi, err := stats.Max(data)
	if err != nil {
		return Stats{}, fmt.Errorf("max: %w", err)
	}
	return Stats{Count: len(data), Mean: mean, Median: median, Std: std, Min: lo, Max: hi}, nil
}

func valid(band raster.Band, v float64, fill *float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || band.IsNoData(v) {
		return false
	}
	return fill == nil || v != *fill
}

// CriterionCount is the pass count of one criterion.
type CriterionCount struct {
	Name       string  `json:"name"`
	Pixels     int     `json:"pixels"`
	Percent    float64 `json:"percent"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// CountCriteria reports how many pixels each applied criterion passes, as a
// percentage of total pixels.
func CountCriteria(criteria []Criterion, total int) []CriterionCount {
	out := make([]CriterionCount, len(criteria))
	for i, c := range criteria {
		n := c.Passing()
		out[i] = CriterionCount{Name: c.Name, Pixels: n, Percent: percent(n, total), Degenerate: c.Degenerate}
	}
	return out
}

// QualityCount is the pixel count of one quality code.
type QualityCount struct {
	Code       QualityCode `json:"code"`
	Label      string      `json:"label"`
	Class      string      `json:"class"`
	Recognized bool        `json:"recognized"`
	Pixels     int         `json:"pixels"`
	Percent    float64     `json:"percent"`
}

// QualityBreakdown summarizes a quality band.
type QualityBreakdown struct {
	Codes              []QualityCount `json:"codes"`
	HighQualityPixels  int            `json:"high_quality_pixels"`
	HighQualityPercent float64        `json:"high_quality_percent"`
	UnrecognizedPixels int            `json:"unrecognized_pixels"`
}

// CountQuality counts each distinct code. Unrecognized codes are listed with
// Recognized=false and no percentage; every code counts toward the total.
func CountQuality(q *QualityMap) QualityBreakdown {
	counts := make(map[QualityCode]int)
	for _, c := range q.Codes {
		counts[c]++
	}
	total := len(q.Codes)

	var out QualityBreakdown
	for _, code := range q.Distinct() {
		n := counts[code]
		qc := QualityCount{
			Code:       code,
			Label:      code.Label(),
			Class:      code.Class().String(),
			Recognized: code.Recognized(),
			Pixels:     n,
		}
		if qc.Recognized {
			qc.Percent = percent(n, total)
		} else {
			out.UnrecognizedPixels += n
		}
		if code.IsHighQuality() {
			out.HighQualityPixels += n
		}
		out.Codes = append(out.Codes, qc)
	}
	out.HighQualityPercent = percent(out.HighQualityPixels, total)
	return out
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
