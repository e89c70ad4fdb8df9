package domain

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

func TestFilterAND(t *testing.T) {
	criteria := []Criterion{
		{Name: "a", Pass: []bool{true, true, false, true}},
		{Name: "b", Pass: []bool{true, false, true, true}},
	}
	mask, applied, err := Filter(criteria, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, false, true}, mask.Usable)
	assert.Equal(t, 2, mask.Count())
	assert.InDelta(t, 0.5, mask.Fraction(), 1e-12)
	assert.Equal(t, 2, mask.Width)
	assert.Len(t, applied, 2)
}

func TestMaskScene(t *testing.T) {
	meta := raster.Metadata{CRS: "EPSG:4326", Bounds: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}, PixelSize: [2]float64{1, 1}}
	s := Mask{Width: 2, Height: 2, Usable: []bool{true, false, false, true}}.Scene("mask", meta)

	require.NoError(t, s.Validate(1))
	assert.Equal(t, raster.Uint8, s.Bands[0].Type)
	assert.Equal(t, []float64{1, 0, 0, 1}, s.Bands[0].Data)
	assert.Equal(t, meta.Bounds, s.Meta.Bounds)
	assert.Equal(t, "EPSG:4326", s.Meta.CRS)
	assert.Equal(t, 1, s.Meta.BandCount)
}

func TestFilterNoCriteria(t *testing.T) {
	mask, _, err := Filter(nil, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, mask.Usable)
}

func TestFilterShapeMismatch(t *testing.T) {
	_, _, err := Filter([]Criterion{{Name: "a", Pass: []bool{true}}}, 2, 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFilterDegenerateFallback(t *testing.T) {
	snow := Criterion{Name: CriterionNoSnowPrimary, Pass: []bool{false, false, false, false}, Fallback: true}
	sky := Criterion{Name: CriterionClearSky, Pass: []bool{true, false, true, false}, Fallback: true}

	with, applied, err := Filter([]Criterion{sky, snow}, 2, 2)
	require.NoError(t, err)
	without, _, err := Filter([]Criterion{sky}, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, without.Usable, with.Usable)
	assert.True(t, applied[1].Degenerate)
	assert.Equal(t, []bool{true, true, true, true}, applied[1].Pass)
	assert.False(t, applied[0].Degenerate)
	// The input criterion is untouched.
	assert.Equal(t, []bool{false, false, false, false}, snow.Pass)
	assert.False(t, snow.Degenerate)
}

func TestFilterFallbackIsPerCriterion(t *testing.T) {
	// Each criterion alone passes somewhere, so neither falls back even though
	// their conjunction is empty.
	a := Criterion{Name: "a", Pass: []bool{true, false}, Fallback: true}
	b := Criterion{Name: "b", Pass: []bool{false, true}, Fallback: true}

	mask, applied, err := Filter([]Criterion{a, b}, 2, 1)
	require.NoError(t, err)
	assert.Zero(t, mask.Count())
	assert.False(t, applied[0].Degenerate)
	assert.False(t, applied[1].Degenerate)
}

func TestFilterNoFallbackPolicy(t *testing.T) {
	hq := Criterion{Name: CriterionHighQuality, Pass: []bool{false, false}}
	mask, applied, err := Filter([]Criterion{hq}, 2, 1)
	require.NoError(t, err)
	assert.Zero(t, mask.Count())
	assert.False(t, applied[0].Degenerate)
}

func TestFilterMonotonicity(t *testing.T) {
	// Every subset of criteria, with each one replaced by all-true in turn,
	// can only keep or grow the usable count.
	base := []Criterion{
		{Name: "a", Pass: []bool{true, true, false, true, true, false}, Fallback: true},
		{Name: "b", Pass: []bool{true, false, true, true, true, true}, Fallback: true},
		{Name: "c", Pass: []bool{false, true, true, true, false, true}},
		{Name: "d", Pass: []bool{false, false, false, false, false, false}, Fallback: true},
	}
	full, _, err := Filter(base, 3, 2)
	require.NoError(t, err)

	for drop := range base {
		relaxed := make([]Criterion, len(base))
		copy(relaxed, base)
		relaxed[drop] = Criterion{Name: base[drop].Name, Pass: allTrue(6)}

		got, _, err := Filter(relaxed, 3, 2)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Count(), full.Count(), "dropping %s", base[drop].Name)
		for i := range got.Usable {
			if full.Usable[i] {
				assert.True(t, got.Usable[i], "pixel %d lost after dropping %s", i, base[drop].Name)
			}
		}
	}
}

func TestCriterionHelpers(t *testing.T) {
	assert.Equal(t, []bool{true, true, false, false}, ClearSky([]uint16{0, 1, 2, 3}))
	assert.Equal(t, []bool{true, false, false}, Equals([]float64{0, 1, 255}, 0))
	assert.Equal(t, []bool{false, true}, Not([]bool{true, false}))
}

func TestCountCriteria(t *testing.T) {
	counts := CountCriteria([]Criterion{
		{Name: "a", Pass: []bool{true, false, false, false}},
		{Name: "b", Pass: []bool{true, true, true, true}, Degenerate: true},
	}, 4)
	assert.Equal(t, []CriterionCount{
		{Name: "a", Pixels: 1, Percent: 25},
		{Name: "b", Pixels: 4, Percent: 100, Degenerate: true},
	}, counts)
}
