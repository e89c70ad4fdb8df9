package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
	"github.com/couchcryptid/nightlight-qc/internal/raster/geotiff"
	"github.com/couchcryptid/nightlight-qc/internal/synth"
)

func writeScene(t *testing.T, dir string) string {
	t.Helper()
	s, err := synth.Scene("NJ_2021-03-01", domain.SevenBandProduct(), 2, 2, []synth.Pixel{
		{Radiance: 10},
		{Radiance: 20, Confidence: 1, Quality: 1},
		{Radiance: 30, Confidence: 2, Quality: 2, Day: 1},
		{Radiance: 40, Confidence: 3, Quality: 255, Day: 1},
	})
	require.NoError(t, err)
	p := filepath.Join(dir, "NJ_2021-03-01.tif")
	require.NoError(t, geotiff.WriteFile(p, s.WithType(raster.Float32), geotiff.EncodeOptions{}))
	return p
}

func defaultOptions() options {
	return options{variant: "seven_band", nightOnly: true, format: "text", region: "us-east-1", logLevel: "error"}
}

func TestRunText(t *testing.T) {
	scene := writeScene(t, t.TempDir())
	var out bytes.Buffer

	failed := run(context.Background(), defaultOptions(), []string{scene, filepath.Join(t.TempDir(), "missing.tif")}, &out)
	assert.Equal(t, 1, failed)
	assert.Contains(t, out.String(), "NJ_2021-03-01")
}

func TestRunJSONWithMask(t *testing.T) {
	scene := writeScene(t, t.TempDir())
	maskDir := t.TempDir()
	o := defaultOptions()
	o.format = "json"
	o.maskDir = maskDir
	var out bytes.Buffer

	require.Zero(t, run(context.Background(), o, []string{scene}, &out))

	var r domain.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, 2, r.UsablePixels)
	assert.Equal(t, "NJ", r.Region)

	mask, err := geotiff.FileReader{}.ReadScene(context.Background(), filepath.Join(maskDir, "NJ_2021-03-01_mask.tif"))
	require.NoError(t, err)
	require.Len(t, mask.Bands, 1)
	assert.Equal(t, raster.Uint8, mask.Bands[0].Type)
	assert.Equal(t, []float64{1, 1, 0, 0}, mask.Bands[0].Data)
}

func TestRunRejectsUnknownVariant(t *testing.T) {
	o := defaultOptions()
	o.variant = "nine_band"
	assert.Equal(t, 2, run(context.Background(), o, []string{"a.tif", "b.tif"}, &bytes.Buffer{}))
}
