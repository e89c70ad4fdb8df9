package render

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

func sampleReport() domain.Report {
	return domain.Report{
		Scene:         "NJ_2021-03-01.tif",
		Variant:       domain.SevenBand,
		Region:        "NJ",
		Date:          "2021-03-01",
		Status:        domain.StatusOK,
		Metadata:      raster.Metadata{Width: 2, Height: 2, BandCount: 7, CRS: "EPSG:4326"},
		TotalPixels:   4,
		UsablePixels:  2,
		UsablePercent: 50,
		Criteria: []domain.CriterionCount{
			{Name: domain.CriterionClearSky, Pixels: 2, Percent: 50},
			{Name: domain.CriterionNoSnowPrimary, Pixels: 4, Percent: 100, Degenerate: true},
		},
		Quality: domain.QualityBreakdown{
			Codes: []domain.QualityCount{
				{Code: 0, Label: "High-quality, Persistent nighttime lights", Recognized: true, Pixels: 2, Percent: 50},
				{Code: 9, Label: "Unrecognized (9)", Pixels: 2},
			},
			HighQualityPixels:  2,
			HighQualityPercent: 50,
			UnrecognizedPixels: 2,
		},
		Filtered:   &domain.Stats{Count: 2, Mean: 15, Median: 15, Std: 5, Min: 10, Max: 20},
		Rejections: domain.Rejections{CloudsPercent: 50, DaytimePercent: 50},
		Warnings:   []string{"unexpected quality codes: [9]"},
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sampleReport()))
	out := buf.String()

	for _, want := range []string{
		"SCENE: NJ_2021-03-01.tif",
		"Region: NJ   Date: 2021-03-01",
		"CRS: EPSG:4326",
		"High-quality pixels (0-1): 2 (50.0%)",
		"Unrecognized codes: 2 pixels",
		"(no pixel passed; ignored)",
		"USABLE PIXELS: 2 / 4 (50.0%)",
		"Mean: 15.00",
		"Clouds: 50.0%",
		"! unexpected quality codes: [9]",
	} {
		assert.Contains(t, out, want)
	}
}

func TestTextNoUsableData(t *testing.T) {
	r := sampleReport()
	r.Filtered = nil
	r.Status = domain.StatusNoUsableData

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, r))
	assert.Contains(t, buf.String(), "No usable data")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTextWriteError(t *testing.T) {
	assert.EqualError(t, Text(failingWriter{}, sampleReport()), "disk full")
}
