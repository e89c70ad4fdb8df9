package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSceneRequest(t *testing.T) {
	t.Run("json request", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"scene":"s3://viirs/NJ_2021-03-01.tif","variant":"seven_band","region":"nj","date":"2021-03-01","night_only":false}`)}
		req, err := ParseSceneRequest(raw)
		require.NoError(t, err)
		assert.Equal(t, "s3://viirs/NJ_2021-03-01.tif", req.Scene)
		assert.Equal(t, "seven_band", req.Variant)
		assert.Equal(t, "NJ", req.Region)
		assert.Equal(t, "2021-03-01", req.Date)
		require.NotNil(t, req.NightOnly)
		assert.False(t, *req.NightOnly)
	})

	t.Run("bare path with variant header", func(t *testing.T) {
		raw := RawEvent{Value: []byte(" /data/PA_2021-01-05.tif\n"), Headers: map[string]string{"variant": "four_band"}}
		req, err := ParseSceneRequest(raw)
		require.NoError(t, err)
		assert.Equal(t, "/data/PA_2021-01-05.tif", req.Scene)
		assert.Equal(t, "four_band", req.Variant)
		assert.Nil(t, req.NightOnly)
	})

	for name, value := range map[string]string{
		"empty":         "",
		"invalid json":  "{invalid json",
		"missing scene": `{"variant":"seven_band"}`,
		"bad date":      `{"scene":"a.tif","date":"03/01/2021"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSceneRequest(RawEvent{Value: []byte(value)})
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
}

func TestSerializeReport(t *testing.T) {
	now := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	r := Report{ID: "abc", Scene: "NJ_2021-03-01.tif", Variant: SevenBand, Status: StatusOK, UsablePixels: 2, ProcessedAt: now}

	out, err := SerializeReport(r)
	require.NoError(t, err)

	assert.Equal(t, []byte("abc"), out.Key)
	assert.Equal(t, "seven_band", out.Headers["variant"])
	assert.Equal(t, "ok", out.Headers["status"])
	assert.Equal(t, now.Format(time.RFC3339), out.Headers["processed_at"])
	require.NotNil(t, out.Report)
	assert.Equal(t, "abc", out.Report.ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Value, &decoded))
	assert.Equal(t, "NJ_2021-03-01.tif", decoded["scene"])
	assert.Equal(t, 2.0, decoded["usable_pixels"])
}
