package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/nightlight-qc/internal/adapter/http"
	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockAssessor struct {
	got domain.SceneRequest
	err error
}

func (m *mockAssessor) Assess(_ context.Context, req domain.SceneRequest) (*domain.Assessment, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Assessment{Report: domain.Report{
		ID:           "abc",
		Scene:        req.Scene,
		Variant:      domain.SevenBand,
		Status:       domain.StatusOK,
		TotalPixels:  4,
		UsablePixels: 2,
	}}, nil
}

func newTestServer(readyErr error, assessor httpadapter.Assessor) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, assessor, slog.Default())
}

func serve(srv *httpadapter.Server, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("not ready yet"), nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAssessDisabledWithoutAssessor(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodPost, "/assess", `{"scene":"a.tif"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssessReturnsReport(t *testing.T) {
	a := &mockAssessor{}
	rec := serve(newTestServer(nil, a), http.MethodPost, "/assess?variant=four_band", `{"scene":"s3://viirs/NJ_2021-03-01.tif"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "four_band", a.got.Variant)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc", body["id"])
	assert.Equal(t, "s3://viirs/NJ_2021-03-01.tif", body["scene"])
}

func TestAssessTextFormat(t *testing.T) {
	rec := serve(newTestServer(nil, &mockAssessor{}), http.MethodPost, "/assess?format=text", "s3://viirs/NJ_2021-03-01.tif")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SCENE: s3://viirs/NJ_2021-03-01.tif")
	assert.Contains(t, rec.Body.String(), "USABLE PIXELS: 2 / 4")
}

func TestAssessErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"empty body", "", nil, http.StatusBadRequest},
		{"unreadable", "s3://viirs/a.tif", fmt.Errorf("open: %w", raster.ErrSceneUnreadable), http.StatusNotFound},
		{"schema", "s3://viirs/a.tif", domain.ErrSchemaMismatch, http.StatusUnprocessableEntity},
		{"variant", "s3://viirs/a.tif", domain.ErrUnknownVariant, http.StatusBadRequest},
		{"other", "s3://viirs/a.tif", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestServer(nil, &mockAssessor{err: tt.err}), http.MethodPost, "/assess", tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAssessRestrictsLocalScenes(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.tif"), filepath.Join(root, "link.tif")))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.tif"), nil, 0o644))

	tests := []struct {
		name      string
		opts      []httpadapter.ServerOption
		body      string
		want      int
		wantScene string
	}{
		{"s3 without root", nil, "s3://viirs/NJ.tif", http.StatusOK, "s3://viirs/NJ.tif"},
		{"local without root", nil, "NJ.tif", http.StatusForbidden, ""},
		{"other scheme", nil, "file:///etc/passwd", http.StatusForbidden, ""},
		{"relative under root", []httpadapter.ServerOption{httpadapter.WithSceneRoot(root)}, "2021/NJ.tif", http.StatusOK, filepath.Join(root, "2021", "NJ.tif")},
		{"absolute under root", []httpadapter.ServerOption{httpadapter.WithSceneRoot(root)}, filepath.Join(root, "NJ.tif"), http.StatusOK, filepath.Join(root, "NJ.tif")},
		{"parent escape", []httpadapter.ServerOption{httpadapter.WithSceneRoot(root)}, "../NJ.tif", http.StatusForbidden, ""},
		{"absolute outside", []httpadapter.ServerOption{httpadapter.WithSceneRoot(root)}, "/etc/passwd", http.StatusForbidden, ""},
		{"symlink outside", []httpadapter.ServerOption{httpadapter.WithSceneRoot(root)}, "link.tif", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &mockAssessor{}
			srv := httpadapter.NewServer(":0", &mockReadiness{}, a, slog.Default(), tt.opts...)
			rec := serve(srv, http.MethodPost, "/assess", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantScene, a.got.Scene)
		})
	}
}
