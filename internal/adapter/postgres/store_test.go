package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

type call struct {
	query string
	args  []any
}

type fakeDB struct {
	calls []call
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, call{query: query, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return driverResult(1), nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func sampleReport(status string) domain.Report {
	r := domain.Report{
		ID:            "abc",
		Scene:         "s3://viirs/NJ_2021-03-01.tif",
		Variant:       domain.SevenBand,
		Region:        "NJ",
		Date:          "2021-03-01",
		NightOnly:     true,
		Status:        status,
		TotalPixels:   4,
		ProcessedAt:   time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC),
		Warnings:      []string{"no usable pixels after filtering"},
		UsablePercent: 0,
	}
	if status == domain.StatusOK {
		r.UsablePixels = 2
		r.UsablePercent = 50
		r.Warnings = nil
		r.Filtered = &domain.Stats{Count: 2, Mean: 15, Median: 15}
	}
	return r
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewStore(db).EnsureSchema(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].query, "CREATE TABLE IF NOT EXISTS qc_reports")

	db.err = errors.New("permission denied")
	assert.ErrorContains(t, NewStore(db).EnsureSchema(context.Background()), "permission denied")
}

func TestLoadBatchUpserts(t *testing.T) {
	ok, err := domain.SerializeReport(sampleReport(domain.StatusOK))
	require.NoError(t, err)
	empty := sampleReport(domain.StatusNoUsableData)
	empty.ID = "def"
	emptyOut, err := domain.SerializeReport(empty)
	require.NoError(t, err)
	emptyOut.Report = nil

	db := &fakeDB{}
	require.NoError(t, NewStore(db).LoadBatch(context.Background(), []domain.OutputEvent{ok, emptyOut}))
	require.Len(t, db.calls, 2)

	first := db.calls[0]
	assert.True(t, strings.HasPrefix(first.query, "INSERT INTO qc_reports"))
	assert.Contains(t, first.query, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, first.args, 15)
	assert.Equal(t, "abc", first.args[0])
	assert.Equal(t, "seven_band", first.args[2])
	assert.Equal(t, sql.NullString{String: "NJ", Valid: true}, first.args[3])
	assert.Equal(t, sql.NullFloat64{Float64: 15, Valid: true}, first.args[10])
	assert.Equal(t, string(ok.Value), first.args[13])

	second := db.calls[1]
	assert.Equal(t, "def", second.args[0])
	assert.Equal(t, domain.StatusNoUsableData, second.args[6])
	assert.Equal(t, sql.NullFloat64{}, second.args[10])
	assert.Equal(t, pq.Array([]string{"no usable pixels after filtering"}), second.args[12])
}

func TestLoadBatchErrors(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	out, err := domain.SerializeReport(sampleReport(domain.StatusOK))
	require.NoError(t, err)

	err = NewStore(db).LoadBatch(context.Background(), []domain.OutputEvent{out, out})
	require.ErrorContains(t, err, "upsert report abc")
	assert.Len(t, db.calls, 1, "stops at the first failure")

	err = NewStore(&fakeDB{}).LoadBatch(context.Background(), []domain.OutputEvent{{Key: []byte("k"), Value: []byte("{")}})
	assert.ErrorContains(t, err, "decode report k")
}
