package fs

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

// Header is the column layout of the time-series CSV.
var Header = []string{
	"run_id", "region", "date", "scene", "variant", "status", "night_only",
	"total_pixels", "usable_pixels", "usable_percent",
	"mean", "median", "std", "min", "max",
	"high_quality_percent", "clouds_percent", "snow_percent", "poor_quality_percent", "daytime_percent",
	"lunar_present", "warnings", "processed_at",
}

// CSVSink collects reports and writes them as one CSV row per scene, ordered
// by region, date, then scene. It implements pipeline.BatchLoader; nothing
// reaches disk until Close.
type CSVSink struct {
	path  string
	runID string

	mu   sync.Mutex
	rows map[string]domain.Report // by report ID; a rerun replaces its row
}

// NewCSVSink creates a sink writing to path. runID tags every row.
func NewCSVSink(path, runID string) *CSVSink {
	return &CSVSink{path: path, runID: runID, rows: make(map[string]domain.Report)}
}

func (s *CSVSink) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		r, err := reportOf(e)
		if err != nil {
			return err
		}
		s.rows[r.ID] = r
	}
	return nil
}

// Len returns the number of distinct reports collected.
func (s *CSVSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Close writes the CSV atomically: a temp file in the target directory is
// renamed over path.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	reports := make([]domain.Report, 0, len(s.rows))
	for _, r := range s.rows {
		reports = append(reports, r)
	}
	s.mu.Unlock()

	sort.Slice(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Scene < b.Scene
	})

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*.csv")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	w := csv.NewWriter(bw)
	if err := w.Write(Header); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range reports {
		if err := w.Write(s.record(r)); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *CSVSink) record(r domain.Report) []string {
	stat := func(f func(*domain.Stats) float64) string {
		if r.Filtered == nil {
			return ""
		}
		return formatFloat(f(r.Filtered))
	}
	return []string{
		s.runID,
		r.Region,
		r.Date,
		r.Scene,
		string(r.Variant),
		r.Status,
		strconv.FormatBool(r.NightOnly),
		strconv.Itoa(r.TotalPixels),
		strconv.Itoa(r.UsablePixels),
		formatFloat(r.UsablePercent),
		stat(func(st *domain.Stats) float64 { return st.Mean }),
		stat(func(st *domain.Stats) float64 { return st.Median }),
		stat(func(st *domain.Stats) float64 { return st.Std }),
		stat(func(st *domain.Stats) float64 { return st.Min }),
		stat(func(st *domain.Stats) float64 { return st.Max }),
		formatFloat(r.Quality.HighQualityPercent),
		formatFloat(r.Rejections.CloudsPercent),
		formatFloat(r.Rejections.SnowPercent),
		formatFloat(r.Rejections.PoorQualityPercent),
		formatFloat(r.Rejections.DaytimePercent),
		strconv.FormatBool(r.Lunar),
		strings.Join(r.Warnings, "; "),
		r.ProcessedAt.UTC().Format(time.RFC3339),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func reportOf(e domain.OutputEvent) (domain.Report, error) {
	if e.Report != nil {
		return *e.Report, nil
	}
	var r domain.Report
	if err := json.Unmarshal(e.Value, &r); err != nil {
		return domain.Report{}, fmt.Errorf("decode report %s: %w", e.Key, err)
	}
	return r, nil
}
