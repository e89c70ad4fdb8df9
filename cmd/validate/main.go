// Command validate performs integrity checks on a quality-control time-series
// CSV written by cmd/batch: header layout, per-row value ranges and
// consistency, and series-level ordering and uniqueness.
//
// Usage:
//
//	go run ./cmd/validate -csv out/viirs_qc.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/nightlight-qc/internal/adapter/fs"
	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	csvPath := flag.String("csv", "", "path to the time-series CSV")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*csvPath, os.Stdout); code != 0 {
		os.Exit(code)
	}
}

func run(csvPath string, out io.Writer) int {
	fmt.Fprintln(out, "=== VIIRS QC Series Validation ===")
	fmt.Fprintln(out)

	header, rows, err := loadCSV(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load CSV: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	headerPhase := validateHeader(header)
	phases := []*phase{headerPhase}
	if headerPhase.passed() {
		phases = append(phases, validateRows(rows), validateSeries(rows))
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rows: %d\n", len(rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by header name.
type csvRow struct {
	lineNum int
	fields  map[string]string
}

func (r csvRow) get(col string) string { return r.fields[col] }

func loadCSV(path string) ([]string, []csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}

	header := records[0]
	rows := make([]csvRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(rec) {
				fields[h] = rec[j]
			}
		}
		rows = append(rows, csvRow{lineNum: i + 2, fields: fields})
	}
	return header, rows, nil
}

// ── Phase 1: header ──

func validateHeader(header []string) *phase {
	p := &phase{name: "Phase 1: Header layout"}
	if !slices.Equal(header, fs.Header) {
		p.errorf("header %v, want %v", header, fs.Header)
	}
	return p
}

// ── Phase 2: per-row integrity ──

var percentCols = []string{
	"usable_percent", "high_quality_percent", "clouds_percent",
	"snow_percent", "poor_quality_percent", "daytime_percent",
}

var statCols = []string{"mean", "median", "std", "min", "max"}

func validateRows(rows []csvRow) *phase {
	p := &phase{name: "Phase 2: Row integrity"}
	for _, r := range rows {
		checkRowFields(p, r)
		checkRowCounts(p, r)
		checkRowStats(p, r)
	}
	return p
}

func checkRowFields(p *phase, r csvRow) {
	if r.get("scene") == "" {
		p.errorf("line %d: empty scene", r.lineNum)
	}
	if _, err := domain.ParseVariant(r.get("variant")); err != nil {
		p.errorf("line %d: %v", r.lineNum, err)
	}
	if d := r.get("date"); d != "" {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			p.errorf("line %d: date %q is not YYYY-MM-DD", r.lineNum, d)
		}
	}
	for _, col := range []string{"night_only", "lunar_present"} {
		if _, err := strconv.ParseBool(r.get(col)); err != nil {
			p.errorf("line %d: %s %q is not a bool", r.lineNum, col, r.get(col))
		}
	}
	if _, err := time.Parse(time.RFC3339, r.get("processed_at")); err != nil {
		p.errorf("line %d: processed_at %q is not RFC 3339", r.lineNum, r.get("processed_at"))
	}
}

func checkRowCounts(p *phase, r csvRow) {
	total, errT := strconv.Atoi(r.get("total_pixels"))
	usable, errU := strconv.Atoi(r.get("usable_pixels"))
	if errT != nil || errU != nil {
		p.errorf("line %d: pixel counts %q/%q are not integers", r.lineNum, r.get("usable_pixels"), r.get("total_pixels"))
		return
	}
	if total <= 0 || usable < 0 || usable > total {
		p.errorf("line %d: usable_pixels %d outside [0, total_pixels %d]", r.lineNum, usable, total)
	}

	for _, col := range percentCols {
		v, err := strconv.ParseFloat(r.get(col), 64)
		if err != nil {
			p.errorf("line %d: %s %q is not a number", r.lineNum, col, r.get(col))
			continue
		}
		if v < 0 || v > 100 {
			p.errorf("line %d: %s %.4f outside [0, 100]", r.lineNum, col, v)
		}
	}

	if pct, err := strconv.ParseFloat(r.get("usable_percent"), 64); err == nil && total > 0 {
		if want := 100 * float64(usable) / float64(total); !floatEq(pct, want) {
			p.errorf("line %d: usable_percent %.4f, counts give %.4f", r.lineNum, pct, want)
		}
	}

	switch status := r.get("status"); status {
	case domain.StatusOK:
		if usable == 0 {
			p.errorf("line %d: status ok with zero usable pixels", r.lineNum)
		}
	case domain.StatusNoUsableData:
	default:
		p.errorf("line %d: unknown status %q", r.lineNum, status)
	}
}

func checkRowStats(p *phase, r csvRow) {
	noData := r.get("status") == domain.StatusNoUsableData
	vals := make(map[string]float64, len(statCols))
	for _, col := range statCols {
		s := r.get(col)
		if noData {
			if s != "" {
				p.errorf("line %d: %s set for a scene without usable data", r.lineNum, col)
			}
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			p.errorf("line %d: %s %q is not a finite number", r.lineNum, col, s)
			return
		}
		vals[col] = v
	}
	if noData {
		return
	}
	lo, hi := vals["min"], vals["max"]
	for _, col := range []string{"mean", "median"} {
		if vals[col] < lo-1e-4 || vals[col] > hi+1e-4 {
			p.errorf("line %d: %s %.4f outside [min %.4f, max %.4f]", r.lineNum, col, vals[col], lo, hi)
		}
	}
	if vals["std"] < 0 {
		p.errorf("line %d: negative std %.4f", r.lineNum, vals["std"])
	}
}

// ── Phase 3: series consistency ──

func validateSeries(rows []csvRow) *phase {
	p := &phase{name: "Phase 3: Series ordering and uniqueness"}

	runIDs := map[string]bool{}
	seen := map[string]int{}
	for i, r := range rows {
		runIDs[r.get("run_id")] = true

		key := fmt.Sprintf("%s|%s|%s|%s|%s", r.get("region"), r.get("date"), r.get("scene"), r.get("variant"), r.get("night_only"))
		if prev, ok := seen[key]; ok {
			p.errorf("line %d: duplicates line %d (%s %s %s)", r.lineNum, prev, r.get("region"), r.get("date"), r.get("scene"))
		}
		seen[key] = r.lineNum

		if i > 0 && less(r, rows[i-1]) {
			p.errorf("line %d: out of order after line %d", r.lineNum, rows[i-1].lineNum)
		}
	}
	if len(runIDs) > 1 {
		p.errorf("%d distinct run_id values in one series", len(runIDs))
	}
	return p
}

func less(a, b csvRow) bool {
	for _, col := range []string{"region", "date", "scene"} {
		if a.get(col) != b.get(col) {
			return a.get(col) < b.get(col)
		}
	}
	return false
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}
