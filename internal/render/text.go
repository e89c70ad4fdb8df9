// Package render formats quality-control reports for people.
package render

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

const rule = "============================================================"

// Text writes the sectioned console report for one scene.
func Text(w io.Writer, r domain.Report) error {
	p := &printer{w: w}

	p.section(fmt.Sprintf("SCENE: %s", r.Scene))
	p.linef("Variant: %s", r.Variant)
	if r.Region != "" || r.Date != "" {
		p.linef("Region: %s   Date: %s", orDash(r.Region), orDash(r.Date))
	}
	p.linef("Size: %d x %d (%d bands, %d pixels)", r.Metadata.Width, r.Metadata.Height, r.Metadata.BandCount, r.TotalPixels)
	if r.Metadata.CRS != "" {
		p.linef("CRS: %s", r.Metadata.CRS)
	}
	if !r.Metadata.Bounds.IsEmpty() {
		b := r.Metadata.Bounds
		p.linef("Bounds: [%.4f, %.4f] - [%.4f, %.4f]", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	}

	for _, b := range r.Bands {
		p.section(fmt.Sprintf("BAND %d: %s", b.Index, b.Name))
		if b.Stats == nil {
			p.linef("No valid samples")
			continue
		}
		s := b.Stats
		p.linef("Range: %.2f - %.2f", s.Min, s.Max)
		p.linef("Mean: %.2f", s.Mean)
		p.linef("Median: %.2f", s.Median)
		p.linef("Std Dev: %.2f", s.Std)
		p.linef("Non-zero pixels: %d / %d (%.1f%%)", b.NonZeroPixels, r.TotalPixels, b.NonZeroPercent)
	}
	p.linef("Lunar data present: %t", r.Lunar)

	p.section("MANDATORY QUALITY FLAG")
	p.table(func(tw *tabwriter.Writer) {
		for _, c := range r.Quality.Codes {
			pct := fmt.Sprintf("%.1f%%", c.Percent)
			if !c.Recognized {
				pct = "-"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%d px\t%s\n", c.Code, c.Label, c.Pixels, pct)
		}
	})
	p.linef("High-quality pixels (0-1): %d (%.1f%%)", r.Quality.HighQualityPixels, r.Quality.HighQualityPercent)
	if r.Quality.UnrecognizedPixels > 0 {
		p.linef("Unrecognized codes: %d pixels", r.Quality.UnrecognizedPixels)
	}

	if r.Snow != nil {
		p.section("SNOW FLAG")
		p.linef("No Snow/Ice (0): %d pixels (%.1f%%)", r.Snow.NoSnowPixels, r.Snow.NoSnowPercent)
		p.linef("Snow/Ice (1): %d pixels (%.1f%%)", r.Snow.SnowPixels, r.Snow.SnowPercent)
	}

	p.section("CLOUD MASK FLAGS")
	for _, h := range r.Flags {
		p.linef("%s:", h.Field)
		p.table(func(tw *tabwriter.Writer) {
			for _, bin := range h.Bins {
				fmt.Fprintf(tw, "  %d\t%s\t%d px\t%.1f%%\n", bin.Value, bin.Label, bin.Pixels, bin.Percent)
			}
		})
	}

	p.section("FILTER COMPONENTS")
	p.table(func(tw *tabwriter.Writer) {
		for _, c := range r.Criteria {
			note := ""
			if c.Degenerate {
				note = "(no pixel passed; ignored)"
			}
			fmt.Fprintf(tw, "  %s\t%d\t%.1f%%\t%s\n", c.Name, c.Pixels, c.Percent, note)
		}
	})
	p.linef("USABLE PIXELS: %d / %d (%.1f%%)", r.UsablePixels, r.TotalPixels, r.UsablePercent)

	p.section("FILTERED STATISTICS")
	if f := r.Filtered; f != nil {
		p.linef("Valid pixels: %d", f.Count)
		p.linef("Mean: %.2f", f.Mean)
		p.linef("Median: %.2f", f.Median)
		p.linef("Std Dev: %.2f", f.Std)
		p.linef("Max: %.2f", f.Max)
	} else {
		p.linef("No usable data")
	}

	p.section("REJECTION REASONS")
	p.linef("Clouds: %.1f%%", r.Rejections.CloudsPercent)
	p.linef("Snow: %.1f%%", r.Rejections.SnowPercent)
	p.linef("Poor Quality: %.1f%%", r.Rejections.PoorQualityPercent)
	p.linef("Daytime: %.1f%%", r.Rejections.DaytimePercent)

	if len(r.Warnings) > 0 {
		p.section("WARNINGS")
		for _, msg := range r.Warnings {
			p.linef("! %s", msg)
		}
	}
	return p.err
}

// printer remembers the first write error so Text can check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) section(title string) {
	p.linef("")
	p.linef("%s", rule)
	p.linef("%s", title)
	p.linef("%s", rule)
}

func (p *printer) table(rows func(tw *tabwriter.Writer)) {
	if p.err != nil {
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	rows(tw)
	p.err = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
