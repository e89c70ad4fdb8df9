// Command inspect assesses one or more scenes and prints a console report
// for each.
//
// Usage:
//
//	go run ./cmd/inspect -variant seven_band data/NJ_2021-03-01.tif
//	go run ./cmd/inspect -format json -mask-dir out/ s3://viirs/NJ_2021-03-01.tif
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/nightlight-qc/internal/app"
	"github.com/couchcryptid/nightlight-qc/internal/config"
	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/observability"
	"github.com/couchcryptid/nightlight-qc/internal/pipeline"
	"github.com/couchcryptid/nightlight-qc/internal/raster/geotiff"
	"github.com/couchcryptid/nightlight-qc/internal/render"
)

type options struct {
	variant   string
	nightOnly bool
	fallback  bool
	format    string
	maskDir   string
	products  string
	region    string
	endpoint  string
	logLevel  string
}

func main() {
	var o options
	flag.StringVar(&o.variant, "variant", string(domain.SevenBand), "product variant: seven_band or four_band")
	flag.BoolVar(&o.nightOnly, "night-only", true, "exclude daytime pixels when the product supports it")
	flag.BoolVar(&o.fallback, "quality-fallback", false, "ignore a high_quality criterion that passes no pixel")
	flag.StringVar(&o.format, "format", "text", "output format: text or json")
	flag.StringVar(&o.maskDir, "mask-dir", "", "write each scene's usability mask as <scene>_mask.tif here")
	flag.StringVar(&o.products, "products", "", "YAML product overrides")
	flag.StringVar(&o.region, "s3-region", "us-east-1", "S3 region for s3:// scenes")
	flag.StringVar(&o.endpoint, "s3-endpoint", "", "S3-compatible endpoint")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "at least one scene is required")
		os.Exit(2)
	}
	if o.format != "text" && o.format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format %q\n", o.format)
		os.Exit(2)
	}

	if failed := run(context.Background(), o, flag.Args(), os.Stdout); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d scenes failed\n", failed, flag.NArg())
		os.Exit(1)
	}
}

// run assesses every scene in order and returns the number that failed.
func run(ctx context.Context, o options, scenes []string, out io.Writer) int {
	cfg := &config.Config{
		LogLevel:        o.logLevel,
		LogFormat:       "text",
		NightOnly:       o.nightOnly,
		QualityFallback: o.fallback,
		ProductsFile:    o.products,
		S3Region:        o.region,
		S3Endpoint:      o.endpoint,
	}
	variant, err := domain.ParseVariant(o.variant)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return len(scenes)
	}
	cfg.DefaultVariant = variant

	logger := observability.NewLogger(cfg)
	tfm, err := app.Transformer(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return len(scenes)
	}

	failed := 0
	for i, scene := range scenes {
		if err := inspect(ctx, tfm, o, scene, out, i > 0); err != nil {
			logger.Error("inspect failed", "scene", scene, "class", observability.Classify(err), "error", err)
			failed++
		}
	}
	return failed
}

func inspect(ctx context.Context, tfm *pipeline.SceneTransformer, o options, scene string, out io.Writer, separate bool) error {
	a, err := tfm.Assess(ctx, domain.SceneRequest{Scene: scene})
	if err != nil {
		return err
	}

	if o.maskDir != "" {
		if err := writeMask(o.maskDir, scene, a); err != nil {
			return err
		}
	}

	if o.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a.Report)
	}
	if separate {
		fmt.Fprintln(out)
	}
	return render.Text(out, a.Report)
}

func writeMask(dir, scene string, a *domain.Assessment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mask dir: %w", err)
	}
	base := path.Base(strings.ReplaceAll(scene, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		return errors.New("cannot derive mask name from " + scene)
	}
	mask := a.Mask.Scene(base+"_mask", a.Report.Metadata)
	return geotiff.WriteFile(filepath.Join(dir, base+"_mask.tif"), mask, geotiff.EncodeOptions{Compression: geotiff.Deflate})
}
