// Command genmock writes synthetic VIIRS scenes as GeoTIFFs, named
// <REGION>_<YYYY-MM-DD>.tif, for demos and end-to-end runs. Flags are drawn
// from a seeded generator, so the same flags always produce the same files.
// Optionally it also writes the matching scene requests as JSON lines, ready
// to publish to the request topic.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/scenes \
//	  -regions NJ,PA -start 2021-03-01 -days 7 \
//	  -requests-out data/mock/requests.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
	"github.com/couchcryptid/nightlight-qc/internal/raster/geotiff"
	"github.com/couchcryptid/nightlight-qc/internal/synth"
)

// regionOrigins places each region's tile at a plausible upper-left corner.
var regionOrigins = map[string]orb.Point{
	"NJ": {-75.6, 41.4},
	"PA": {-80.5, 42.3},
	"NY": {-79.8, 45.0},
	"DE": {-75.8, 39.8},
}

type options struct {
	out         string
	requestsOut string
	variant     domain.Variant
	regions     []string
	start       time.Time
	days        int
	seed        uint64
	synth       synth.Options
	encode      geotiff.EncodeOptions
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for GeoTIFF scenes")
	requestsOut := flag.String("requests-out", "", "optional JSON-lines file of scene requests")
	variant := flag.String("variant", string(domain.SevenBand), "product variant: seven_band or four_band")
	regions := flag.String("regions", "NJ", "comma-separated region codes")
	start := flag.String("start", "2021-03-01", "first scene date (YYYY-MM-DD)")
	days := flag.Int("days", 3, "consecutive dates per region")
	seed := flag.Uint64("seed", 1, "random seed")
	size := flag.Int("size", 32, "scene width and height in pixels")
	cloudy := flag.Float64("cloudy", 0.2, "probability a pixel is cloudy")
	day := flag.Float64("day", 0.1, "probability a pixel is daytime")
	snow := flag.Float64("snow", 0.05, "probability a pixel is snow-covered")
	deflate := flag.Bool("deflate", true, "deflate-compress the scenes")
	tile := flag.Int("tile", 0, "tile size (multiple of 16); 0 writes strips")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	o, err := parseOptions(*out, *requestsOut, *variant, *regions, *start, *days, *seed)
	if err != nil {
		return err
	}
	o.synth = synth.DefaultOptions()
	o.synth.Width, o.synth.Height = *size, *size
	o.synth.CloudyFraction, o.synth.DayFraction, o.synth.SnowFraction = *cloudy, *day, *snow
	o.encode.TileSize = *tile
	if *deflate {
		o.encode.Compression = geotiff.Deflate
	}

	written, err := generate(o)
	if err != nil {
		return err
	}
	log.Printf("wrote %d scenes to %s", len(written), o.out)

	if o.requestsOut != "" {
		if err := writeRequests(o.requestsOut, o.variant, written); err != nil {
			return fmt.Errorf("writing requests: %w", err)
		}
		log.Printf("wrote requests: %s", o.requestsOut)
	}
	return nil
}

func parseOptions(out, requestsOut, variant, regions, start string, days int, seed uint64) (options, error) {
	v, err := domain.ParseVariant(variant)
	if err != nil {
		return options{}, err
	}
	first, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return options{}, fmt.Errorf("invalid -start: %w", err)
	}
	if days <= 0 {
		return options{}, fmt.Errorf("-days must be positive")
	}
	var codes []string
	for _, r := range strings.Split(regions, ",") {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			codes = append(codes, r)
		}
	}
	if len(codes) == 0 {
		return options{}, fmt.Errorf("no regions given")
	}
	return options{
		out:         out,
		requestsOut: requestsOut,
		variant:     v,
		regions:     codes,
		start:       first,
		days:        days,
		seed:        seed,
	}, nil
}

// generate writes one scene per region and date and returns their paths in
// generation order.
func generate(o options) ([]string, error) {
	product, err := domain.DefaultProduct(o.variant)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var written []string
	seed := o.seed
	for _, region := range o.regions {
		so := o.synth
		if origin, ok := regionOrigins[region]; ok {
			so.Origin = origin
		}
		for d := range o.days {
			name := fmt.Sprintf("%s_%s", region, o.start.AddDate(0, 0, d).Format(time.DateOnly))
			scene, err := synth.Random(name, product, seed, so)
			if err != nil {
				return nil, err
			}
			seed++
			path := filepath.Join(o.out, name+".tif")
			// Encode needs one sample type; float32 holds every flag word exactly.
			if err := geotiff.WriteFile(path, scene.WithType(raster.Float32), o.encode); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			written = append(written, path)
		}
	}
	return written, nil
}

func writeRequests(path string, variant domain.Variant, scenes []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, s := range scenes {
		if err := enc.Encode(domain.SceneRequest{Scene: s, Variant: string(variant)}); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
