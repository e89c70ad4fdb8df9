package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// Compression selects the codec used by Encode.
type Compression int

const (
	NoCompression Compression = iota
	Deflate
)

// EncodeOptions controls the layout Encode produces. The zero value writes
// one uncompressed strip per band, band-sequential.
type EncodeOptions struct {
	Compression Compression
	// Interleaved stores all bands of a pixel together instead of one plane
	// per band.
	Interleaved bool
	// TileSize, when positive, writes square tiles instead of strips. TIFF
	// requires a multiple of 16.
	TileSize int
	// RowsPerStrip bounds strip height; 0 means one strip per plane.
	RowsPerStrip int
	// Predictor enables horizontal differencing for integer samples.
	Predictor bool
}

// Encode writes the scene as a little-endian GeoTIFF. All bands must share
// the first band's data type and dimensions. The first band's NoData value,
// when set, is written as the GDAL nodata tag.
func Encode(w io.Writer, scene *raster.Scene, opts EncodeOptions) error {
	if len(scene.Bands) == 0 {
		return errors.New("encode: scene has no bands")
	}
	if err := scene.Validate(len(scene.Bands)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	dtype := scene.Bands[0].Type
	for _, b := range scene.Bands[1:] {
		if b.Type != dtype {
			return fmt.Errorf("encode: band %d is %s, band 1 is %s", b.Index, b.Type, dtype)
		}
	}
	format, err := sampleFormatOf(dtype)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if opts.TileSize > 0 && opts.TileSize%16 != 0 {
		return fmt.Errorf("encode: tile size %d is not a multiple of 16", opts.TileSize)
	}
	if opts.Predictor && !dtype.IsInteger() {
		return fmt.Errorf("encode: predictor requires integer samples, have %s", dtype)
	}

	order := binary.LittleEndian
	width, height := scene.Meta.Width, scene.Meta.Height
	spp := len(scene.Bands)
	bs := dtype.Bits() / 8

	chunkW, chunkH := width, height
	if opts.TileSize > 0 {
		chunkW, chunkH = opts.TileSize, opts.TileSize
	} else if opts.RowsPerStrip > 0 && opts.RowsPerStrip < height {
		chunkH = opts.RowsPerStrip
	}
	across := (width + chunkW - 1) / chunkW
	down := (height + chunkH - 1) / chunkH

	planes := 1
	perChunk := spp
	if !opts.Interleaved {
		planes, perChunk = spp, 1
	}

	var body bytes.Buffer
	var offsets, counts []uint32
	for p := 0; p < planes; p++ {
		for ty := 0; ty < down; ty++ {
			for tx := 0; tx < across; tx++ {
				rows := chunkH
				if opts.TileSize == 0 && (ty+1)*chunkH > height {
					rows = height - ty*chunkH
				}
				raw := make([]byte, chunkW*rows*perChunk*bs)
				for cy := 0; cy < rows; cy++ {
					y := ty*chunkH + cy
					for cx := 0; cx < chunkW; cx++ {
						x := tx*chunkW + cx
						if x >= width || y >= height {
							continue
						}
						for s := 0; s < perChunk; s++ {
							band := scene.Bands[p+s]
							pos := ((cy*chunkW+cx)*perChunk + s) * bs
							putSample(order, dtype, raw[pos:pos+bs], band.Data[y*width+x])
						}
					}
				}
				if opts.Predictor {
					applyHorizontal(raw, order, bs, chunkW*perChunk, perChunk)
				}
				data, err := compress(raw, opts.Compression)
				if err != nil {
					return fmt.Errorf("encode: %w", err)
				}
				offsets = append(offsets, uint32(8+body.Len()))
				counts = append(counts, uint32(len(data)))
				body.Write(data)
				if body.Len()%2 == 1 {
					body.WriteByte(0)
				}
			}
		}
	}

	entries := []ifdEntry{
		shorts(tagImageWidth, uint16(width)),
		shorts(tagImageLength, uint16(height)),
		shorts(tagBitsPerSample, repeat(uint16(bs*8), spp)...),
		shorts(tagCompression, compressionCode(opts.Compression)),
		shorts(tagPhotometricInterpretation, 1),
		shorts(tagSamplesPerPixel, uint16(spp)),
		shorts(tagPlanarConfiguration, planarCode(opts.Interleaved)),
		shorts(tagSampleFormat, repeat(format, spp)...),
	}
	if width > math.MaxUint16 || height > math.MaxUint16 {
		entries[0] = longs(tagImageWidth, uint32(width))
		entries[1] = longs(tagImageLength, uint32(height))
	}
	if opts.Predictor {
		entries = append(entries, shorts(tagPredictor, predictorHorizontal))
	}
	if opts.TileSize > 0 {
		entries = append(entries,
			shorts(tagTileWidth, uint16(chunkW)),
			shorts(tagTileLength, uint16(chunkH)),
			longs(tagTileOffsets, offsets...),
			longs(tagTileByteCounts, counts...),
		)
	} else {
		entries = append(entries,
			longs(tagRowsPerStrip, uint32(chunkH)),
			longs(tagStripOffsets, offsets...),
			longs(tagStripByteCounts, counts...),
		)
	}
	entries = append(entries, geoEntries(scene.Meta)...)
	if nd := scene.Bands[0].NoData; nd != nil {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(*nd, 'g', -1, 64)))
	}

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, order, uint16(42))
	_ = binary.Write(&out, order, uint32(8+body.Len()))
	out.Write(body.Bytes())
	writeIFD(&out, order, entries)

	_, err = w.Write(out.Bytes())
	return err
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(tag uint16, v ...uint16) ifdEntry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[i*2:], x)
	}
	return ifdEntry{tag: tag, typ: dtShort, count: uint32(len(v)), data: b}
}

func longs(tag uint16, v ...uint32) ifdEntry {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], x)
	}
	return ifdEntry{tag: tag, typ: dtLong, count: uint32(len(v)), data: b}
}

func doubles(tag uint16, v ...float64) ifdEntry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(x))
	}
	return ifdEntry{tag: tag, typ: dtDouble, count: uint32(len(v)), data: b}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: dtASCII, count: uint32(len(b)), data: b}
}

func repeat(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// writeIFD appends the directory at the current end of buf, followed by the
// out-of-line values it points to. Entries are sorted by tag as TIFF requires.
func writeIFD(buf *bytes.Buffer, order binary.ByteOrder, entries []ifdEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	start := buf.Len()
	overflow := start + 2 + 12*len(entries) + 4
	var extra bytes.Buffer

	_ = binary.Write(buf, order, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(buf, order, e.tag)
		_ = binary.Write(buf, order, e.typ)
		_ = binary.Write(buf, order, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
			continue
		}
		_ = binary.Write(buf, order, uint32(overflow+extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	_ = binary.Write(buf, order, uint32(0)) // no further IFDs
	buf.Write(extra.Bytes())
}

// geoEntries writes the pixel scale, tiepoint, and an EPSG GeoKey directory
// when the metadata carries them.
func geoEntries(meta raster.Metadata) []ifdEntry {
	var out []ifdEntry
	if meta.PixelSize[0] > 0 && meta.PixelSize[1] > 0 {
		out = append(out,
			doubles(tagModelPixelScale, meta.PixelSize[0], meta.PixelSize[1], 0),
			doubles(tagModelTiepoint, 0, 0, 0, meta.Bounds.Min[0], meta.Bounds.Max[1], 0),
		)
	}
	code, ok := strings.CutPrefix(meta.CRS, "EPSG:")
	if !ok {
		return out
	}
	epsg, err := strconv.ParseUint(code, 10, 16)
	if err != nil {
		return out
	}
	key := uint16(geoKeyProjectedCSType)
	if epsg == 4326 || (epsg >= 4000 && epsg < 5000) {
		key = geoKeyGeographicType
	}
	// Version 1.1.0 with two keys: GTModelType and the CRS code.
	model := uint16(1) // projected
	if key == geoKeyGeographicType {
		model = 2
	}
	return append(out, shorts(tagGeoKeyDirectory,
		1, 1, 0, 2,
		1024, 0, 1, model,
		key, 0, 1, uint16(epsg),
	))
}

func sampleFormatOf(t raster.DataType) (uint16, error) {
	switch t {
	case raster.Uint8, raster.Uint16, raster.Uint32:
		return sampleFormatUint, nil
	case raster.Int8, raster.Int16, raster.Int32:
		return sampleFormatInt, nil
	case raster.Float32, raster.Float64:
		return sampleFormatFloat, nil
	default:
		return 0, fmt.Errorf("unsupported data type %s", t)
	}
}

func compressionCode(c Compression) uint16 {
	if c == Deflate {
		return compressionAdobeDeflate
	}
	return compressionNone
}

func planarCode(interleaved bool) uint16 {
	if interleaved {
		return planarChunky
	}
	return planarSeparate
}

func compress(raw []byte, c Compression) ([]byte, error) {
	if c != Deflate {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

// applyHorizontal is the forward form of undoHorizontal: rows are processed
// right to left so each sample is differenced against its original neighbour.
func applyHorizontal(buf []byte, order binary.ByteOrder, bytesPerSample, samplesPerRow, stride int) {
	rowBytes := samplesPerRow * bytesPerSample
	for rowStart := 0; rowStart+rowBytes <= len(buf); rowStart += rowBytes {
		row := buf[rowStart : rowStart+rowBytes]
		for s := samplesPerRow - 1; s >= stride; s-- {
			cur := row[s*bytesPerSample : (s+1)*bytesPerSample]
			prev := row[(s-stride)*bytesPerSample : (s-stride+1)*bytesPerSample]
			switch bytesPerSample {
			case 1:
				cur[0] -= prev[0]
			case 2:
				order.PutUint16(cur, order.Uint16(cur)-order.Uint16(prev))
			case 4:
				order.PutUint32(cur, order.Uint32(cur)-order.Uint32(prev))
			}
		}
	}
}

func putSample(order binary.ByteOrder, t raster.DataType, b []byte, v float64) {
	switch t {
	case raster.Uint8:
		b[0] = uint8(v)
	case raster.Int8:
		b[0] = uint8(int8(v))
	case raster.Uint16:
		order.PutUint16(b, uint16(v))
	case raster.Int16:
		order.PutUint16(b, uint16(int16(v)))
	case raster.Uint32:
		order.PutUint32(b, uint32(v))
	case raster.Int32:
		order.PutUint32(b, uint32(int32(v)))
	case raster.Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case raster.Float64:
		order.PutUint64(b, math.Float64bits(v))
	}
}
